package gateways

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Stream compression names shared by the packager and the cache store
const (
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// lz4Levels maps the 0..9 level scale onto lz4 frame levels
var lz4Levels = [...]lz4.CompressionLevel{
	lz4.Fast,
	lz4.Level1, lz4.Level2, lz4.Level3,
	lz4.Level4, lz4.Level5, lz4.Level6,
	lz4.Level7, lz4.Level8, lz4.Level9,
}

// zstdLevels maps the 0..9 level scale onto zstd encoder speeds
var zstdLevels = [...]zstd.EncoderLevel{
	zstd.SpeedFastest, zstd.SpeedFastest,
	zstd.SpeedDefault, zstd.SpeedDefault, zstd.SpeedDefault,
	zstd.SpeedBetterCompression, zstd.SpeedBetterCompression, zstd.SpeedBetterCompression,
	zstd.SpeedBestCompression, zstd.SpeedBestCompression,
}

// newCompressor wraps w with the named stream compressor. level uses the
// archiver's 0..9 scale and is mapped onto each codec's own levels.
func newCompressor(w io.Writer, compression string, level int) (io.WriteCloser, error) {
	level = clampLevel(level)

	switch compression {
	case CompressionZstd, "":
		encoder, err := zstd.NewWriter(w,
			zstd.WithEncoderLevel(zstdLevels[level]),
		)
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return encoder, nil

	case CompressionLZ4:
		writer := lz4.NewWriter(w)
		if err := writer.Apply(lz4.CompressionLevelOption(lz4Levels[level])); err != nil {
			return nil, fmt.Errorf("lz4 encoder: %w", err)
		}
		return writer, nil

	default:
		return nil, fmt.Errorf("unsupported compression: %q", compression)
	}
}

// newDecompressor wraps r with the named stream decompressor
func newDecompressor(r io.Reader, compression string) (io.ReadCloser, error) {
	switch compression {
	case CompressionZstd, "":
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		return decoder.IOReadCloser(), nil

	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil

	default:
		return nil, fmt.Errorf("unsupported compression: %q", compression)
	}
}

func clampLevel(level int) int {
	switch {
	case level < 0:
		return 0
	case level > 9:
		return 9
	default:
		return level
	}
}
