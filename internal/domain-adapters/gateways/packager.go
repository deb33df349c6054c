package gateways

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ochairo/kiln/internal/domain/entities"
	"github.com/ochairo/kiln/internal/domain/interfaces"
)

// Packager archives the relocated build output into a single release file
type Packager struct {
	executor *CommandExecutor
	logger   interfaces.Logger
	// SevenZip is the archiver binary used for the 7z codec
	SevenZip string
}

// NewPackager creates a new packager
func NewPackager(executor *CommandExecutor, logger interfaces.Logger) *Packager {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &Packager{
		executor: executor,
		logger:   logger,
		SevenZip: "7z",
	}
}

// Pack archives inputDir into archivePath. The archive holds one top-level
// directory named after inputDir.
func (p *Packager) Pack(ctx context.Context, inputDir, archivePath, codec string, level int) (*entities.Artifact, error) {
	info, err := os.Stat(inputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat package input: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("package input %s is not a directory", inputDir)
	}
	if level < 0 || level > 9 {
		return nil, fmt.Errorf("compression level %d out of range 0..9", level)
	}

	if err := os.MkdirAll(filepath.Dir(archivePath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	// 7z appends to an existing archive, tar codecs truncate; start clean for both
	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale archive: %w", err)
	}

	p.logger.Info("packaging",
		interfaces.F("input", inputDir),
		interfaces.F("archive", archivePath),
		interfaces.F("codec", codec),
		interfaces.F("level", level))

	switch codec {
	case entities.Codec7z:
		err = p.pack7z(ctx, inputDir, archivePath, level)
	case entities.CodecTarZst:
		err = p.packTar(inputDir, archivePath, CompressionZstd, level)
	case entities.CodecTarLZ4:
		err = p.packTar(inputDir, archivePath, CompressionLZ4, level)
	default:
		err = fmt.Errorf("unsupported archive codec: %q", codec)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	stat, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("archive was not written: %w", err)
	}

	return &entities.Artifact{
		Name:  filepath.Base(archivePath),
		Path:  archivePath,
		Codec: codec,
		Size:  stat.Size(),
	}, nil
}

// pack7z runs the external archiver with a delta filter in front of LZMA2
func (p *Packager) pack7z(ctx context.Context, inputDir, archivePath string, level int) error {
	absArchive, err := filepath.Abs(archivePath)
	if err != nil {
		return err
	}
	absInput, err := filepath.Abs(inputDir)
	if err != nil {
		return err
	}

	return p.executor.Run(ctx, ExecuteConfig{
		Command: p.SevenZip,
		Args: []string{
			"a", "-t7z",
			"-m0=Delta", "-m1=LZMA2",
			"-mx=" + strconv.Itoa(level),
			"-bd", "-y",
			absArchive,
			filepath.Base(absInput),
		},
		WorkingDir:  filepath.Dir(absInput),
		Description: "7z archive",
	})
}

// packTar writes a compressed tar of inputDir
func (p *Packager) packTar(inputDir, archivePath, compression string, level int) error {
	//nolint:gosec // G304: archivePath is constructed for package output
	file, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}

	compressor, err := newCompressor(file, compression, level)
	if err != nil {
		_ = file.Close()
		return err
	}

	prefix := filepath.Base(filepath.Clean(inputDir))
	if err := writeTar(compressor, inputDir, prefix); err != nil {
		_ = compressor.Close()
		_ = file.Close()
		return err
	}
	if err := compressor.Close(); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to finish %s stream: %w", compression, err)
	}
	return file.Close()
}
