package gateways

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/ochairo/kiln/internal/domain/entities"
	"github.com/ochairo/kiln/internal/domain/services"
)

// Digester computes, writes and verifies archive checksum files
type Digester struct{}

// NewDigester creates a new digester
func NewDigester() *Digester {
	return &Digester{}
}

func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case entities.DigestSHA256:
		return sha256.New(), nil
	case entities.DigestSHA512:
		return sha512.New(), nil
	case entities.DigestBLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm: %q", algorithm)
	}
}

// Sum hashes the file at path
func (d *Digester) Sum(ctx context.Context, path, algorithm string) (string, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return "", err
	}

	//nolint:gosec // G304: path is the archive produced by this run
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: f}); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Write hashes archivePath and writes "<archive>.<algorithm>" next to it
func (d *Digester) Write(ctx context.Context, archivePath, algorithm string) (*entities.DigestFile, error) {
	sum, err := d.Sum(ctx, archivePath, algorithm)
	if err != nil {
		return nil, err
	}

	digestPath := archivePath + "." + algorithm
	line := services.FormatDigestLine(sum, filepath.Base(archivePath))
	if err := os.WriteFile(digestPath, []byte(line), 0600); err != nil {
		return nil, fmt.Errorf("failed to write %s file: %w", algorithm, err)
	}

	return &entities.DigestFile{
		Path:      digestPath,
		Algorithm: algorithm,
		Sum:       sum,
	}, nil
}

// AlgorithmFromPath infers the digest algorithm from a checksum file suffix
func AlgorithmFromPath(digestPath string) (string, error) {
	ext := strings.TrimPrefix(filepath.Ext(digestPath), ".")
	if _, err := newHash(ext); err != nil {
		return "", fmt.Errorf("cannot infer digest algorithm from %s: %w", filepath.Base(digestPath), err)
	}
	return ext, nil
}

// Verify re-hashes the archive named in digestPath and compares the sums.
// The archive is looked up next to the checksum file.
func (d *Digester) Verify(ctx context.Context, digestPath string) (*entities.DigestFile, error) {
	algorithm, err := AlgorithmFromPath(digestPath)
	if err != nil {
		return nil, err
	}

	//nolint:gosec // G304: digestPath is user-provided for verification
	data, err := os.ReadFile(digestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read digest file: %w", err)
	}
	expected, filename, err := services.ParseDigestLine(strings.SplitN(string(data), "\n", 2)[0])
	if err != nil {
		return nil, err
	}

	archivePath := filepath.Join(filepath.Dir(digestPath), filepath.Base(filename))
	actual, err := d.Sum(ctx, archivePath, algorithm)
	if err != nil {
		return nil, err
	}
	if actual != expected {
		return nil, fmt.Errorf("checksum mismatch for %s: expected %s, got %s", filename, expected, actual)
	}

	return &entities.DigestFile{
		Path:      digestPath,
		Algorithm: algorithm,
		Sum:       actual,
	}, nil
}

// ctxReader stops a long hash when the run is cancelled
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
