package gateways

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/ochairo/kiln/internal/domain/interfaces"
	"github.com/ochairo/kiln/internal/domain/interfaces/gateways"
)

const manifestSuffix = ".manifest"

// cacheManifest sits next to each blob. Integer keys keep it compact.
type cacheManifest struct {
	Key         string `cbor:"1,keyasint"`
	CreatedAt   int64  `cbor:"2,keyasint"` // unix nanoseconds
	Size        int64  `cbor:"3,keyasint"`
	Hash        string `cbor:"4,keyasint"` // blake3 of the compressed blob
	Compression string `cbor:"5,keyasint"`
}

func (m *cacheManifest) entry() gateways.CacheEntry {
	return gateways.CacheEntry{
		Key:       m.Key,
		CreatedAt: time.Unix(0, m.CreatedAt),
		Size:      m.Size,
		Hash:      m.Hash,
	}
}

var manifestEncMode cbor.EncMode

func init() {
	var err error
	manifestEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
}

// FileCacheStore keeps directory snapshots as compressed tar blobs in a local
// directory. Blob names are blake3 hashes of the cache key.
type FileCacheStore struct {
	dir         string
	compression string
	level       int
	logger      interfaces.Logger
	now         func() time.Time
}

// NewFileCacheStore creates a cache store rooted at dir
func NewFileCacheStore(dir, compression string, logger interfaces.Logger) (*FileCacheStore, error) {
	if dir == "" {
		return nil, errors.New("cache store directory is empty")
	}
	if compression == "" {
		compression = CompressionZstd
	}
	if compression != CompressionZstd && compression != CompressionLZ4 {
		return nil, fmt.Errorf("unsupported cache compression: %q", compression)
	}
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &FileCacheStore{
		dir:         dir,
		compression: compression,
		level:       3,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func keyName(key string) string {
	sum := blake3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

func (s *FileCacheStore) blobPath(key, compression string) string {
	return filepath.Join(s.dir, keyName(key)+".tar."+compressionSuffix(compression))
}

func (s *FileCacheStore) manifestPath(key string) string {
	return filepath.Join(s.dir, keyName(key)+manifestSuffix)
}

func compressionSuffix(compression string) string {
	if compression == CompressionLZ4 {
		return "lz4"
	}
	return "zst"
}

func (s *FileCacheStore) readManifest(path string) (*cacheManifest, error) {
	//nolint:gosec // G304: manifest paths are derived inside the store directory
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m cacheManifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt cache manifest %s: %w", filepath.Base(path), err)
	}
	return &m, nil
}

// Restore extracts the snapshot for key into dest. A missing entry is a miss,
// not an error.
func (s *FileCacheStore) Restore(ctx context.Context, key, dest string) (bool, error) {
	manifest, err := s.readManifest(s.manifestPath(key))
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("cache miss", interfaces.F("key", key))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	blob := s.blobPath(key, manifest.Compression)
	//nolint:gosec // G304: blob path is derived inside the store directory
	file, err := os.Open(blob)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("cache manifest without blob, treating as miss", interfaces.F("key", key))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to open cache blob: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, &ctxReader{ctx: ctx, r: file}); err != nil {
		return false, fmt.Errorf("failed to read cache blob: %w", err)
	}
	if got := hex.EncodeToString(hasher.Sum(nil)); got != manifest.Hash {
		return false, fmt.Errorf("cache blob %q is corrupt: hash %s, manifest %s", key, got, manifest.Hash)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return false, fmt.Errorf("failed to rewind cache blob: %w", err)
	}

	reader, err := newDecompressor(&ctxReader{ctx: ctx, r: file}, manifest.Compression)
	if err != nil {
		return false, err
	}
	//nolint:errcheck // Defer close on decompressor
	defer reader.Close()

	if err := extractTar(reader, dest); err != nil {
		return false, fmt.Errorf("failed to extract cache %q: %w", key, err)
	}

	s.logger.Info("cache restored",
		interfaces.F("key", key),
		interfaces.F("size", manifest.Size),
		interfaces.F("age", s.now().Sub(time.Unix(0, manifest.CreatedAt)).Round(time.Second)))
	return true, nil
}

// Save snapshots src under key, replacing any previous entry
func (s *FileCacheStore) Save(ctx context.Context, key, src string) (*gateways.CacheEntry, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("cache path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("cache path %s is not a directory", src)
	}
	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".blob-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create cache blob: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	hasher := blake3.New()
	counter := &countingWriter{}
	compressor, err := newCompressor(io.MultiWriter(tmp, hasher, counter), s.compression, s.level)
	if err != nil {
		_ = tmp.Close()
		return nil, err
	}

	if err := writeTar(&ctxWriter{ctx: ctx, w: compressor}, src, ""); err != nil {
		_ = compressor.Close()
		_ = tmp.Close()
		return nil, fmt.Errorf("failed to snapshot %s: %w", src, err)
	}
	if err := compressor.Close(); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("failed to finish cache blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close cache blob: %w", err)
	}

	// Drop a blob written with another compression before replacing the entry
	if old, err := s.readManifest(s.manifestPath(key)); err == nil && old.Compression != s.compression {
		_ = os.Remove(s.blobPath(key, old.Compression))
	}

	if err := os.Rename(tmpPath, s.blobPath(key, s.compression)); err != nil {
		return nil, fmt.Errorf("failed to store cache blob: %w", err)
	}

	manifest := &cacheManifest{
		Key:         key,
		CreatedAt:   s.now().UnixNano(),
		Size:        counter.n,
		Hash:        hex.EncodeToString(hasher.Sum(nil)),
		Compression: s.compression,
	}
	if err := s.writeManifest(key, manifest); err != nil {
		return nil, err
	}

	entry := manifest.entry()
	s.logger.Info("cache saved", interfaces.F("key", key), interfaces.F("size", entry.Size))
	return &entry, nil
}

func (s *FileCacheStore) writeManifest(key string, m *cacheManifest) error {
	data, err := manifestEncMode.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode cache manifest: %w", err)
	}
	tmpPath := s.manifestPath(key) + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write cache manifest: %w", err)
	}
	if err := os.Rename(tmpPath, s.manifestPath(key)); err != nil {
		return fmt.Errorf("failed to store cache manifest: %w", err)
	}
	return nil
}

// List returns all entries, oldest first
func (s *FileCacheStore) List(_ context.Context) ([]gateways.CacheEntry, error) {
	manifests, err := s.manifests()
	if err != nil {
		return nil, err
	}

	entries := make([]gateways.CacheEntry, 0, len(manifests))
	for _, m := range manifests {
		entries = append(entries, m.entry())
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

// Purge removes entries created more than maxAge ago
func (s *FileCacheStore) Purge(ctx context.Context, maxAge time.Duration) (int, error) {
	manifests, err := s.manifests()
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, m := range manifests {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !time.Unix(0, m.CreatedAt).Before(cutoff) {
			continue
		}

		blobErr := os.Remove(s.blobPath(m.Key, m.Compression))
		if blobErr != nil && !errors.Is(blobErr, os.ErrNotExist) {
			errs = append(errs, blobErr)
			continue
		}
		if err := os.Remove(s.manifestPath(m.Key)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
		s.logger.Info("cache entry purged", interfaces.F("key", m.Key))
	}

	return removed, errors.Join(errs...)
}

func (s *FileCacheStore) manifests() ([]*cacheManifest, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var manifests []*cacheManifest
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), manifestSuffix) {
			continue
		}
		m, err := s.readManifest(filepath.Join(s.dir, de.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable cache manifest", interfaces.F("file", de.Name()), interfaces.Err(err))
			continue
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

type ctxWriter struct {
	ctx context.Context
	w   io.Writer
}

func (c *ctxWriter) Write(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.w.Write(p)
}
