package gateways

import (
	"context"
	"time"
)

// CacheEntry describes one stored snapshot
type CacheEntry struct {
	Key       string
	CreatedAt time.Time
	Size      int64
	Hash      string
}

// CacheStore is a key-value blob store for directory snapshots
type CacheStore interface {
	// Restore extracts the snapshot stored under key into dest.
	// Returns false (and no error) on a miss.
	Restore(ctx context.Context, key, dest string) (bool, error)

	// Save snapshots src under key, replacing any previous entry
	Save(ctx context.Context, key, src string) (*CacheEntry, error)

	// Purge removes entries created more than maxAge ago and returns how many
	Purge(ctx context.Context, maxAge time.Duration) (int, error)

	// List returns all stored entries
	List(ctx context.Context) ([]CacheEntry, error)
}
