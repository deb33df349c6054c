// Package gateways defines interfaces for external service adapters.
package gateways

import (
	"context"
	"io"
)

// GitHubRelease represents a GitHub release
type GitHubRelease struct {
	ID          int64
	TagName     string
	Name        string
	Body        string
	Draft       bool
	Prerelease  bool
	CreatedAt   string
	PublishedAt string
	HTMLURL     string
	UploadURL   string
}

// GitHubAsset represents an uploaded release asset
type GitHubAsset struct {
	ID                 int64
	Name               string
	Label              string
	State              string
	Size               int64
	DownloadCount      int
	BrowserDownloadURL string
}

// ReleaseGateway defines the release-hosting operations the pipeline needs
type ReleaseGateway interface {
	// ListReleases returns releases newest first, as the API orders them
	ListReleases(ctx context.Context, owner, repo string) ([]*GitHubRelease, error)

	// GetRelease retrieves a release by tag name. Returns ErrReleaseNotFound when absent.
	GetRelease(ctx context.Context, owner, repo, tag string) (*GitHubRelease, error)

	// CreateRelease creates a new release
	CreateRelease(ctx context.Context, owner, repo string, release *GitHubRelease) (*GitHubRelease, error)

	// UpdateRelease edits body, name and flags of an existing release
	UpdateRelease(ctx context.Context, owner, repo string, release *GitHubRelease) (*GitHubRelease, error)

	// UploadAsset uploads a file to a release
	UploadAsset(ctx context.Context, uploadURL, filename string, content io.Reader) (*GitHubAsset, error)

	// ListReleaseAssets lists all assets for a release
	ListReleaseAssets(ctx context.Context, owner, repo string, releaseID int64) ([]*GitHubAsset, error)

	// DeleteAsset removes an asset so a file with the same name can be re-uploaded
	DeleteAsset(ctx context.Context, owner, repo string, assetID int64) error
}
