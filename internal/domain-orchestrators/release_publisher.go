package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/ochairo/kiln/internal/domain/entities"
	"github.com/ochairo/kiln/internal/domain/interfaces"
	"github.com/ochairo/kiln/internal/domain/interfaces/gateways"
	"github.com/ochairo/kiln/internal/domain/services"
)

// ReleasePublisher creates or updates the release for a tag and attaches files
type ReleasePublisher struct {
	gateway     gateways.ReleaseGateway
	service     *services.ReleaseService
	config      entities.ReleaseConfig
	concurrency int
	logger      interfaces.Logger
}

// PublishResult describes what ended up on the release page
type PublishResult struct {
	Release  *gateways.GitHubRelease
	Created  bool
	Assets   []*gateways.GitHubAsset
	Replaced []string
}

// NewReleasePublisher creates a publisher for the configured repository
func NewReleasePublisher(gateway gateways.ReleaseGateway, config entities.ReleaseConfig, logger interfaces.Logger) *ReleasePublisher {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	concurrency := config.UploadConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &ReleasePublisher{
		gateway:     gateway,
		service:     services.NewReleaseService(config),
		config:      config,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Publish makes sure a release exists for meta.Tag, appends the generated
// body, sets the prerelease flag and uploads files. Assets with the same
// name are replaced.
func (p *ReleasePublisher) Publish(ctx context.Context, meta *entities.ReleaseMetadata, files []string) (*PublishResult, error) {
	if meta == nil || meta.Tag == "" {
		return nil, errors.New("release metadata is missing a tag")
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return nil, fmt.Errorf("release asset: %w", err)
		}
	}

	body := p.service.ReleaseBody(meta)
	result := &PublishResult{}

	release, err := p.findRelease(ctx, meta.Tag)
	switch {
	case errors.Is(err, gateways.ErrReleaseNotFound):
		release, err = p.gateway.CreateRelease(ctx, p.config.Owner, p.config.Repo, &gateways.GitHubRelease{
			TagName:    meta.Tag,
			Name:       meta.Tag,
			Body:       body,
			Draft:      p.config.Draft,
			Prerelease: meta.Prerelease,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create release %s: %w", meta.Tag, err)
		}
		result.Created = true
		p.logger.Info("release created", interfaces.F("tag", meta.Tag), interfaces.F("url", release.HTMLURL))
	case err != nil:
		return nil, fmt.Errorf("failed to look up release %s: %w", meta.Tag, err)
	default:
		update := *release
		update.Body = services.AppendBody(release.Body, body)
		update.Prerelease = meta.Prerelease
		release, err = p.gateway.UpdateRelease(ctx, p.config.Owner, p.config.Repo, &update)
		if err != nil {
			return nil, fmt.Errorf("failed to update release %s: %w", meta.Tag, err)
		}
		p.logger.Info("release updated", interfaces.F("tag", meta.Tag), interfaces.F("url", release.HTMLURL))
	}
	result.Release = release

	existing, err := p.gateway.ListReleaseAssets(ctx, p.config.Owner, p.config.Repo, release.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list release assets: %w", err)
	}
	byName := make(map[string]int64, len(existing))
	for _, a := range existing {
		byName[a.Name] = a.ID
	}

	var mu sync.Mutex
	uploads := pool.New().WithMaxGoroutines(p.concurrency).WithErrors().WithContext(ctx)
	for _, path := range files {
		name := filepath.Base(path)
		oldID, replace := byName[name]

		uploads.Go(func(ctx context.Context) error {
			if replace {
				if err := p.gateway.DeleteAsset(ctx, p.config.Owner, p.config.Repo, oldID); err != nil {
					return fmt.Errorf("failed to delete old asset %s: %w", name, err)
				}
			}

			asset, err := p.upload(ctx, release.UploadURL, path)
			if err != nil {
				return err
			}

			mu.Lock()
			result.Assets = append(result.Assets, asset)
			if replace {
				result.Replaced = append(result.Replaced, name)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := uploads.Wait(); err != nil {
		return result, err
	}

	return result, nil
}

// findRelease looks the tag up directly, then in the release list. The tag
// endpoint never returns drafts.
func (p *ReleasePublisher) findRelease(ctx context.Context, tag string) (*gateways.GitHubRelease, error) {
	release, err := p.gateway.GetRelease(ctx, p.config.Owner, p.config.Repo, tag)
	if !errors.Is(err, gateways.ErrReleaseNotFound) {
		return release, err
	}

	listed, listErr := p.gateway.ListReleases(ctx, p.config.Owner, p.config.Repo)
	if listErr != nil {
		return nil, fmt.Errorf("failed to list releases: %w", listErr)
	}
	for _, r := range listed {
		if r.TagName == tag {
			p.logger.Debug("found release in listing", interfaces.F("tag", tag), interfaces.F("draft", r.Draft))
			return r, nil
		}
	}
	return nil, err
}

func (p *ReleasePublisher) upload(ctx context.Context, uploadURL, path string) (*gateways.GitHubAsset, error) {
	//nolint:gosec // G304: path is an artifact produced by this run
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	name := filepath.Base(path)
	asset, err := p.gateway.UploadAsset(ctx, uploadURL, name, f)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, err)
	}
	p.logger.Info("asset uploaded", interfaces.F("name", asset.Name), interfaces.F("size", asset.Size))
	return asset, nil
}
