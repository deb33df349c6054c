package orchestrators

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ochairo/kiln/internal/domain/entities"
	"github.com/ochairo/kiln/internal/domain/interfaces/gateways"
)

type mockFetcher struct {
	err   error
	calls int
}

func (m *mockFetcher) Fetch(_ context.Context, _ entities.SourceConfig, _, _ string) error {
	m.calls++
	return m.err
}

type mockCache struct {
	hit        bool
	restoreErr error
	saveErr    error
	purgeErr   error
	saved      []string
	purged     []time.Duration
}

func (m *mockCache) Restore(_ context.Context, _, _ string) (bool, error) {
	return m.hit, m.restoreErr
}

func (m *mockCache) Save(_ context.Context, key, src string) (*gateways.CacheEntry, error) {
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	m.saved = append(m.saved, src)
	return &gateways.CacheEntry{Key: key, Size: 42}, nil
}

func (m *mockCache) Purge(_ context.Context, maxAge time.Duration) (int, error) {
	m.purged = append(m.purged, maxAge)
	return 1, m.purgeErr
}

func (m *mockCache) List(_ context.Context) ([]gateways.CacheEntry, error) {
	return nil, nil
}

type mockWorkspace struct {
	removeErr   error
	installErr  error
	relocateErr error
	removed     []string
	installed   [][2]string
	relocated   [][2]string
	moved       []string
}

func (m *mockWorkspace) RemovePaths(_ string, paths []string) error {
	m.removed = append(m.removed, paths...)
	return m.removeErr
}

func (m *mockWorkspace) InstallConfig(template, dest string) error {
	m.installed = append(m.installed, [2]string{template, dest})
	return m.installErr
}

func (m *mockWorkspace) Relocate(src, dest string) error {
	m.relocated = append(m.relocated, [2]string{src, dest})
	return m.relocateErr
}

func (m *mockWorkspace) MoveFile(src, destDir string) (string, error) {
	m.moved = append(m.moved, src)
	dest := filepath.Join(destDir, filepath.Base(src))
	if err := os.Rename(src, dest); err != nil {
		return "", err
	}
	return dest, nil
}

type mockBuilder struct {
	err   error
	calls int
}

func (m *mockBuilder) RunBuild(_ context.Context, _ string, _ entities.BuildConfig) error {
	m.calls++
	return m.err
}

type mockPackager struct {
	err   error
	calls int
}

func (m *mockPackager) Pack(_ context.Context, _, archivePath, codec string, _ int) (*entities.Artifact, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if err := os.MkdirAll(filepath.Dir(archivePath), 0750); err != nil {
		return nil, err
	}
	writeAsset(filepath.Dir(archivePath), filepath.Base(archivePath), "archive bytes")
	return &entities.Artifact{Name: filepath.Base(archivePath), Path: archivePath, Codec: codec, Size: 13}, nil
}

type mockDigester struct {
	err error
}

func (m *mockDigester) Write(_ context.Context, archivePath, algorithm string) (*entities.DigestFile, error) {
	if m.err != nil {
		return nil, m.err
	}
	path := writeAsset(filepath.Dir(archivePath), filepath.Base(archivePath)+"."+algorithm, "abc123  "+filepath.Base(archivePath)+"\n")
	return &entities.DigestFile{Path: path, Algorithm: algorithm, Sum: "abc123"}, nil
}

type mockSigner struct {
	signed []string
}

func (m *mockSigner) Sign(_ context.Context, path string) (string, error) {
	m.signed = append(m.signed, path)
	return writeAsset(filepath.Dir(path), filepath.Base(path)+".asc", "signature"), nil
}

// fakeReleases is an in-memory release host
type fakeReleases struct {
	mu        sync.Mutex
	listed    []*gateways.GitHubRelease
	listErr   error
	releases  map[string]*gateways.GitHubRelease
	assets    map[int64][]*gateways.GitHubAsset
	uploadErr error
	uploaded  map[string]string
	deleted   []int64
	created   int
	updated   int
	nextID    int64
}

func newFakeReleases() *fakeReleases {
	return &fakeReleases{
		releases: map[string]*gateways.GitHubRelease{},
		assets:   map[int64][]*gateways.GitHubAsset{},
		uploaded: map[string]string{},
		nextID:   100,
	}
}

func (f *fakeReleases) ListReleases(_ context.Context, _, _ string) ([]*gateways.GitHubRelease, error) {
	return f.listed, f.listErr
}

func (f *fakeReleases) GetRelease(_ context.Context, _, _, tag string) (*gateways.GitHubRelease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.releases[tag]
	if !ok {
		return nil, fmt.Errorf("%s: %w", tag, gateways.ErrReleaseNotFound)
	}
	copied := *r
	return &copied, nil
}

func (f *fakeReleases) CreateRelease(_ context.Context, owner, repo string, release *gateways.GitHubRelease) (*gateways.GitHubRelease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	f.nextID++
	created := *release
	created.ID = f.nextID
	created.HTMLURL = fmt.Sprintf("https://github.com/%s/%s/releases/tag/%s", owner, repo, release.TagName)
	created.UploadURL = fmt.Sprintf("https://uploads.github.com/repos/%s/%s/releases/%d/assets{?name,label}", owner, repo, created.ID)
	f.releases[release.TagName] = &created
	copied := created
	return &copied, nil
}

func (f *fakeReleases) UpdateRelease(_ context.Context, _, _ string, release *gateways.GitHubRelease) (*gateways.GitHubRelease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated++
	updated := *release
	f.releases[release.TagName] = &updated
	copied := updated
	return &copied, nil
}

func (f *fakeReleases) UploadAsset(_ context.Context, _, filename string, content io.Reader) (*gateways.GitHubAsset, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded[filename] = string(data)
	return &gateways.GitHubAsset{Name: filename, Size: int64(len(data)), State: "uploaded"}, nil
}

func (f *fakeReleases) ListReleaseAssets(_ context.Context, _, _ string, releaseID int64) ([]*gateways.GitHubAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assets[releaseID], nil
}

func (f *fakeReleases) DeleteAsset(_ context.Context, _, _ string, assetID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, assetID)
	return nil
}

func writeAsset(dir, name, content string) string {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		panic(err)
	}
	return path
}
