package orchestrators

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ochairo/kiln/internal/domain/entities"
	"github.com/ochairo/kiln/internal/domain/interfaces/gateways"
)

type harness struct {
	workspace string
	fetcher   *mockFetcher
	cache     *mockCache
	ws        *mockWorkspace
	builder   *mockBuilder
	packager  *mockPackager
	digester  *mockDigester
	signer    *mockSigner
	releases  *fakeReleases
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		workspace: t.TempDir(),
		fetcher:   &mockFetcher{},
		cache:     &mockCache{},
		ws:        &mockWorkspace{},
		builder:   &mockBuilder{},
		packager:  &mockPackager{},
		digester:  &mockDigester{},
		signer:    &mockSigner{},
		releases:  newFakeReleases(),
	}
}

func (h *harness) pipeline() *entities.Pipeline {
	return &entities.Pipeline{
		Name:      "rust-win7",
		Workspace: h.workspace,
		Trigger:   entities.TriggerConfig{Tags: []string{"*.*"}},
		Source:    entities.SourceConfig{URL: "https://example.com/rust.git", Dir: "rust", Depth: 1},
		Cache: entities.CacheConfig{
			Enabled:            true,
			Key:                "toolchain-build",
			Path:               "build",
			Compression:        "zstd",
			RemovePaths:        []string{"build/stage0/rust-src/rust"},
			PurgeMaxAgeMinutes: 60,
		},
		Build: entities.BuildConfig{
			Tool:           "python",
			Args:           []string{"x.py", "dist", "--incremental", "--verbose"},
			ConfigTemplate: "config.win7.toml",
			ConfigFile:     "rust/config.toml",
			OutputDir:      "build/dist",
		},
		Package: entities.PackageConfig{
			Name:     "rust-{tag}",
			InputDir: "dist",
			Codec:    entities.Codec7z,
			Level:    5,
			Digest:   entities.DigestSHA256,
		},
		Release: entities.ReleaseConfig{
			Owner:             "acme",
			Repo:              "rust-win7",
			InstallURL:        "https://example.com/install",
			UploadConcurrency: 2,
		},
	}
}

func (h *harness) orchestrator(t *testing.T, p *entities.Pipeline) *PipelineOrchestrator {
	t.Helper()
	o, err := NewPipelineOrchestrator(p, PipelineDeps{
		Fetcher:   h.fetcher,
		Cache:     h.cache,
		Workspace: h.ws,
		Builder:   h.builder,
		Packager:  h.packager,
		Digester:  h.digester,
		Signer:    h.signer,
		Releases:  h.releases,
	})
	require.NoError(t, err)
	return o
}

func statuses(report *entities.RunReport) map[string]entities.StepStatus {
	out := make(map[string]entities.StepStatus, len(report.Steps))
	for _, s := range report.Steps {
		out[s.Name] = s.Status
	}
	return out
}

func names(report *entities.RunReport) []string {
	out := make([]string, 0, len(report.Steps))
	for _, s := range report.Steps {
		out = append(out, s.Name)
	}
	return out
}

func TestNewPipelineOrchestrator_Validation(t *testing.T) {
	h := newHarness(t)

	p := h.pipeline()
	p.Build.Tool = ""
	_, err := NewPipelineOrchestrator(p, PipelineDeps{})
	assert.ErrorContains(t, err, "build.tool")

	_, err = NewPipelineOrchestrator(h.pipeline(), PipelineDeps{Workspace: h.ws})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source fetcher")
	assert.Contains(t, err.Error(), "release gateway")

	p = h.pipeline()
	p.Package.Sign = true
	_, err = NewPipelineOrchestrator(p, PipelineDeps{
		Fetcher: h.fetcher, Cache: h.cache, Workspace: h.ws, Builder: h.builder,
		Packager: h.packager, Digester: h.digester, Releases: h.releases,
	})
	assert.ErrorContains(t, err, "signer")
}

func TestPipelineOrchestrator_Run_NotTriggered(t *testing.T) {
	for _, ref := range []string{"refs/heads/main", "refs/tags/nightly", ""} {
		t.Run(ref, func(t *testing.T) {
			h := newHarness(t)
			report, err := h.orchestrator(t, h.pipeline()).Run(context.Background(), RunOptions{Ref: ref})

			require.NoError(t, err)
			assert.False(t, report.Triggered)
			assert.Empty(t, report.Steps)
			assert.Zero(t, h.fetcher.calls)
		})
	}
}

func TestPipelineOrchestrator_Run_AllSteps(t *testing.T) {
	h := newHarness(t)
	h.releases.listed = []*gateways.GitHubRelease{{TagName: "1.2.0"}, {TagName: "1.1.0"}}

	report, err := h.orchestrator(t, h.pipeline()).Run(context.Background(), RunOptions{Ref: "refs/tags/1.2.0"})
	require.NoError(t, err)

	assert.True(t, report.Triggered)
	assert.True(t, report.Succeeded())
	assert.Equal(t, "1.2.0", report.Tag)
	assert.Equal(t, []string{
		StepFetchSource, StepRestoreCache, StepRemoveCacheSymlink, StepInstallConfig,
		StepBuild, StepRelocateOutput, StepPurgeCache, StepSaveCache,
		StepResolveRelease, StepPackage, StepPublish,
	}, names(report))

	// cache miss: purge is skipped, everything else runs
	got := statuses(report)
	assert.Equal(t, entities.StepSkipped, got[StepPurgeCache])
	for _, name := range []string{StepRestoreCache, StepBuild, StepSaveCache, StepPublish} {
		assert.Equal(t, entities.StepSucceeded, got[name], name)
	}

	assert.Equal(t, [][2]string{{
		filepath.Join(h.workspace, "config.win7.toml"),
		filepath.Join(h.workspace, "rust", "config.toml"),
	}}, h.ws.installed)
	assert.Equal(t, [][2]string{{
		filepath.Join(h.workspace, "rust", "build", "dist"),
		filepath.Join(h.workspace, "dist"),
	}}, h.ws.relocated)
	assert.Equal(t, []string{filepath.Join(h.workspace, "rust", "build")}, h.cache.saved)

	release := h.releases.releases["1.2.0"]
	require.NotNil(t, release)
	assert.False(t, release.Prerelease)
	assert.Contains(t, release.Body, "https://example.com/install")
	assert.Contains(t, release.Body, "**Full Changelog**: https://github.com/acme/rust-win7/compare/1.1.0...1.2.0")
	assert.Equal(t, "archive bytes", h.releases.uploaded["rust-1.2.0.7z"])
	assert.Contains(t, h.releases.uploaded["rust-1.2.0.7z.sha256"], "rust-1.2.0.7z")
}

func TestPipelineOrchestrator_Run_CacheMissIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.cache.hit = false

	report, err := h.orchestrator(t, h.pipeline()).Run(context.Background(), RunOptions{Ref: "refs/tags/1.0.0"})
	require.NoError(t, err)

	assert.Equal(t, entities.StepSucceeded, statuses(report)[StepRestoreCache])
	assert.Equal(t, 1, h.builder.calls)
	assert.Empty(t, h.cache.purged)
	assert.Len(t, h.cache.saved, 1)
}

func TestPipelineOrchestrator_Run_ToleratedFailures(t *testing.T) {
	h := newHarness(t)
	h.cache.hit = true
	h.cache.purgeErr = errors.New("store is read-only")
	h.ws.removeErr = errors.New("permission denied")

	report, err := h.orchestrator(t, h.pipeline()).Run(context.Background(), RunOptions{Ref: "refs/tags/1.0.0"})
	require.NoError(t, err)
	assert.True(t, report.Succeeded())

	got := statuses(report)
	assert.Equal(t, entities.StepTolerated, got[StepRemoveCacheSymlink])
	assert.Equal(t, entities.StepTolerated, got[StepPurgeCache])
	assert.Equal(t, entities.StepSucceeded, got[StepPublish])
	assert.Equal(t, []time.Duration{time.Hour}, h.cache.purged)

	for _, s := range report.Steps {
		if s.Status == entities.StepTolerated {
			assert.NotEmpty(t, s.Error)
		}
	}
}

func TestPipelineOrchestrator_Run_FailedStepIsReported(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		step  string
	}{
		{"fetch", func(h *harness) { h.fetcher.err = errors.New("tag not found") }, StepFetchSource},
		{"restore error", func(h *harness) { h.cache.restoreErr = errors.New("corrupt blob") }, StepRestoreCache},
		{"config", func(h *harness) { h.ws.installErr = errors.New("no template") }, StepInstallConfig},
		{"build", func(h *harness) { h.builder.err = errors.New("exit 1") }, StepBuild},
		{"relocate", func(h *harness) { h.ws.relocateErr = errors.New("no output") }, StepRelocateOutput},
		{"save", func(h *harness) { h.cache.saveErr = errors.New("disk full") }, StepSaveCache},
		{"resolve", func(h *harness) { h.releases.listErr = errors.New("401") }, StepResolveRelease},
		{"package", func(h *harness) { h.packager.err = errors.New("7z missing") }, StepPackage},
		{"publish", func(h *harness) { h.releases.uploadErr = errors.New("422") }, StepPublish},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)

			report, err := h.orchestrator(t, h.pipeline()).Run(context.Background(), RunOptions{Ref: "refs/tags/2.0.0"})
			require.Error(t, err)

			var stepErr *StepError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, tt.step, stepErr.Step)
			assert.Equal(t, tt.step, FailedStep(err))
			assert.Equal(t, tt.step, report.FailedStep)
			assert.False(t, report.Succeeded())

			last := report.Steps[len(report.Steps)-1]
			assert.Equal(t, tt.step, last.Name)
			assert.Equal(t, entities.StepFailed, last.Status)
		})
	}
}

func TestPipelineOrchestrator_Run_BuildFailureStopsLaterSteps(t *testing.T) {
	h := newHarness(t)
	h.builder.err = errors.New("linker error")

	_, err := h.orchestrator(t, h.pipeline()).Run(context.Background(), RunOptions{Ref: "1.0.0"})
	require.Error(t, err)

	assert.Zero(t, h.packager.calls)
	assert.Empty(t, h.cache.saved)
	assert.Zero(t, h.releases.created)
}

func TestPipelineOrchestrator_Run_DryRunSkipsPublish(t *testing.T) {
	h := newHarness(t)

	report, err := h.orchestrator(t, h.pipeline()).Run(context.Background(), RunOptions{Ref: "refs/tags/1.0.0", DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, entities.StepSkipped, statuses(report)[StepPublish])
	assert.Equal(t, entities.StepSucceeded, statuses(report)[StepPackage])
	assert.Zero(t, h.releases.created)
	assert.Empty(t, h.releases.uploaded)
}

func TestPipelineOrchestrator_Run_OptionalSteps(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline()
	p.Source.Skip = true
	p.Cache.Enabled = false
	p.Build.ConfigTemplate = ""
	p.Build.ConfigFile = ""

	report, err := h.orchestrator(t, p).Run(context.Background(), RunOptions{Ref: "refs/tags/1.0.0"})
	require.NoError(t, err)

	got := statuses(report)
	for _, name := range []string{StepRestoreCache, StepRemoveCacheSymlink, StepInstallConfig, StepPurgeCache, StepSaveCache} {
		assert.Equal(t, entities.StepSkipped, got[name], name)
	}
	// the fetcher checks an existing checkout when fetching is skipped
	assert.Equal(t, 1, h.fetcher.calls)
	assert.Empty(t, h.ws.installed)
}

func TestPipelineOrchestrator_Run_SignsDigest(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline()
	p.Package.Sign = true

	_, err := h.orchestrator(t, p).Run(context.Background(), RunOptions{Ref: "refs/tags/1.0.0"})
	require.NoError(t, err)

	require.Len(t, h.signer.signed, 1)
	assert.Equal(t, "rust-1.0.0.7z.sha256", filepath.Base(h.signer.signed[0]))
	assert.Equal(t, "signature", h.releases.uploaded["rust-1.0.0.7z.sha256.asc"])
}

func TestPipelineOrchestrator_Run_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.orchestrator(t, h.pipeline()).Run(ctx, RunOptions{Ref: "refs/tags/1.0.0"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StepFetchSource, report.FailedStep)
	assert.Zero(t, h.fetcher.calls)
}

func TestPipelineOrchestrator_ResolveRelease(t *testing.T) {
	tests := []struct {
		name           string
		tag            string
		listed         []string
		wantPrevious   string
		wantComparison string
		wantPrerelease bool
	}{
		{
			name:           "empty listing",
			tag:            "1.0.0",
			wantComparison: "",
		},
		{
			name:           "previous release",
			tag:            "v1.2.0",
			listed:         []string{"v1.2.0", "v1.1.0"},
			wantPrevious:   "v1.1.0",
			wantComparison: "**Full Changelog**: https://github.com/acme/rust-win7/compare/v1.1.0...v1.2.0",
		},
		{
			name:           "current not yet released",
			tag:            "1.3.0",
			listed:         []string{"1.2.0", "1.1.0"},
			wantPrevious:   "1.2.0",
			wantComparison: "**Full Changelog**: https://github.com/acme/rust-win7/compare/1.2.0...1.3.0",
		},
		{
			name:           "prerelease on empty listing",
			tag:            "1.2.0-RC1",
			wantPrerelease: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			for _, tag := range tt.listed {
				h.releases.listed = append(h.releases.listed, &gateways.GitHubRelease{TagName: tag})
			}
			o := h.orchestrator(t, h.pipeline())

			state := &entities.RunState{Tag: tt.tag}
			require.NoError(t, o.ResolveRelease(context.Background(), state))

			require.NotNil(t, state.Metadata)
			assert.Equal(t, tt.wantPrevious, state.Metadata.PreviousTag)
			assert.Equal(t, tt.wantComparison, state.Metadata.ComparisonText)
			assert.Equal(t, tt.wantPrerelease, state.Metadata.Prerelease)
		})
	}
}

func TestPipelineOrchestrator_Publish_RequiresPackage(t *testing.T) {
	h := newHarness(t)
	err := h.orchestrator(t, h.pipeline()).Publish(context.Background(), &entities.RunState{Tag: "1.0.0"})
	assert.ErrorContains(t, err, "package step has not run")
}

func TestPipelineOrchestrator_RunSelected(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(t, h.pipeline())

	state, err := o.NewState("refs/tags/1.0.0", "1.0.0", true)
	require.NoError(t, err)

	report, err := o.RunSelected(context.Background(), state, StepPackage, StepResolveRelease)
	require.NoError(t, err)

	// pipeline order, not argument order
	assert.Equal(t, []string{StepResolveRelease, StepPackage}, names(report))
	assert.Zero(t, h.builder.calls)
	require.NotNil(t, state.Artifact)
	assert.Equal(t, filepath.Join(h.workspace, "rust-1.0.0.7z"), state.Artifact.Path)
	assert.Equal(t, "1.0.0", state.Artifact.Tag)

	_, err = o.RunSelected(context.Background(), state, "bake", StepBuild)
	assert.ErrorContains(t, err, "unknown steps: bake")
}
