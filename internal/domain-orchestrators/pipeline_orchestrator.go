// Package orchestrators coordinates the release pipeline across domain services and adapters.
package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ochairo/kiln/internal/domain/entities"
	"github.com/ochairo/kiln/internal/domain/interfaces"
	"github.com/ochairo/kiln/internal/domain/interfaces/gateways"
	"github.com/ochairo/kiln/internal/domain/services"
)

// Step names, in run order
const (
	StepFetchSource        = "fetch-source"
	StepRestoreCache       = "restore-cache"
	StepRemoveCacheSymlink = "remove-cache-symlink"
	StepInstallConfig      = "install-config"
	StepBuild              = "build"
	StepRelocateOutput     = "relocate-output"
	StepPurgeCache         = "purge-cache"
	StepSaveCache          = "save-cache"
	StepResolveRelease     = "resolve-release"
	StepPackage            = "package"
	StepPublish            = "publish"
)

// SourceFetcher checks out the source tree at a tag
type SourceFetcher interface {
	Fetch(ctx context.Context, source entities.SourceConfig, tag, dest string) error
}

// Workspace performs the file-system handoffs between steps
type Workspace interface {
	RemovePaths(root string, paths []string) error
	InstallConfig(template, dest string) error
	Relocate(src, dest string) error
	MoveFile(src, destDir string) (string, error)
}

// BuildRunner invokes the build tool
type BuildRunner interface {
	RunBuild(ctx context.Context, sourceDir string, build entities.BuildConfig) error
}

// Packager archives a directory
type Packager interface {
	Pack(ctx context.Context, inputDir, archivePath, codec string, level int) (*entities.Artifact, error)
}

// Digester writes the digest file for an archive
type Digester interface {
	Write(ctx context.Context, archivePath, algorithm string) (*entities.DigestFile, error)
}

// Signer writes a detached signature next to a file
type Signer interface {
	Sign(ctx context.Context, path string) (string, error)
}

// PipelineDeps are the adapters a pipeline run needs. Signer may be nil
// when the package section does not ask for a signature.
type PipelineDeps struct {
	Fetcher   SourceFetcher
	Cache     gateways.CacheStore
	Workspace Workspace
	Builder   BuildRunner
	Packager  Packager
	Digester  Digester
	Signer    Signer
	Releases  gateways.ReleaseGateway
	Logger    interfaces.Logger
}

// RunOptions are per-run inputs
type RunOptions struct {
	Ref    string
	DryRun bool
}

// PipelineOrchestrator runs the tag-triggered build and release pipeline
type PipelineOrchestrator struct {
	pipeline  *entities.Pipeline
	gate      *services.TriggerGate
	releases  *services.ReleaseService
	publisher *ReleasePublisher
	deps      PipelineDeps
	runner    *StepRunner
	logger    interfaces.Logger
}

// NewPipelineOrchestrator wires a validated pipeline to its adapters
func NewPipelineOrchestrator(pipeline *entities.Pipeline, deps PipelineDeps) (*PipelineOrchestrator, error) {
	if err := services.ValidatePipeline(pipeline); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}

	var missing []error
	if deps.Fetcher == nil {
		missing = append(missing, errors.New("source fetcher"))
	}
	if deps.Cache == nil && pipeline.Cache.Enabled {
		missing = append(missing, errors.New("cache store"))
	}
	if deps.Workspace == nil {
		missing = append(missing, errors.New("workspace"))
	}
	if deps.Builder == nil {
		missing = append(missing, errors.New("build runner"))
	}
	if deps.Packager == nil {
		missing = append(missing, errors.New("packager"))
	}
	if deps.Digester == nil {
		missing = append(missing, errors.New("digester"))
	}
	if deps.Signer == nil && pipeline.Package.Sign {
		missing = append(missing, errors.New("signer"))
	}
	if deps.Releases == nil {
		missing = append(missing, errors.New("release gateway"))
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing dependencies: %w", errors.Join(missing...))
	}

	gate, err := services.NewTriggerGate(pipeline.Trigger.Tags)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}

	return &PipelineOrchestrator{
		pipeline:  pipeline,
		gate:      gate,
		releases:  services.NewReleaseService(pipeline.Release),
		publisher: NewReleasePublisher(deps.Releases, pipeline.Release, logger),
		deps:      deps,
		runner:    NewStepRunner(logger),
		logger:    logger,
	}, nil
}

// Run evaluates the trigger gate and, if the ref activates the pipeline,
// executes every step in order. A non-triggering ref returns a report with
// Triggered false and no error.
func (o *PipelineOrchestrator) Run(ctx context.Context, opts RunOptions) (*entities.RunReport, error) {
	start := time.Now()
	tag, ok := o.gate.Evaluate(opts.Ref)
	report := &entities.RunReport{Ref: opts.Ref, Tag: tag, Triggered: ok}
	if !ok {
		o.logger.Info("ref does not trigger the pipeline",
			interfaces.F("ref", opts.Ref),
			interfaces.F("patterns", o.gate.Patterns()))
		return report, nil
	}

	state, err := o.NewState(opts.Ref, tag, opts.DryRun)
	if err != nil {
		return report, err
	}

	o.logger.Info("pipeline started",
		interfaces.F("pipeline", o.pipeline.Name),
		interfaces.F("tag", tag),
		interfaces.F("dry_run", opts.DryRun))

	err = o.runner.Run(ctx, o.Steps(), state, report)
	report.Duration = time.Since(start)
	return report, err
}

// RunSelected runs only the named steps, in pipeline order, against state.
// Conditions and tolerance still apply.
func (o *PipelineOrchestrator) RunSelected(ctx context.Context, state *entities.RunState, names ...string) (*entities.RunReport, error) {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	var selected []Step
	for _, step := range o.Steps() {
		if wanted[step.Name()] {
			selected = append(selected, step)
			delete(wanted, step.Name())
		}
	}
	if len(wanted) > 0 {
		unknown := make([]string, 0, len(wanted))
		for n := range wanted {
			unknown = append(unknown, n)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown steps: %s", strings.Join(unknown, ", "))
	}

	start := time.Now()
	report := &entities.RunReport{Ref: state.Ref, Tag: state.Tag, Triggered: true}
	err := o.runner.Run(ctx, selected, state, report)
	report.Duration = time.Since(start)
	return report, err
}

// Pipeline returns the definition the orchestrator runs
func (o *PipelineOrchestrator) Pipeline() *entities.Pipeline {
	return o.pipeline
}

// NewState builds the initial run state for tag
func (o *PipelineOrchestrator) NewState(ref, tag string, dryRun bool) (*entities.RunState, error) {
	workspace, err := filepath.Abs(o.pipeline.Workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	return &entities.RunState{
		Ref:       ref,
		Tag:       tag,
		Workspace: workspace,
		SourceDir: filepath.Join(workspace, o.pipeline.Source.Dir),
		DryRun:    dryRun,
	}, nil
}

// Steps returns the ordered pipeline
func (o *PipelineOrchestrator) Steps() []Step {
	cacheEnabled := func(*entities.RunState) bool { return o.pipeline.Cache.Enabled }

	return []Step{
		NewStep(StepFetchSource, o.fetchSource),
		When(cacheEnabled, NewStep(StepRestoreCache, o.restoreCache)),
		Tolerate(When(func(*entities.RunState) bool {
			return o.pipeline.Cache.Enabled && len(o.pipeline.Cache.RemovePaths) > 0
		}, NewStep(StepRemoveCacheSymlink, o.removeCacheSymlink))),
		When(func(*entities.RunState) bool { return o.pipeline.Build.ConfigTemplate != "" },
			NewStep(StepInstallConfig, o.installConfig)),
		NewStep(StepBuild, o.build),
		NewStep(StepRelocateOutput, o.relocateOutput),
		Tolerate(When(func(s *entities.RunState) bool { return o.pipeline.Cache.Enabled && s.CacheHit },
			NewStep(StepPurgeCache, o.purgeCache))),
		When(cacheEnabled, NewStep(StepSaveCache, o.saveCache)),
		NewStep(StepResolveRelease, o.ResolveRelease),
		NewStep(StepPackage, o.Package),
		When(func(s *entities.RunState) bool { return !s.DryRun }, NewStep(StepPublish, o.Publish)),
	}
}

func (o *PipelineOrchestrator) cachePath(state *entities.RunState) string {
	return filepath.Join(state.SourceDir, o.pipeline.Cache.Path)
}

func (o *PipelineOrchestrator) fetchSource(ctx context.Context, state *entities.RunState) error {
	return o.deps.Fetcher.Fetch(ctx, o.pipeline.Source, state.Tag, state.SourceDir)
}

func (o *PipelineOrchestrator) restoreCache(ctx context.Context, state *entities.RunState) error {
	hit, err := o.deps.Cache.Restore(ctx, o.pipeline.Cache.Key, o.cachePath(state))
	if err != nil {
		return fmt.Errorf("failed to restore cache %q: %w", o.pipeline.Cache.Key, err)
	}
	state.CacheHit = hit
	return nil
}

func (o *PipelineOrchestrator) removeCacheSymlink(_ context.Context, state *entities.RunState) error {
	return o.deps.Workspace.RemovePaths(state.SourceDir, o.pipeline.Cache.RemovePaths)
}

func (o *PipelineOrchestrator) installConfig(_ context.Context, state *entities.RunState) error {
	return o.deps.Workspace.InstallConfig(
		filepath.Join(state.Workspace, o.pipeline.Build.ConfigTemplate),
		filepath.Join(state.Workspace, o.pipeline.Build.ConfigFile),
	)
}

func (o *PipelineOrchestrator) build(ctx context.Context, state *entities.RunState) error {
	return o.deps.Builder.RunBuild(ctx, state.SourceDir, o.pipeline.Build)
}

func (o *PipelineOrchestrator) relocateOutput(_ context.Context, state *entities.RunState) error {
	src := filepath.Join(state.SourceDir, o.pipeline.Build.OutputDir)
	dest := filepath.Join(state.Workspace, o.pipeline.Package.InputDir)
	if err := o.deps.Workspace.Relocate(src, dest); err != nil {
		return err
	}
	state.OutputDir = dest
	return nil
}

func (o *PipelineOrchestrator) purgeCache(ctx context.Context, _ *entities.RunState) error {
	maxAge := time.Duration(o.pipeline.Cache.PurgeMaxAgeMinutes) * time.Minute
	removed, err := o.deps.Cache.Purge(ctx, maxAge)
	if err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}
	o.logger.Info("cache purged", interfaces.F("removed", removed), interfaces.F("max_age", maxAge))
	return nil
}

func (o *PipelineOrchestrator) saveCache(ctx context.Context, state *entities.RunState) error {
	entry, err := o.deps.Cache.Save(ctx, o.pipeline.Cache.Key, o.cachePath(state))
	if err != nil {
		return fmt.Errorf("failed to save cache %q: %w", o.pipeline.Cache.Key, err)
	}
	o.logger.Info("cache saved", interfaces.F("key", entry.Key), interfaces.F("size", entry.Size))
	return nil
}

// ResolveRelease lists releases and derives the previous tag, comparison
// text and prerelease flag. An empty listing leaves the comparison text empty.
func (o *PipelineOrchestrator) ResolveRelease(ctx context.Context, state *entities.RunState) error {
	cfg := o.pipeline.Release
	listed, err := o.deps.Releases.ListReleases(ctx, cfg.Owner, cfg.Repo)
	if err != nil {
		return fmt.Errorf("failed to list releases for %s: %w", cfg.Slug(), err)
	}

	if len(listed) == 0 {
		state.Metadata = &entities.ReleaseMetadata{Tag: state.Tag, Prerelease: o.releases.IsPrerelease(state.Tag)}
		o.logger.Info("no earlier releases", interfaces.F("repo", cfg.Slug()))
		return nil
	}

	tags := make([]string, 0, len(listed))
	for _, r := range listed {
		tags = append(tags, r.TagName)
	}
	state.Metadata = o.releases.Resolve(state.Tag, tags)
	o.logger.Info("release resolved",
		interfaces.F("tag", state.Tag),
		interfaces.F("previous", state.Metadata.PreviousTag),
		interfaces.F("prerelease", state.Metadata.Prerelease))
	return nil
}

// Package archives the relocated output, writes its digest, optionally
// signs the digest, and moves every file to the workspace root
func (o *PipelineOrchestrator) Package(ctx context.Context, state *entities.RunState) error {
	cfg := o.pipeline.Package
	inputDir := state.OutputDir
	if inputDir == "" {
		inputDir = filepath.Join(state.Workspace, cfg.InputDir)
	}

	name, err := services.ArchiveName(cfg.Name, state.Tag, cfg.Codec)
	if err != nil {
		return err
	}
	staging := filepath.Dir(inputDir)

	artifact, err := o.deps.Packager.Pack(ctx, inputDir, filepath.Join(staging, name), cfg.Codec, cfg.Level)
	if err != nil {
		return err
	}
	artifact.Tag = state.Tag

	digest, err := o.deps.Digester.Write(ctx, artifact.Path, cfg.Digest)
	if err != nil {
		return err
	}
	if cfg.Sign {
		sigPath, err := o.deps.Signer.Sign(ctx, digest.Path)
		if err != nil {
			return err
		}
		digest.SignaturePath = sigPath
	}

	if artifact.Path, err = o.deps.Workspace.MoveFile(artifact.Path, state.Workspace); err != nil {
		return err
	}
	if digest.Path, err = o.deps.Workspace.MoveFile(digest.Path, state.Workspace); err != nil {
		return err
	}
	if digest.SignaturePath != "" {
		if digest.SignaturePath, err = o.deps.Workspace.MoveFile(digest.SignaturePath, state.Workspace); err != nil {
			return err
		}
	}

	state.Artifact = artifact
	state.Digest = digest
	o.logger.Info("packaged",
		interfaces.F("archive", artifact.Path),
		interfaces.F("size", artifact.Size),
		interfaces.F(digest.Algorithm, digest.Sum))
	return nil
}

// Publish uploads the archive and digest to the release for the tag
func (o *PipelineOrchestrator) Publish(ctx context.Context, state *entities.RunState) error {
	if state.Artifact == nil || state.Digest == nil {
		return errors.New("nothing to publish: package step has not run")
	}
	meta := state.Metadata
	if meta == nil {
		meta = &entities.ReleaseMetadata{Tag: state.Tag, Prerelease: o.releases.IsPrerelease(state.Tag)}
	}

	files := append([]string{state.Artifact.Path}, state.Digest.Files()...)
	result, err := o.publisher.Publish(ctx, meta, files)
	if err != nil {
		return err
	}
	state.ReleaseURL = result.Release.HTMLURL
	return nil
}

// ReleaseBody renders the markdown the publish step would append
func (o *PipelineOrchestrator) ReleaseBody(meta *entities.ReleaseMetadata) string {
	return o.releases.ReleaseBody(meta)
}
