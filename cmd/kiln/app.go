package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ochairo/kiln/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/kiln/internal/domain-orchestrators"
	"github.com/ochairo/kiln/internal/domain/entities"
	"github.com/ochairo/kiln/internal/domain/interfaces"
	"github.com/ochairo/kiln/internal/domain/services"
	"github.com/ochairo/kiln/internal/external-adapters/ghauth"
	"github.com/ochairo/kiln/internal/external-adapters/logging"
	"github.com/ochairo/kiln/internal/external-adapters/yaml"
)

// app holds what every subcommand shares: flags, streams, environment
type app struct {
	configPath string
	logLevel   string
	logJSON    bool

	stdout io.Writer
	stderr io.Writer
	getenv func(string) string

	logger   *logging.SlogLogger
	resolver *ghauth.Resolver
}

func newApp() *app {
	return &app{
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		getenv:   os.Getenv,
		resolver: ghauth.NewResolver(),
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "kiln",
		Short: "Build and release a compiler toolchain when a version tag is pushed",
		Long: `kiln runs the tag-triggered toolchain release pipeline described in kiln.yml:
fetch source, restore the build cache, build, package with a digest, and
publish the archive to the release for the tag.

Examples:
  kiln run --ref refs/tags/1.75.0          # Full pipeline
  kiln run --ref refs/tags/1.75.0 --dry-run
  kiln trigger refs/tags/1.75.0            # Only evaluate the tag filter
  kiln notes --tag 1.75.0 --html           # Preview the release body`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.setupLogger()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", ".", "Pipeline definition file or directory containing kiln.yml")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&a.logJSON, "log-json", false, "Write logs as JSON")

	root.AddCommand(
		newRunCommand(a),
		newTriggerCommand(a),
		newCacheCommand(a),
		newBuildCommand(a),
		newPackageCommand(a),
		newNotesCommand(a),
		newPublishCommand(a),
		newVerifyCommand(a),
		newPublicKeyCommand(a),
		newValidateCommand(a),
		newVersionCommand(a),
	)
	return root
}

func (a *app) setupLogger() error {
	level, err := logging.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	a.logger = logging.NewSlogLogger(a.stderr, logging.Options{Level: level, JSON: a.logJSON})
	if a.resolver != nil {
		a.resolver.Getenv = a.getenv
	}
	return nil
}

func (a *app) log() *logging.SlogLogger {
	if a.logger == nil {
		a.logger = logging.NewSlogLogger(a.stderr, logging.Options{Level: slog.LevelInfo})
	}
	return a.logger
}

// loadPipeline reads the definition and fills in what the CI environment provides
func (a *app) loadPipeline(ctx context.Context) (*entities.Pipeline, error) {
	p, err := yaml.NewPipelineRepository().GetPipeline(ctx, a.configPath)
	if err != nil {
		return nil, err
	}

	if ws := a.getenv("GITHUB_WORKSPACE"); ws != "" && (p.Workspace == "" || p.Workspace == yaml.DefaultWorkspace) {
		p.Workspace = ws
	}
	return p, nil
}

// resolveRepository fills owner/repo from GITHUB_REPOSITORY or the git remote
func (a *app) resolveRepository(p *entities.Pipeline) error {
	if p.Release.Owner != "" && p.Release.Repo != "" {
		return nil
	}
	owner, repo, err := a.resolver.Repository("")
	if err != nil {
		return fmt.Errorf("release.owner and release.repo are not set: %w", err)
	}
	p.Release.Owner, p.Release.Repo = owner, repo
	return nil
}

// releaseGateway builds the REST client. Without a token it still serves
// read-only calls for public repositories unless requireToken is set.
func (a *app) releaseGateway(p *entities.Pipeline, requireToken bool) (*gateways.HTTPGitHubGateway, error) {
	token, source, err := a.resolver.Token(ghauth.HostFromAPIURL(p.Release.APIURL))
	switch {
	case err != nil && requireToken:
		return nil, err
	case err != nil:
		a.log().Debug("no GitHub token, API calls are unauthenticated")
	default:
		a.log().Debug("GitHub token resolved", interfaces.F("source", source))
	}

	return gateways.NewHTTPGitHubGateway(token,
		gateways.WithBaseURL(p.Release.APIURL),
		gateways.WithGitHubLogger(a.log()),
	), nil
}

func (a *app) cacheStore(p *entities.Pipeline) (*gateways.FileCacheStore, error) {
	dir := p.Cache.StoreDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(p.Workspace, dir)
	}
	return gateways.NewFileCacheStore(dir, p.Cache.Compression, a.log())
}

// signer returns the digest signer when the pipeline signs, nil otherwise
func (a *app) signer(p *entities.Pipeline) (*gateways.DigestSigner, error) {
	if !p.Package.Sign {
		return nil, nil
	}
	return a.signingKey()
}

// signingKey loads KILN_SIGNING_KEY, which holds an armored key or a path to one
func (a *app) signingKey() (*gateways.DigestSigner, error) {
	key := a.getenv("KILN_SIGNING_KEY")
	if key == "" {
		return nil, errors.New("KILN_SIGNING_KEY is empty")
	}
	if !strings.Contains(key, "-----BEGIN PGP") {
		//nolint:gosec // G304: key path comes from the operator's environment
		data, err := os.ReadFile(key)
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key: %w", err)
		}
		key = string(data)
	}
	return gateways.NewDigestSigner([]byte(key), []byte(a.getenv("KILN_SIGNING_PASSPHRASE")))
}

type orchestratorOptions struct {
	requireToken bool
}

// orchestrator wires every adapter to a pipeline orchestrator
func (a *app) orchestrator(ctx context.Context, opts orchestratorOptions) (*orchestrators.PipelineOrchestrator, error) {
	p, err := a.loadPipeline(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.resolveRepository(p); err != nil {
		return nil, err
	}

	logger := a.log().With(interfaces.F("pipeline", p.Name))
	executor := gateways.NewCommandExecutor(logger)
	executor.Output = a.stderr

	gateway, err := a.releaseGateway(p, opts.requireToken)
	if err != nil {
		return nil, err
	}

	deps := orchestrators.PipelineDeps{
		Fetcher:   gateways.NewGitSourceFetcher(executor, logger),
		Workspace: gateways.NewWorkspace(logger),
		Builder:   executor,
		Packager:  gateways.NewPackager(executor, logger),
		Digester:  gateways.NewDigester(),
		Releases:  gateway,
		Logger:    logger,
	}

	if p.Cache.Enabled {
		store, err := a.cacheStore(p)
		if err != nil {
			return nil, err
		}
		deps.Cache = store
	}

	signer, err := a.signer(p)
	if err != nil {
		return nil, err
	}
	if signer != nil {
		deps.Signer = signer
		logger.Info("digest will be signed", interfaces.F("fingerprint", signer.Fingerprint()))
	}

	return orchestrators.NewPipelineOrchestrator(p, deps)
}

// tagFrom returns the explicit tag, or the one carried by GITHUB_REF
func (a *app) tagFrom(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if tag, ok := services.TagFromRef(a.getenv("GITHUB_REF")); ok {
		return tag, nil
	}
	return "", errors.New("no tag given: pass --tag or set GITHUB_REF to refs/tags/<tag>")
}

// stateFor builds run state for commands that run a subset of steps
func stateFor(o *orchestrators.PipelineOrchestrator, tag string, dryRun bool) (*entities.RunState, error) {
	ref := ""
	if tag != "" {
		ref = "refs/tags/" + tag
	}
	return o.NewState(ref, tag, dryRun)
}
