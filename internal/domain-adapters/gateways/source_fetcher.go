package gateways

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ochairo/kiln/internal/domain/entities"
	"github.com/ochairo/kiln/internal/domain/interfaces"
)

// GitSourceFetcher checks out the tagged source with limited history
type GitSourceFetcher struct {
	executor *CommandExecutor
	logger   interfaces.Logger
	// Git is the git binary
	Git string
}

// NewGitSourceFetcher creates a fetcher that shells out to git
func NewGitSourceFetcher(executor *CommandExecutor, logger interfaces.Logger) *GitSourceFetcher {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &GitSourceFetcher{executor: executor, logger: logger, Git: "git"}
}

// Fetch makes dest a checkout of tag. An existing clone is updated in place
// so that an incremental build keeps its untracked build directory.
func (f *GitSourceFetcher) Fetch(ctx context.Context, source entities.SourceConfig, tag, dest string) error {
	if source.Skip {
		if info, err := os.Stat(dest); err != nil || !info.IsDir() {
			return fmt.Errorf("source fetch skipped but %s is not a checkout", dest)
		}
		f.logger.Info("source fetch skipped", interfaces.F("dir", dest))
		return nil
	}
	if source.URL == "" {
		return errors.New("no source URL configured")
	}
	if tag == "" {
		return errors.New("no tag to fetch")
	}

	var depthArgs []string
	if source.Depth > 0 {
		depthArgs = []string{"--depth", strconv.Itoa(source.Depth)}
	}

	if _, err := os.Stat(filepath.Join(dest, ".git")); err == nil {
		f.logger.Info("updating checkout", interfaces.F("dir", dest), interfaces.F("tag", tag))

		fetchArgs := append([]string{"-C", dest, "fetch", "--force"}, depthArgs...)
		fetchArgs = append(fetchArgs, source.URL, "refs/tags/"+tag+":refs/tags/"+tag)
		if err := f.git(ctx, "git fetch", fetchArgs...); err != nil {
			return err
		}
		return f.git(ctx, "git checkout", "-C", dest, "checkout", "--force", "refs/tags/"+tag)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}

	f.logger.Info("cloning source",
		interfaces.F("url", source.URL),
		interfaces.F("tag", tag),
		interfaces.F("depth", source.Depth))

	cloneArgs := append([]string{"clone"}, depthArgs...)
	cloneArgs = append(cloneArgs, "--branch", tag, source.URL, dest)
	return f.git(ctx, "git clone", cloneArgs...)
}

func (f *GitSourceFetcher) git(ctx context.Context, description string, args ...string) error {
	return f.executor.Run(ctx, ExecuteConfig{
		Command:     f.Git,
		Args:        args,
		Description: description,
		Env:         map[string]string{"GIT_TERMINAL_PROMPT": "0"},
	})
}
