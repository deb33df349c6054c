// Package ghauth resolves GitHub credentials and the target repository.
package ghauth

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/cli/go-gh/v2/pkg/auth"
	"github.com/cli/go-gh/v2/pkg/repository"
)

// DefaultHost is the host used when the API URL is github.com's
const DefaultHost = "github.com"

// ErrNoToken is returned when no token source is available
var ErrNoToken = errors.New("no GitHub token found: set GITHUB_TOKEN or run 'gh auth login'")

// Resolver looks up tokens and repositories. The lookup functions are
// fields so tests can replace the gh config and git remote probes.
type Resolver struct {
	Getenv       func(string) string
	TokenForHost func(host string) (string, string)
	CurrentRepo  func() (repository.Repository, error)
}

// NewResolver returns a resolver backed by the process environment and gh config
func NewResolver() *Resolver {
	return &Resolver{
		Getenv:       os.Getenv,
		TokenForHost: auth.TokenForHost,
		CurrentRepo:  repository.Current,
	}
}

// HostFromAPIURL maps an API base URL to the gh host name
func HostFromAPIURL(apiURL string) string {
	if apiURL == "" {
		return DefaultHost
	}
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return DefaultHost
	}
	host := strings.TrimPrefix(u.Hostname(), "api.")
	if host == "" {
		return DefaultHost
	}
	return host
}

// Token returns a token for host and where it came from.
// GITHUB_TOKEN and GH_TOKEN win over the gh CLI configuration.
func (r *Resolver) Token(host string) (string, string, error) {
	for _, name := range []string{"GITHUB_TOKEN", "GH_TOKEN"} {
		if v := strings.TrimSpace(r.Getenv(name)); v != "" {
			return v, name, nil
		}
	}
	if host == "" {
		host = DefaultHost
	}
	if r.TokenForHost != nil {
		if token, source := r.TokenForHost(host); token != "" {
			return token, source, nil
		}
	}
	return "", "", ErrNoToken
}

// Repository resolves "owner/repo". An explicit slug wins, then
// GITHUB_REPOSITORY, then the git remote of the working directory.
func (r *Resolver) Repository(slug string) (string, string, error) {
	if slug == "" {
		slug = strings.TrimSpace(r.Getenv("GITHUB_REPOSITORY"))
	}
	if slug != "" {
		return splitSlug(slug)
	}

	if r.CurrentRepo == nil {
		return "", "", errors.New("repository not set")
	}
	repo, err := r.CurrentRepo()
	if err != nil {
		return "", "", fmt.Errorf("failed to determine repository: %w", err)
	}
	return repo.Owner, repo.Name, nil
}

func splitSlug(slug string) (string, string, error) {
	owner, name, ok := strings.Cut(slug, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository %q, expected owner/repo", slug)
	}
	return owner, name, nil
}
