package services

import (
	"fmt"
	"strings"

	"github.com/ochairo/kiln/internal/domain/entities"
)

// DefaultCompareURL is the compare-link template used when none is configured
const DefaultCompareURL = "https://github.com/{owner}/{repo}/compare/{previous}...{current}"

// DefaultPrereleaseKeywords mark a tag as not production-ready
var DefaultPrereleaseKeywords = []string{"alpha", "beta", "rc"}

// ReleaseService derives release metadata and body text from tags
type ReleaseService struct {
	owner      string
	repo       string
	compareURL string
	installURL string
	keywords   []string
}

// NewReleaseService creates a release service from the release section of a pipeline
func NewReleaseService(cfg entities.ReleaseConfig) *ReleaseService {
	compareURL := cfg.CompareURL
	if compareURL == "" {
		compareURL = DefaultCompareURL
	}

	keywords := cfg.PrereleaseKeywords
	if len(keywords) == 0 {
		keywords = DefaultPrereleaseKeywords
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}

	return &ReleaseService{
		owner:      cfg.Owner,
		repo:       cfg.Repo,
		compareURL: compareURL,
		installURL: cfg.InstallURL,
		keywords:   lowered,
	}
}

// IsPrerelease reports whether tag contains one of the prerelease keywords, ignoring case
func (s *ReleaseService) IsPrerelease(tag string) bool {
	lower := strings.ToLower(tag)
	for _, k := range s.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// PreviousTag returns the newest listed tag that is not the current one.
// The current release may or may not already be in the listing.
func (s *ReleaseService) PreviousTag(current string, listed []string) string {
	for _, tag := range listed {
		if tag != "" && tag != current {
			return tag
		}
	}
	return ""
}

// CompareURL fills the compare-link template
func (s *ReleaseService) CompareURL(previous, current string) string {
	return strings.NewReplacer(
		"{owner}", s.owner,
		"{repo}", s.repo,
		"{previous}", previous,
		"{current}", current,
	).Replace(s.compareURL)
}

// ComparisonText is the changelog line for the release body.
// Empty when there is no previous release.
func (s *ReleaseService) ComparisonText(previous, current string) string {
	if previous == "" {
		return ""
	}
	return fmt.Sprintf("**Full Changelog**: %s", s.CompareURL(previous, current))
}

// Resolve derives all metadata for tag from the listed release tags
func (s *ReleaseService) Resolve(tag string, listed []string) *entities.ReleaseMetadata {
	meta := &entities.ReleaseMetadata{
		Tag:        tag,
		Prerelease: s.IsPrerelease(tag),
	}

	meta.PreviousTag = s.PreviousTag(tag, listed)
	if !meta.HasPrevious() {
		return meta
	}
	meta.ComparisonText = s.ComparisonText(meta.PreviousTag, tag)
	return meta
}

// ReleaseBody renders the markdown appended to the release
func (s *ReleaseService) ReleaseBody(meta *entities.ReleaseMetadata) string {
	var sections []string

	if s.installURL != "" {
		sections = append(sections, fmt.Sprintf("## Installation\n\nSee the [installation guide](%s) to set up this toolchain.", s.installURL))
	}
	if meta != nil && meta.ComparisonText != "" {
		sections = append(sections, meta.ComparisonText)
	}

	return strings.Join(sections, "\n\n")
}

// AppendBody appends addition to an existing release body.
// Re-running a release does not append the same text twice.
func AppendBody(existing, addition string) string {
	existing = strings.TrimRight(existing, "\n")
	switch {
	case addition == "":
		return existing
	case existing == "":
		return addition
	case strings.Contains(existing, addition):
		return existing
	default:
		return existing + "\n\n" + addition
	}
}
