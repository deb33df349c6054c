// Package yaml loads pipeline definitions from YAML or JSON-with-comments files.
package yaml

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/ochairo/kiln/internal/domain/entities"
	"github.com/ochairo/kiln/internal/domain/services"
)

// Defaults applied to fields the definition leaves out
const (
	DefaultWorkspace     = "."
	DefaultSourceDir     = "src"
	DefaultFetchDepth    = 1
	DefaultCacheKey      = "toolchain-build"
	DefaultCacheStoreDir = ".kiln/cache"
	DefaultCacheCompress = "zstd"
	DefaultPurgeMinutes  = 60
	DefaultOutputDir     = "dist"
	DefaultArchiveName   = "{name}-{tag}"
	DefaultCodec         = entities.Codec7z
	DefaultLevel         = 5
	DefaultDigest        = entities.DigestSHA256
	DefaultConcurrency   = 2
)

// yamlPipeline represents the raw definition structure
type yamlPipeline struct {
	Name      string      `yaml:"name"`
	Workspace string      `yaml:"workspace"`
	Trigger   yamlTrigger `yaml:"trigger"`
	Source    yamlSource  `yaml:"source"`
	Cache     yamlCache   `yaml:"cache"`
	Build     yamlBuild   `yaml:"build"`
	Package   yamlPackage `yaml:"package"`
	Release   yamlRelease `yaml:"release"`
}

type yamlTrigger struct {
	Tags []string `yaml:"tags"`
}

type yamlSource struct {
	URL   string `yaml:"url"`
	Dir   string `yaml:"dir"`
	Depth *int   `yaml:"depth"`
	Skip  bool   `yaml:"skip"`
}

type yamlCache struct {
	Enabled            *bool    `yaml:"enabled"`
	Key                string   `yaml:"key"`
	StoreDir           string   `yaml:"store_dir"`
	Path               string   `yaml:"path"`
	Compression        string   `yaml:"compression"`
	RemovePaths        []string `yaml:"remove_paths"`
	PurgeMaxAgeMinutes *int     `yaml:"purge_max_age_minutes"`
}

type yamlBuild struct {
	Tool           string            `yaml:"tool"`
	Args           []string          `yaml:"args"`
	Env            map[string]string `yaml:"env"`
	ConfigTemplate string            `yaml:"config_template"`
	ConfigFile     string            `yaml:"config_file"`
	OutputDir      string            `yaml:"output_dir"`
	TimeoutMinutes int               `yaml:"timeout_minutes"`
}

type yamlPackage struct {
	Name     string `yaml:"name"`
	InputDir string `yaml:"input_dir"`
	Codec    string `yaml:"codec"`
	Level    *int   `yaml:"level"`
	Digest   string `yaml:"digest"`
	Sign     bool   `yaml:"sign"`
}

type yamlRelease struct {
	Owner              string   `yaml:"owner"`
	Repo               string   `yaml:"repo"`
	APIURL             string   `yaml:"api_url"`
	CompareURL         string   `yaml:"compare_url"`
	InstallURL         string   `yaml:"install_url"`
	PrereleaseKeywords []string `yaml:"prerelease_keywords"`
	Draft              bool     `yaml:"draft"`
	UploadConcurrency  int      `yaml:"upload_concurrency"`
}

// PipelineParser parses pipeline definition files
type PipelineParser struct{}

// NewPipelineParser creates a new parser
func NewPipelineParser() *PipelineParser {
	return &PipelineParser{}
}

// ParseFile parses a definition file; .json and .jsonc files may carry comments
// and trailing commas
func (p *PipelineParser) ParseFile(filePath string) (*entities.Pipeline, error) {
	//nolint:gosec // G304: filePath is the pipeline definition chosen by the user
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	pipeline, err := p.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return pipeline, nil
}

// Parse parses YAML (or plain JSON) bytes into a Pipeline entity with defaults applied
func (p *PipelineParser) Parse(data []byte) (*entities.Pipeline, error) {
	var raw yamlPipeline

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("pipeline definition is empty")
		}
		return nil, fmt.Errorf("failed to parse pipeline definition: %w", err)
	}

	if raw.Name == "" {
		return nil, fmt.Errorf("pipeline must have a name")
	}

	return &entities.Pipeline{
		Name:      raw.Name,
		Workspace: orDefault(raw.Workspace, DefaultWorkspace),
		Trigger:   convertTrigger(raw.Trigger),
		Source:    convertSource(raw.Source),
		Cache:     convertCache(raw.Cache),
		Build:     convertBuild(raw.Build),
		Package:   convertPackage(raw.Package, raw.Name),
		Release:   convertRelease(raw.Release),
	}, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(value *int, fallback int) int {
	if value == nil {
		return fallback
	}
	return *value
}

func convertTrigger(yt yamlTrigger) entities.TriggerConfig {
	tags := yt.Tags
	if len(tags) == 0 {
		tags = []string{services.DefaultTagPattern}
	}
	return entities.TriggerConfig{Tags: tags}
}

func convertSource(ys yamlSource) entities.SourceConfig {
	return entities.SourceConfig{
		URL:   ys.URL,
		Dir:   orDefault(ys.Dir, DefaultSourceDir),
		Depth: intOrDefault(ys.Depth, DefaultFetchDepth),
		Skip:  ys.Skip,
	}
}

func convertCache(yc yamlCache) entities.CacheConfig {
	enabled := true
	if yc.Enabled != nil {
		enabled = *yc.Enabled
	}
	return entities.CacheConfig{
		Enabled:            enabled,
		Key:                orDefault(yc.Key, DefaultCacheKey),
		StoreDir:           orDefault(yc.StoreDir, DefaultCacheStoreDir),
		Path:               orDefault(yc.Path, "build"),
		Compression:        orDefault(yc.Compression, DefaultCacheCompress),
		RemovePaths:        yc.RemovePaths,
		PurgeMaxAgeMinutes: intOrDefault(yc.PurgeMaxAgeMinutes, DefaultPurgeMinutes),
	}
}

func convertBuild(yb yamlBuild) entities.BuildConfig {
	return entities.BuildConfig{
		Tool:           yb.Tool,
		Args:           yb.Args,
		Env:            yb.Env,
		ConfigTemplate: yb.ConfigTemplate,
		ConfigFile:     yb.ConfigFile,
		OutputDir:      yb.OutputDir,
		TimeoutMinutes: yb.TimeoutMinutes,
	}
}

func convertPackage(yp yamlPackage, pipelineName string) entities.PackageConfig {
	name := orDefault(yp.Name, DefaultArchiveName)
	name = strings.ReplaceAll(name, "{name}", pipelineName)

	return entities.PackageConfig{
		Name:     name,
		InputDir: orDefault(yp.InputDir, DefaultOutputDir),
		Codec:    orDefault(yp.Codec, DefaultCodec),
		Level:    intOrDefault(yp.Level, DefaultLevel),
		Digest:   orDefault(yp.Digest, DefaultDigest),
		Sign:     yp.Sign,
	}
}

func convertRelease(yr yamlRelease) entities.ReleaseConfig {
	keywords := yr.PrereleaseKeywords
	if len(keywords) == 0 {
		keywords = services.DefaultPrereleaseKeywords
	}
	concurrency := yr.UploadConcurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return entities.ReleaseConfig{
		Owner:              yr.Owner,
		Repo:               yr.Repo,
		APIURL:             yr.APIURL,
		CompareURL:         orDefault(yr.CompareURL, services.DefaultCompareURL),
		InstallURL:         yr.InstallURL,
		PrereleaseKeywords: keywords,
		Draft:              yr.Draft,
		UploadConcurrency:  concurrency,
	}
}
