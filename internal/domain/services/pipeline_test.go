package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ochairo/kiln/internal/domain/entities"
)

func validPipeline() *entities.Pipeline {
	return &entities.Pipeline{
		Name:    "rust",
		Trigger: entities.TriggerConfig{Tags: []string{"*.*"}},
		Source:  entities.SourceConfig{URL: "https://example.com/rust.git", Depth: 1},
		Cache:   entities.CacheConfig{Enabled: true, Key: "toolchain-build", Compression: "zstd", PurgeMaxAgeMinutes: 60},
		Build:   entities.BuildConfig{Tool: "python3", Args: []string{"x.py", "dist"}, OutputDir: "build/dist"},
		Package: entities.PackageConfig{Name: "rust-{tag}", InputDir: "dist", Codec: entities.Codec7z, Level: 5, Digest: entities.DigestSHA256},
	}
}

func TestValidatePipeline_Valid(t *testing.T) {
	require.NoError(t, ValidatePipeline(validPipeline()))
}

func TestValidatePipeline_ReportsAllProblems(t *testing.T) {
	p := validPipeline()
	p.Build.Tool = ""
	p.Package.Codec = "zip"
	p.Package.Digest = "md5"
	p.Package.Level = 11

	err := ValidatePipeline(p)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "build.tool is required")
	assert.Contains(t, msg, `package.codec "zip"`)
	assert.Contains(t, msg, `package.digest "md5"`)
	assert.Contains(t, msg, "package.level 11")
}

func TestValidatePipeline_Cases(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*entities.Pipeline)
		want   string
	}{
		{"bad trigger", func(p *entities.Pipeline) { p.Trigger.Tags = []string{"[unclosed"} }, "trigger"},
		{"no source", func(p *entities.Pipeline) { p.Source.URL = "" }, "source.url"},
		{"skip source is fine", func(p *entities.Pipeline) { p.Source.URL = ""; p.Source.Skip = true }, ""},
		{"bad cache compression", func(p *entities.Pipeline) { p.Cache.Compression = "gzip" }, "cache.compression"},
		{"cache disabled ignores compression", func(p *entities.Pipeline) { p.Cache.Enabled = false; p.Cache.Compression = "gzip" }, ""},
		{"template without target", func(p *entities.Pipeline) { p.Build.ConfigTemplate = "config.toml.in" }, "set together"},
		{"name without tag", func(p *entities.Pipeline) { p.Package.Name = "rust" }, "{tag}"},
		{"input dir is workspace", func(p *entities.Pipeline) { p.Package.InputDir = "." }, "package.input_dir"},
		{"input dir escapes", func(p *entities.Pipeline) { p.Package.InputDir = "../dist" }, "package.input_dir"},
		{"input dir absolute", func(p *entities.Pipeline) { p.Package.InputDir = "/tmp/dist" }, "package.input_dir"},
		{"level zero ok", func(p *entities.Pipeline) { p.Package.Level = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPipeline()
			tt.mutate(p)
			err := ValidatePipeline(p)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
