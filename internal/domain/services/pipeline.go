package services

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ochairo/kiln/internal/domain/entities"
)

// ValidatePipeline reports every structural problem in a definition at once
func ValidatePipeline(p *entities.Pipeline) error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if p.Name == "" {
		add("name is required")
	}

	if _, err := NewTriggerGate(p.Trigger.Tags); err != nil {
		add("trigger: %w", err)
	}

	if !p.Source.Skip && p.Source.URL == "" {
		add("source.url is required unless source.skip is set")
	}
	if p.Source.Depth < 0 {
		add("source.depth must not be negative")
	}

	if p.Cache.Enabled {
		if p.Cache.Key == "" {
			add("cache.key is required when caching is enabled")
		}
		switch p.Cache.Compression {
		case "zstd", "lz4":
		default:
			add("cache.compression %q must be zstd or lz4", p.Cache.Compression)
		}
		if p.Cache.PurgeMaxAgeMinutes < 0 {
			add("cache.purge_max_age_minutes must not be negative")
		}
	}

	if p.Build.Tool == "" {
		add("build.tool is required")
	}
	if p.Build.OutputDir == "" {
		add("build.output_dir is required")
	}
	if (p.Build.ConfigTemplate == "") != (p.Build.ConfigFile == "") {
		add("build.config_template and build.config_file must be set together")
	}

	switch p.Package.Codec {
	case entities.Codec7z, entities.CodecTarZst, entities.CodecTarLZ4:
	default:
		add("package.codec %q must be one of 7z, tar.zst, tar.lz4", p.Package.Codec)
	}
	if p.Package.Level < 0 || p.Package.Level > 9 {
		add("package.level %d out of range 0..9", p.Package.Level)
	}
	switch p.Package.Digest {
	case entities.DigestSHA256, entities.DigestSHA512, entities.DigestBLAKE3:
	default:
		add("package.digest %q must be one of sha256, sha512, blake3", p.Package.Digest)
	}
	if !isSubdir(p.Package.InputDir) {
		add("package.input_dir %q must be a directory inside the workspace", p.Package.InputDir)
	}
	if !strings.Contains(p.Package.Name, "{tag}") {
		add("package.name %q must contain {tag}", p.Package.Name)
	}

	if p.Release.UploadConcurrency < 0 {
		add("release.upload_concurrency must not be negative")
	}

	return errors.Join(errs...)
}

// isSubdir reports whether rel names a directory strictly below its base
func isSubdir(rel string) bool {
	if rel == "" || filepath.IsAbs(rel) {
		return false
	}
	clean := filepath.Clean(rel)
	return clean != "." && clean != ".." && !strings.HasPrefix(clean, ".."+string(filepath.Separator))
}
