package services

import (
	"fmt"
	"strings"

	"github.com/ochairo/kiln/internal/domain/entities"
)

// ArchiveExtension returns the file suffix for a codec
func ArchiveExtension(codec string) (string, error) {
	switch codec {
	case entities.Codec7z:
		return ".7z", nil
	case entities.CodecTarZst:
		return ".tar.zst", nil
	case entities.CodecTarLZ4:
		return ".tar.lz4", nil
	default:
		return "", fmt.Errorf("unsupported archive codec: %q", codec)
	}
}

// ArchiveName expands the "{tag}" placeholder and appends the codec suffix
func ArchiveName(pattern, tag, codec string) (string, error) {
	ext, err := ArchiveExtension(codec)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(pattern, "{tag}", tag) + ext, nil
}
