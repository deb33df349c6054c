package gateways

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ochairo/kiln/internal/domain/entities"
	"github.com/ochairo/kiln/internal/domain/services"
	"github.com/ochairo/kiln/internal/external-adapters/gpg"
)

// digestAlgorithms in lookup preference order
var digestAlgorithms = []string{entities.DigestSHA256, entities.DigestSHA512, entities.DigestBLAKE3}

// ArtifactFinder locates a packed archive and its companion files on disk
type ArtifactFinder struct{}

// NewArtifactFinder creates a new artifact finder
func NewArtifactFinder() *ArtifactFinder {
	return &ArtifactFinder{}
}

// Find looks for archiveName in dir together with its digest file and
// optional signature
func (f *ArtifactFinder) Find(dir, archiveName string) (*entities.Artifact, *entities.DigestFile, error) {
	archivePath := filepath.Join(dir, archiveName)
	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, nil, fmt.Errorf("archive not found: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, nil, fmt.Errorf("archive %s is not a regular file", archivePath)
	}

	artifact := &entities.Artifact{
		Name:  archiveName,
		Path:  archivePath,
		Codec: codecFromName(archiveName),
		Size:  info.Size(),
	}

	for _, algorithm := range digestAlgorithms {
		digestPath := archivePath + "." + algorithm
		if _, err := os.Stat(digestPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, nil, err
		}

		digest := &entities.DigestFile{Path: digestPath, Algorithm: algorithm}
		if _, err := os.Stat(digestPath + gpg.SignatureSuffix); err == nil {
			digest.SignaturePath = digestPath + gpg.SignatureSuffix
		}
		return artifact, digest, nil
	}

	return nil, nil, fmt.Errorf("no digest file found for %s", archivePath)
}

func codecFromName(name string) string {
	for _, codec := range []string{entities.CodecTarZst, entities.CodecTarLZ4, entities.Codec7z} {
		ext, _ := services.ArchiveExtension(codec)
		if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
			return codec
		}
	}
	return ""
}
