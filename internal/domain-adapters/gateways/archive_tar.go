package gateways

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxExtractedFileSize bounds a single extracted file (decompression bombs)
const maxExtractedFileSize = 64 << 30

// writeTar streams sourceDir into w. Entry names are prefixed with prefix
// (use "" to store paths relative to sourceDir). Symlinks are stored as links.
func writeTar(w io.Writer, sourceDir, prefix string) error {
	tarWriter := tar.NewWriter(w)

	err := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}
		name := filepath.ToSlash(filepath.Join(prefix, relPath))
		if relPath == "." {
			if prefix == "" {
				return nil
			}
			name = filepath.ToSlash(prefix)
		}

		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return fmt.Errorf("failed to read symlink %s: %w", path, err)
			}
		}

		header, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return fmt.Errorf("failed to create tar header: %w", err)
		}
		header.Name = name
		if info.IsDir() {
			header.Name += "/"
		}

		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header: %w", err)
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFileInto(tarWriter, path)
	})
	if err != nil {
		return err
	}

	return tarWriter.Close()
}

func copyFileInto(w io.Writer, path string) error {
	//nolint:gosec // G304: path comes from walking the directory being archived
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer file.Close()

	if _, err := io.Copy(w, file); err != nil {
		return fmt.Errorf("failed to write %s to tar: %w", path, err)
	}
	return nil
}

// extractTar unpacks a tar stream into destDir. Symlinks are created in a
// second pass so their targets exist first.
func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)

	if err := os.MkdirAll(destDir, 0750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	cleanDest := filepath.Clean(destDir)

	type symlinkInfo struct {
		target   string
		linkname string
	}
	var symlinks []symlinkInfo

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("tar read error: %w", err)
		}

		//nolint:gosec // G305: traversal rejected just below
		target := filepath.Join(destDir, header.Name)
		if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
			return fmt.Errorf("invalid file path in archive: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0750); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

		case tar.TypeReg:
			if err := writeExtractedFile(tr, target, header); err != nil {
				return err
			}

		case tar.TypeSymlink:
			symlinks = append(symlinks, symlinkInfo{target: target, linkname: header.Linkname})

		default:
			// device nodes, fifos and hard links have no place in a build tree
			continue
		}
	}

	for _, link := range symlinks {
		if err := os.MkdirAll(filepath.Dir(link.target), 0750); err != nil {
			return fmt.Errorf("failed to create directory for symlink: %w", err)
		}
		_ = os.Remove(link.target)
		if err := os.Symlink(link.linkname, link.target); err != nil {
			return fmt.Errorf("failed to create symlink %s: %w", link.target, err)
		}
	}

	return nil
}

func writeExtractedFile(r io.Reader, target string, header *tar.Header) error {
	if header.Size > maxExtractedFileSize {
		return fmt.Errorf("%s is %d bytes, over the %d byte limit", header.Name, header.Size, int64(maxExtractedFileSize))
	}
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	// An earlier restore may have left a symlink or read-only file here
	_ = os.Remove(target)

	//nolint:gosec // G115: tar header mode fits in FileMode
	outFile, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode).Perm())
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	n, err := io.Copy(outFile, io.LimitReader(r, maxExtractedFileSize+1))
	if err == nil && n > maxExtractedFileSize {
		err = fmt.Errorf("%s exceeds the %d byte limit", header.Name, int64(maxExtractedFileSize))
	}
	if err != nil {
		_ = outFile.Close()
		_ = os.Remove(target)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := outFile.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	if !header.ModTime.IsZero() {
		_ = os.Chtimes(target, header.ModTime, header.ModTime)
	}
	return nil
}
