package gateways

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ochairo/kiln/internal/domain/interfaces"
)

// Workspace performs the file-system handoffs between pipeline steps
type Workspace struct {
	logger interfaces.Logger
}

// NewWorkspace creates a workspace adapter
func NewWorkspace(logger interfaces.Logger) *Workspace {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &Workspace{logger: logger}
}

// within joins rel onto root and rejects paths that escape it
func within(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q must be relative", rel)
	}
	joined := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root)
	if joined == cleanRoot || !strings.HasPrefix(joined, cleanRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes %s", rel, root)
	}
	return joined, nil
}

// RemovePaths deletes each path (relative to root) without following
// symlinks. Missing paths are skipped. All failures are reported together.
func (w *Workspace) RemovePaths(root string, paths []string) error {
	var errs []error
	for _, rel := range paths {
		target, err := within(root, rel)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if _, err := os.Lstat(target); errors.Is(err, os.ErrNotExist) {
			w.logger.Debug("nothing to remove", interfaces.F("path", target))
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", target, err))
			continue
		}
		w.logger.Info("removed", interfaces.F("path", target))
	}
	return errors.Join(errs...)
}

// InstallConfig copies template over dest byte for byte
func (w *Workspace) InstallConfig(template, dest string) error {
	info, err := os.Stat(template)
	if err != nil {
		return fmt.Errorf("config template: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("config template %s is not a regular file", template)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := copyFile(template, dest, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to install config: %w", err)
	}
	w.logger.Info("config installed", interfaces.F("template", template), interfaces.F("dest", dest))
	return nil
}

// Relocate moves the src directory to dest, clearing any stale dest first.
// Falls back to copy and delete across file systems.
func (w *Workspace) Relocate(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("build output: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("build output %s is not a directory", src)
	}

	absSrc, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	if absSrc == absDest {
		return nil
	}
	if strings.HasPrefix(absSrc, absDest+string(os.PathSeparator)) {
		return fmt.Errorf("cannot relocate %s into its own parent %s", src, dest)
	}

	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("failed to clear stale %s: %w", dest, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}

	err = os.Rename(src, dest)
	if errors.Is(err, syscall.EXDEV) {
		w.logger.Debug("cross-device move, copying", interfaces.F("src", src), interfaces.F("dest", dest))
		err = copyTree(src, dest)
		if err == nil {
			err = os.RemoveAll(src)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dest, err)
	}

	w.logger.Info("output relocated", interfaces.F("src", src), interfaces.F("dest", dest))
	return nil
}

// MoveFile moves a file into destDir and returns its new path
func (w *Workspace) MoveFile(src, destDir string) (string, error) {
	dest := filepath.Join(destDir, filepath.Base(src))

	absSrc, err := filepath.Abs(src)
	if err != nil {
		return "", err
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return "", err
	}
	if absSrc == absDest {
		return dest, nil
	}

	if err := os.MkdirAll(destDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", destDir, err)
	}

	err = os.Rename(src, dest)
	if errors.Is(err, syscall.EXDEV) {
		var info os.FileInfo
		if info, err = os.Stat(src); err == nil {
			if err = copyFile(src, dest, info.Mode().Perm()); err == nil {
				err = os.Remove(src)
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to move %s: %w", src, err)
	}
	return dest, nil
}

func copyFile(src, dest string, perm os.FileMode) error {
	//nolint:gosec // G304: src comes from the pipeline definition
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	//nolint:errcheck // Defer close on read-only file
	defer in.Close()

	//nolint:gosec // G304: dest comes from the pipeline definition
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// copyTree streams src through the tar writer into dest, keeping symlinks
func copyTree(src, dest string) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeTar(pw, src, ""))
	}()

	err := extractTar(pr, dest)
	_ = pr.CloseWithError(err)
	return err
}
