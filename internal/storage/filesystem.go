package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// CopyFile copies the contents of srcPath into dest.
func CopyFile(srcPath string, dest io.Writer) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	_, err = io.Copy(dest, srcFile)
	return err
}

// MoveFile renames srcPath to destPath, replacing destPath if it exists.
//
// When the two paths live on different filesystems the contents are first
// copied to a temporary file next to destPath, which is then renamed into
// place. Either way a reader of destPath only ever sees a complete file.
func MoveFile(srcPath string, destPath string) error {
	err := os.Rename(srcPath, destPath)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), "."+filepath.Base(destPath)+"-*.partial")
	if err != nil {
		return err
	}

	copyErr := CopyFile(srcPath, tmp)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	if err := os.Rename(tmp.Name(), destPath); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	// Best-effort cleanup of the source file; ignore ENOENT in case
	// something else already removed it.
	if err := os.Remove(srcPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
