package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"pastebin/internal/pasteid"
)

// LocalFileStorage is a StorageEngine that keeps one file per paste directly
// under root, named by the paste identifier. Incoming uploads are written to
// the staging directory first and renamed into root once complete.
//
// No locking is done. Concurrent writers to the same identifier race and the
// last rename wins.
type LocalFileStorage struct {
	root    string
	staging string
	maxSize int64
}

// NewLocalFileStorage creates the root and staging directories if needed and
// returns a LocalFileStorage over them. A maxSize of zero or less disables
// the upload size limit.
func NewLocalFileStorage(root string, staging string, maxSize int64) (*LocalFileStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root must not be empty")
	}
	if staging == "" {
		staging = filepath.Clean(root) + ".staging"
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %q: %w", root, err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir %q: %w", staging, err)
	}

	return &LocalFileStorage{root: root, staging: staging, maxSize: maxSize}, nil
}

// Root returns the directory holding the stored pastes.
func (s *LocalFileStorage) Root() string {
	return s.root
}

// MaxSize returns the configured upload limit in bytes.
func (s *LocalFileStorage) MaxSize() int64 {
	return s.maxSize
}

// Path computes the filesystem path for id. The identifier alphabet has no
// separators, so the result always names a file directly inside root.
func (s *LocalFileStorage) Path(id pasteid.ID) string {
	return filepath.Join(s.root, id.String())
}

func (s *LocalFileStorage) CreateOrReplace(ctx context.Context, id pasteid.ID, r io.Reader) (int64, error) {
	return s.write(ctx, id, r, s.maxSize)
}

func (s *LocalFileStorage) Put(ctx context.Context, id pasteid.ID, data []byte) error {
	_, err := s.write(ctx, id, bytes.NewReader(data), 0)
	return err
}

// write stages r and renames it over the paste file. A limit of zero or less
// means no limit.
func (s *LocalFileStorage) write(ctx context.Context, id pasteid.ID, r io.Reader, limit int64) (int64, error) {
	tmp, err := os.CreateTemp(s.staging, "upload-*")
	if err != nil {
		return 0, fmt.Errorf("%w: create staging file: %w", ErrIO, err)
	}
	defer func() {
		if err := tmp.Close(); err != nil && !isClosed(err) {
			slog.Debug("Failed to close staging file", "path", tmp.Name(), "err", err)
		}

		// Once the file has been renamed into place this fails with ENOENT.
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			slog.Debug("Failed to remove staging file", "path", tmp.Name(), "err", err)
		}
	}()

	src := io.Reader(&contextReader{ctx: ctx, r: r})
	if limit > 0 {
		src = io.LimitReader(src, limit+1)
	}

	n, err := io.Copy(tmp, src)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("%w: write staging file: %w", ErrIO, err)
	}
	if limit > 0 && n > limit {
		return 0, ErrSizeLimitExceeded
	}

	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("%w: flush staging file: %w", ErrIO, err)
	}

	if err := MoveFile(tmp.Name(), s.Path(id)); err != nil {
		return 0, fmt.Errorf("%w: commit paste %s: %w", ErrIO, id, err)
	}

	return n, nil
}

func (s *LocalFileStorage) Read(id pasteid.ID) ([]byte, error) {
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		return nil, classify(id, err)
	}
	return data, nil
}

func (s *LocalFileStorage) Open(id pasteid.ID) (*os.File, int64, error) {
	f, err := os.Open(s.Path(id))
	if err != nil {
		return nil, 0, classify(id, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, classify(id, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return f, info.Size(), nil
}

func (s *LocalFileStorage) Delete(id pasteid.ID) error {
	if err := os.Remove(s.Path(id)); err != nil {
		return classify(id, err)
	}
	return nil
}

// classify maps a filesystem error onto ErrNotFound or ErrIO.
func classify(id pasteid.ID, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("%w: %w", ErrIO, err)
}

func isClosed(err error) bool {
	return errors.Is(err, os.ErrClosed)
}

// contextReader stops reading once ctx is done so an abandoned upload is
// never committed.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
