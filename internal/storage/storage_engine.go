package storage

import (
	"context"
	"errors"
	"io"
	"os"

	"pastebin/internal/pasteid"
)

var (
	ErrNotFound          = errors.New("paste not found")
	ErrSizeLimitExceeded = errors.New("paste exceeds size limit")
	ErrIO                = errors.New("storage i/o failure")
)

// StorageEngine maps paste identifiers to stored content.
type StorageEngine interface {
	// CreateOrReplace stores everything read from r under id, replacing any
	// previous content. It returns the number of bytes stored.
	CreateOrReplace(ctx context.Context, id pasteid.ID, r io.Reader) (int64, error)

	// Put stores data under id, replacing any previous content. The upload
	// size limit does not apply; data is already in memory and bounded by
	// the caller.
	Put(ctx context.Context, id pasteid.ID, data []byte) error

	// Read returns the full content stored under id.
	Read(id pasteid.ID) ([]byte, error)

	// Open returns the stored file for streaming along with its size. The
	// caller must close it.
	Open(id pasteid.ID) (*os.File, int64, error)

	// Delete removes the content stored under id.
	Delete(id pasteid.ID) error
}
