package protocols

import (
	"errors"
	"io"
	"time"
)

// ErrFreeUnsupported is returned by FileSystem.Free when the backend cannot
// report available space.
var ErrFreeUnsupported = errors.New("free space query not supported")

type FileEntry struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
	Path    string // relative to the backend root
}

// File is an open, positioned handle on a backend file.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

type FileSystem interface {
	Init() error
	Close() error
	// URL identifies the backend in listings, empty for local storage.
	URL() string
	// List returns the entries of the specified directory (non-recursive).
	List(path string) ([]FileEntry, error)
	Open(path string) (File, error)
	// Create opens path for writing, truncating or creating it.
	Create(path string) (File, error)
	Stat(path string) (*FileEntry, error)
	// Free reports the bytes available below path.
	Free(path string) (uint64, error)
	// KeepAlive pings the remote end so idle sessions are not dropped.
	KeepAlive() error
}
