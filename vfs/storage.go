package vfs

import (
	"errors"
	"io/fs"
	"path"
	"sync"

	log "github.com/sirupsen/logrus"

	"iecdrive/protocols"
)

// Disposer is notified when the drive lets go of a url, so any state kept
// for it can be dropped.
type Disposer interface {
	Dispose(url string)
}

// Storage binds a backend to the node tree and keeps a stat cache, which
// matters for remote backends where a stat costs a directory listing.
type Storage struct {
	fs    protocols.FileSystem
	label string

	mu    sync.Mutex
	stats map[string]protocols.FileEntry
}

// NewStorage wraps fs. label names the storage in listings, e.g. "SD".
func NewStorage(fs protocols.FileSystem, label string) *Storage {
	return &Storage{
		fs:    fs,
		label: label,
		stats: make(map[string]protocols.FileEntry),
	}
}

// Root returns the node for the backend root directory.
func (s *Storage) Root() Node {
	return &fsNode{storage: s, path: "/", dir: true}
}

// Open returns the node for an absolute path, which must exist.
func (s *Storage) Open(p string) (Node, error) {
	return s.Root().Cd(path.Join("/", p))
}

func (s *Storage) Label() string { return s.label }

func (s *Storage) FileSystem() protocols.FileSystem { return s.fs }

// Dispose drops cached state for url.
func (s *Storage) Dispose(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stats, s.pathOf(url))
}

func (s *Storage) url(p string) string {
	return s.fs.URL() + p
}

func (s *Storage) pathOf(url string) string {
	prefix := s.fs.URL()
	if len(url) >= len(prefix) && url[:len(prefix)] == prefix {
		return url[len(prefix):]
	}
	return url
}

func (s *Storage) stat(p string) (protocols.FileEntry, error) {
	s.mu.Lock()
	if st, ok := s.stats[p]; ok {
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	if p == "/" {
		return protocols.FileEntry{Name: "/", IsDir: true}, nil
	}
	st, err := s.fs.Stat(p)
	if err != nil {
		return protocols.FileEntry{}, err
	}
	s.remember(p, *st)
	return *st, nil
}

func (s *Storage) remember(p string, st protocols.FileEntry) {
	s.mu.Lock()
	s.stats[p] = st
	s.mu.Unlock()
}

func (s *Storage) list(p string) ([]protocols.FileEntry, error) {
	entries, err := s.fs.List(p)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		s.remember(path.Join(p, e.Name), e)
	}
	return entries, nil
}

func (s *Storage) free(p string) uint64 {
	n, err := s.fs.Free(p)
	if err != nil {
		if !errors.Is(err, protocols.ErrFreeUnsupported) {
			log.WithFields(log.Fields{"path": p, "error": err}).Warn("free space query failed")
		}
		return 0
	}
	return n
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
