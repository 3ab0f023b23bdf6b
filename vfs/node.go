// Package vfs is the filesystem view the drive navigates: nodes for files
// and directories on a storage backend, a restartable directory cursor and
// positioned streams.
package vfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
)

var (
	// ErrNotDirectory is returned when a directory operation hits a file.
	ErrNotDirectory = errors.New("not a directory")

	// ErrIsDirectory is returned when a stream is requested for a directory.
	ErrIsDirectory = errors.New("is a directory")
)

// Meta carries the descriptive attributes shown in a listing header.
type Meta struct {
	Host    string
	Path    string
	Archive string
	Image   string
	// Header and ID override the listing title when set.
	Header     string
	ID         string
	BlocksFree uint16
}

// Node is a file, directory or media entry the drive can be positioned at.
type Node interface {
	URL() string
	Path() string
	Name() string
	Extension() string

	IsDirectory() bool
	HasSubdirectories() bool
	IsRoot() bool
	// IsPETSCII reports that Name and Extension are already in the drive
	// character set.
	IsPETSCII() bool
	Exists() bool

	Size() int64
	Blocks() uint32
	Meta() Meta

	// Cd resolves p relative to the node. Resolving a missing file inside
	// an existing directory succeeds and yields a node that does not exist
	// yet; anything else that cannot be resolved is an error.
	Cd(p string) (Node, error)
	Parent() Node

	// NextEntry returns the next directory entry. At the end it returns
	// io.EOF and rewinds, so the following call starts over.
	NextEntry() (Node, error)
	Rewind()

	OpenStream(mode Mode) (Stream, error)
	AvailableSpace() uint64
}

type fsNode struct {
	storage *Storage
	path    string
	dir     bool

	entries []Node
	listed  bool
	next    int
}

func (n *fsNode) URL() string  { return n.storage.url(n.path) }
func (n *fsNode) Path() string { return n.path }

func (n *fsNode) Name() string {
	if n.IsRoot() {
		return "/"
	}
	base := path.Base(n.path)
	if n.dir {
		return base
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}

func (n *fsNode) Extension() string {
	if n.dir {
		return ""
	}
	base := path.Base(n.path)
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		return strings.ToLower(base[i+1:])
	}
	return ""
}

func (n *fsNode) IsDirectory() bool       { return n.dir }
func (n *fsNode) HasSubdirectories() bool { return true }
func (n *fsNode) IsRoot() bool            { return n.path == "/" }
func (n *fsNode) IsPETSCII() bool         { return false }

func (n *fsNode) Exists() bool {
	_, err := n.storage.stat(n.path)
	return err == nil
}

func (n *fsNode) Size() int64 {
	st, err := n.storage.stat(n.path)
	if err != nil {
		return 0
	}
	return st.Size
}

func (n *fsNode) Blocks() uint32 {
	if n.dir {
		return 0
	}
	return Blocks(n.Size())
}

func (n *fsNode) Meta() Meta {
	return Meta{
		Host: n.storage.fs.URL(),
		Path: n.path,
	}
}

// Disposer exposes the storage so stream owners can release cached state.
func (n *fsNode) Disposer() Disposer { return n.storage }

func (n *fsNode) dirPath() string {
	if n.dir {
		return n.path
	}
	return path.Dir(n.path)
}

func (n *fsNode) Parent() Node {
	if n.IsRoot() {
		return n
	}
	return &fsNode{storage: n.storage, path: path.Dir(n.path), dir: true}
}

func (n *fsNode) Cd(p string) (Node, error) {
	if p == "" {
		return n, nil
	}

	cur := n.dirPath()
	if strings.HasPrefix(p, "/") {
		cur = "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..", "_", "←":
			cur = path.Dir(cur)
			continue
		}

		last := i == len(parts)-1
		st, err := n.storage.resolve(cur, part)
		if err != nil {
			if last && isNotExist(err) && !hasWildcard(part) {
				return &fsNode{storage: n.storage, path: path.Join(cur, part)}, nil
			}
			return nil, fmt.Errorf("cd %s: %w", path.Join(cur, part), err)
		}
		next := path.Join(cur, st.Name)
		if !st.IsDir {
			if !last {
				return nil, fmt.Errorf("cd %s: %w", next, ErrNotDirectory)
			}
			return &fsNode{storage: n.storage, path: next}, nil
		}
		cur = next
	}
	return &fsNode{storage: n.storage, path: cur, dir: true}, nil
}

func (n *fsNode) NextEntry() (Node, error) {
	if !n.dir {
		return nil, ErrNotDirectory
	}
	if !n.listed {
		entries, err := n.storage.list(n.path)
		if err != nil {
			return nil, err
		}
		n.entries = make([]Node, 0, len(entries))
		for _, e := range entries {
			n.entries = append(n.entries, &fsNode{
				storage: n.storage,
				path:    path.Join(n.path, e.Name),
				dir:     e.IsDir,
			})
		}
		n.listed = true
		n.next = 0
	}
	if n.next >= len(n.entries) {
		n.Rewind()
		return nil, io.EOF
	}
	e := n.entries[n.next]
	n.next++
	return e, nil
}

func (n *fsNode) Rewind() {
	n.entries = nil
	n.listed = false
	n.next = 0
}

func (n *fsNode) OpenStream(mode Mode) (Stream, error) {
	if n.dir {
		return nil, fmt.Errorf("%s: %w", n.path, ErrIsDirectory)
	}
	fsys := n.storage.fs
	switch mode {
	case ModeRead:
		st, err := n.storage.stat(n.path)
		if err != nil {
			return nil, err
		}
		if st.IsDir {
			return nil, fmt.Errorf("%s: %w", n.path, ErrIsDirectory)
		}
		f, err := fsys.Open(n.path)
		if err != nil {
			return nil, err
		}
		return newFileStream(n.URL(), f, mode, st.Size, n.HasSubdirectories()), nil
	case ModeWrite:
		n.storage.Dispose(n.URL())
		f, err := fsys.Create(n.path)
		if err != nil {
			return nil, err
		}
		return newFileStream(n.URL(), f, mode, 0, n.HasSubdirectories()), nil
	}
	return nil, fmt.Errorf("%s: unsupported mode %s", n.path, mode)
}

func (n *fsNode) AvailableSpace() uint64 {
	return n.storage.free(n.dirPath())
}

// resolve finds name inside dir: exact, then case-insensitive, then by
// name without extension, then as a wildcard pattern.
func (s *Storage) resolve(dir, name string) (entry, error) {
	if !hasWildcard(name) {
		e, err := s.stat(path.Join(dir, name))
		if err == nil {
			return entry{Name: path.Base(path.Join(dir, name)), IsDir: e.IsDir}, nil
		}
		if !isNotExist(err) {
			return entry{}, err
		}
	}

	entries, err := s.list(dir)
	if err != nil {
		if isNotExist(err) {
			return entry{}, fmt.Errorf("%s: %w", dir, fs.ErrNotExist)
		}
		return entry{}, err
	}
	want := strings.ToLower(name)
	for _, match := range []func(e entry) bool{
		func(e entry) bool { return strings.ToLower(e.Name) == want },
		func(e entry) bool { return !e.IsDir && strings.ToLower(trimExt(e.Name)) == want },
		func(e entry) bool {
			if !hasWildcard(want) || strings.HasPrefix(e.Name, ".") {
				return false
			}
			lower := strings.ToLower(e.Name)
			ok1, _ := path.Match(want, lower)
			ok2, _ := path.Match(want, trimExt(lower))
			return ok1 || ok2
		},
	} {
		for _, e := range entries {
			if c := (entry{Name: e.Name, IsDir: e.IsDir}); match(c) {
				return c, nil
			}
		}
	}
	return entry{}, fmt.Errorf("%s: %w", path.Join(dir, name), fs.ErrNotExist)
}

type entry struct {
	Name  string
	IsDir bool
}

func trimExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

func hasWildcard(s string) bool {
	return strings.ContainsAny(s, "*?")
}
