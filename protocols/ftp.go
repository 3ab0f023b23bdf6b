package protocols

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
)

var errFTPReadOnly = errors.New("ftp: file opened read-only")
var errFTPWriteOnly = errors.New("ftp: file opened write-only")

type FTPFileSystem struct {
	Host     string
	Port     int
	User     string
	Password string
	RootPath string

	// conn carries one command or transfer at a time.
	mu   sync.Mutex
	conn *ftp.ServerConn
}

func (f *FTPFileSystem) Init() error {
	addr := fmt.Sprintf("%s:%d", f.Host, f.Port)
	c, err := ftp.Dial(addr, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return err
	}

	if err := c.Login(f.User, f.Password); err != nil {
		c.Quit()
		return err
	}
	f.conn = c
	return nil
}

func (f *FTPFileSystem) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return nil
	}
	err := f.conn.Quit()
	f.conn = nil
	return err
}

func (f *FTPFileSystem) URL() string {
	return fmt.Sprintf("ftp://%s:%d", f.Host, f.Port)
}

func (f *FTPFileSystem) List(relPath string) ([]FileEntry, error) {
	fullPath := path.Join(f.RootPath, relPath)
	f.mu.Lock()
	entries, err := f.conn.List(fullPath)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var files []FileEntry
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		files = append(files, FileEntry{
			Name:    entry.Name,
			Size:    int64(entry.Size),
			ModTime: entry.Time,
			IsDir:   entry.Type == ftp.EntryTypeFolder,
			Path:    path.Join(relPath, entry.Name),
		})
	}
	return files, nil
}

// Open downloads the file, so no data connection stays open between
// reads and seeks are free.
func (f *FTPFileSystem) Open(relPath string) (File, error) {
	fullPath := path.Join(f.RootPath, relPath)
	f.mu.Lock()
	defer f.mu.Unlock()

	resp, err := f.conn.Retr(fullPath)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp)
	if cerr := resp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return &ftpFile{path: fullPath, r: bytes.NewReader(data)}, nil
}

// Create buffers writes and uploads them with STOR on Close.
func (f *FTPFileSystem) Create(relPath string) (File, error) {
	fullPath := path.Join(f.RootPath, relPath)
	return &ftpFile{path: fullPath, w: &bytes.Buffer{}, store: f.stor}, nil
}

func (f *FTPFileSystem) stor(fullPath string, r io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn.Stor(fullPath, r)
}

func (f *FTPFileSystem) Stat(relPath string) (*FileEntry, error) {
	fullPath := path.Join(f.RootPath, relPath)
	if relPath == "" || relPath == "/" || relPath == "." {
		return &FileEntry{Name: "/", IsDir: true, Path: ""}, nil
	}
	parent := path.Dir(fullPath)
	name := path.Base(fullPath)

	f.mu.Lock()
	entries, err := f.conn.List(parent)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.Name == name {
			return &FileEntry{
				Name:    entry.Name,
				Size:    int64(entry.Size),
				ModTime: entry.Time,
				IsDir:   entry.Type == ftp.EntryTypeFolder,
				Path:    relPath,
			}, nil
		}
	}
	return nil, fmt.Errorf("file not found: %s: %w", relPath, os.ErrNotExist)
}

func (f *FTPFileSystem) Free(string) (uint64, error) {
	return 0, ErrFreeUnsupported
}

func (f *FTPFileSystem) KeepAlive() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return nil
	}
	return f.conn.NoOp()
}

type ftpFile struct {
	path   string
	r      *bytes.Reader
	w      *bytes.Buffer
	store  func(path string, r io.Reader) error
	closed bool
}

func (f *ftpFile) Read(p []byte) (int, error) {
	if f.r == nil {
		return 0, errFTPWriteOnly
	}
	return f.r.Read(p)
}

func (f *ftpFile) Write(p []byte) (int, error) {
	if f.w == nil {
		return 0, errFTPReadOnly
	}
	if f.closed {
		return 0, os.ErrClosed
	}
	return f.w.Write(p)
}

func (f *ftpFile) Seek(offset int64, whence int) (int64, error) {
	if f.r != nil {
		return f.r.Seek(offset, whence)
	}
	pos := int64(f.w.Len())
	if (whence == io.SeekCurrent && offset == 0) || (whence == io.SeekStart && offset == pos) {
		return pos, nil
	}
	return pos, errFTPWriteOnly
}

func (f *ftpFile) Close() error {
	if f.w == nil || f.closed {
		return nil
	}
	f.closed = true
	return f.store(f.path, bytes.NewReader(f.w.Bytes()))
}
