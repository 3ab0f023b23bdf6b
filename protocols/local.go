package protocols

import (
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// LocalFileSystem serves a directory of the host (the SD card on real
// hardware). Fs may be preset, e.g. to an in-memory filesystem; otherwise
// Init roots an OS filesystem at RootPath.
type LocalFileSystem struct {
	RootPath string
	Fs       afero.Fs
}

func (l *LocalFileSystem) Init() error {
	if l.Fs != nil {
		return nil
	}
	if err := os.MkdirAll(l.RootPath, 0755); err != nil {
		return err
	}
	l.Fs = afero.NewBasePathFs(afero.NewOsFs(), l.RootPath)
	return nil
}

func (l *LocalFileSystem) Close() error {
	return nil
}

func (l *LocalFileSystem) URL() string {
	return ""
}

func (l *LocalFileSystem) List(p string) ([]FileEntry, error) {
	infos, err := afero.ReadDir(l.Fs, clean(p))
	if err != nil {
		return nil, err
	}

	files := make([]FileEntry, 0, len(infos))
	for _, info := range infos {
		files = append(files, FileEntry{
			Name:    info.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   info.IsDir(),
			Path:    path.Join(p, info.Name()),
		})
	}
	return files, nil
}

func (l *LocalFileSystem) Open(p string) (File, error) {
	return l.Fs.Open(clean(p))
}

func (l *LocalFileSystem) Create(p string) (File, error) {
	return l.Fs.OpenFile(clean(p), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
}

func (l *LocalFileSystem) Stat(p string) (*FileEntry, error) {
	info, err := l.Fs.Stat(clean(p))
	if err != nil {
		return nil, err
	}
	return &FileEntry{
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
		Path:    strings.TrimPrefix(p, "/"),
	}, nil
}

func (l *LocalFileSystem) Free(p string) (uint64, error) {
	if _, ok := l.Fs.(*afero.BasePathFs); !ok || l.RootPath == "" {
		return 0, ErrFreeUnsupported
	}
	return diskFree(path.Join(l.RootPath, clean(p)))
}

func (l *LocalFileSystem) KeepAlive() error {
	return nil
}

func clean(p string) string {
	return path.Join("/", p)
}
