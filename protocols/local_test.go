package protocols

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/spf13/afero"
)

func newMemLocal(t *testing.T) *LocalFileSystem {
	t.Helper()
	l := &LocalFileSystem{Fs: afero.NewMemMapFs()}
	if err := l.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return l
}

func TestLocalFileSystem_CreateOpenStat(t *testing.T) {
	l := newMemLocal(t)
	if err := l.Fs.MkdirAll("/games", 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	w, err := l.Create("games/demo.prg")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte{0x01, 0x08, 0xAA}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	w.Close()

	st, err := l.Stat("/games/demo.prg")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Size != 3 || st.IsDir || st.Path != "games/demo.prg" {
		t.Errorf("Stat = %+v", st)
	}

	r, err := l.Open("games/demo.prg")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if _, err := r.Seek(2, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	b, _ := io.ReadAll(r)
	if len(b) != 1 || b[0] != 0xAA {
		t.Errorf("read after seek = %x", b)
	}
}

func TestLocalFileSystem_List(t *testing.T) {
	l := newMemLocal(t)
	l.Fs.MkdirAll("/sub", 0755)
	f, _ := l.Create("a.prg")
	f.Close()

	entries, err := l.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(entries))
	}
	got := map[string]bool{}
	for _, e := range entries {
		got[e.Name] = e.IsDir
	}
	if isDir, ok := got["sub"]; !ok || !isDir {
		t.Errorf("sub missing or not a directory: %v", got)
	}
	if isDir, ok := got["a.prg"]; !ok || isDir {
		t.Errorf("a.prg missing or a directory: %v", got)
	}
}

func TestLocalFileSystem_StatMissing(t *testing.T) {
	l := newMemLocal(t)
	_, err := l.Stat("nope")
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Stat missing = %v, want ErrNotExist", err)
	}
}

func TestLocalFileSystem_FreeOnMemFs(t *testing.T) {
	l := newMemLocal(t)
	if _, err := l.Free(""); !errors.Is(err, ErrFreeUnsupported) {
		t.Errorf("Free = %v, want ErrFreeUnsupported", err)
	}
}

func TestLocalFileSystem_FreeOnDisk(t *testing.T) {
	l := &LocalFileSystem{RootPath: t.TempDir()}
	if err := l.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	free, err := l.Free("")
	if errors.Is(err, ErrFreeUnsupported) {
		t.Skip("platform without statfs")
	}
	if err != nil {
		t.Fatalf("Free: %v", err)
	}
	if free == 0 {
		t.Error("Free reported 0 bytes on a temp dir")
	}
}
