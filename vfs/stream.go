package vfs

import (
	"errors"
	"fmt"
	"io"

	"iecdrive/protocols"
)

// Mode selects how a stream is opened.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Stream is an open, positioned handle on a resource.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer

	URL() string
	Size() int64
	Position() int64
	// Seek moves the cursor to an absolute position.
	Seek(pos int64) error
	// SeekSector moves the cursor to the first byte of (track, sector).
	SeekSector(track, sector int) error
	// Reset clears the error and end-of-stream flags.
	Reset()
	Err() error
	EOS() bool
	Mode() Mode
	HasSubdirs() bool
}

type fileStream struct {
	url     string
	file    protocols.File
	mode    Mode
	size    int64
	pos     int64
	err     error
	eos     bool
	subdirs bool
}

func newFileStream(url string, f protocols.File, mode Mode, size int64, subdirs bool) *fileStream {
	return &fileStream{
		url:     url,
		file:    f,
		mode:    mode,
		size:    size,
		subdirs: subdirs,
	}
}

// Read fills p as far as the resource allows. Reaching the end is not an
// error, it sets the end-of-stream flag.
func (s *fileStream) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n, err := io.ReadFull(s.file, p)
	s.pos += int64(n)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		s.eos = true
	default:
		s.err = err
		return n, err
	}
	if s.size > 0 && s.pos >= s.size {
		s.eos = true
	}
	return n, nil
}

func (s *fileStream) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.mode != ModeWrite {
		return 0, fmt.Errorf("%s: stream opened for %s", s.url, s.mode)
	}
	n, err := s.file.Write(p)
	s.pos += int64(n)
	if s.pos > s.size {
		s.size = s.pos
	}
	if err != nil {
		s.err = err
	}
	return n, err
}

func (s *fileStream) Close() error {
	return s.file.Close()
}

func (s *fileStream) URL() string      { return s.url }
func (s *fileStream) Size() int64      { return s.size }
func (s *fileStream) Position() int64  { return s.pos }
func (s *fileStream) Err() error       { return s.err }
func (s *fileStream) EOS() bool        { return s.eos }
func (s *fileStream) Mode() Mode       { return s.mode }
func (s *fileStream) HasSubdirs() bool { return s.subdirs }

func (s *fileStream) Seek(pos int64) error {
	if pos < 0 {
		return fmt.Errorf("%s: negative seek %d", s.url, pos)
	}
	abs, err := s.file.Seek(pos, io.SeekStart)
	if err != nil {
		s.err = err
		return err
	}
	s.pos = abs
	s.eos = s.mode == ModeRead && s.size > 0 && abs >= s.size
	return nil
}

func (s *fileStream) SeekSector(track, sector int) error {
	off, err := SectorOffset(track, sector)
	if err != nil {
		return err
	}
	return s.Seek(off)
}

func (s *fileStream) Reset() {
	s.err = nil
	s.eos = false
}
