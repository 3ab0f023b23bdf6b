package iec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spf13/afero"

	"iecdrive/protocols"
	"iecdrive/vfs"
)

type send struct {
	data []byte
	eoi  bool
}

// captureTransport records what the drive puts on the bus. limit caps the
// number of bytes the host accepts; negative means no cap.
type captureTransport struct {
	sends    []send
	limit    int
	timeouts int
	incoming [][]byte
}

func newCapture() *captureTransport {
	return &captureTransport{limit: -1}
}

func (c *captureTransport) accept(n int) int {
	if c.limit < 0 {
		return n
	}
	if n > c.limit {
		n = c.limit
	}
	c.limit -= n
	return n
}

func (c *captureTransport) SendByte(b byte, eoi bool) bool {
	return c.SendBytes([]byte{b}, eoi) == 1
}

func (c *captureTransport) SendBytes(buf []byte, eoi bool) int {
	n := c.accept(len(buf))
	c.sends = append(c.sends, send{data: append([]byte(nil), buf[:n]...), eoi: eoi && n == len(buf)})
	return n
}

func (c *captureTransport) Receive() ([]byte, error) {
	if len(c.incoming) == 0 {
		return nil, errors.New("nothing to receive")
	}
	p := c.incoming[0]
	c.incoming = c.incoming[1:]
	return p, nil
}

func (c *captureTransport) SenderTimeout() { c.timeouts++ }

func (c *captureTransport) bytes() []byte {
	var buf bytes.Buffer
	for _, s := range c.sends {
		buf.Write(s.data)
	}
	return buf.Bytes()
}

func (c *captureTransport) eoiCount() int {
	n := 0
	for _, s := range c.sends {
		if s.eoi {
			n++
		}
	}
	return n
}

func (c *captureTransport) reset() {
	c.sends = nil
	c.timeouts = 0
}

type recordingMetrics struct {
	opened   int
	sent     int
	received int
	listings int
	failures map[ErrorKind]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{failures: make(map[ErrorKind]int)}
}

func (m *recordingMetrics) ChannelOpened(int)          { m.opened++ }
func (m *recordingMetrics) BytesSent(_ int, n int)     { m.sent += n }
func (m *recordingMetrics) BytesReceived(_ int, n int) { m.received += n }
func (m *recordingMetrics) ListingSent()               { m.listings++ }
func (m *recordingMetrics) Failed(k ErrorKind)         { m.failures[k]++ }

func newMemStorage(t *testing.T, files map[string][]byte) (*vfs.Storage, afero.Fs) {
	t.Helper()
	mem := afero.NewMemMapFs()
	for name, data := range files {
		if err := afero.WriteFile(mem, name, data, 0644); err != nil {
			t.Fatalf("WriteFile %s: %v", name, err)
		}
	}
	local := &protocols.LocalFileSystem{Fs: mem}
	if err := local.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return vfs.NewStorage(local, "SD"), mem
}

func newTestDrive(t *testing.T, files map[string][]byte, opts ...Option) (*Drive, *captureTransport, afero.Fs) {
	t.Helper()
	storage, mem := newMemStorage(t, files)
	tr := newCapture()
	opts = append([]Option{WithSettings(Settings{DeviceID: 8, Title: "IECDRIVE"})}, opts...)
	d := NewDrive(tr, opts...)
	d.Mount(storage.Root())
	return d, tr, mem
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

// failingNode serves streams whose reads fail.
type failingNode struct {
	vfs.Node
}

func (n failingNode) OpenStream(mode vfs.Mode) (vfs.Stream, error) {
	s, err := n.Node.OpenStream(mode)
	if err != nil {
		return nil, err
	}
	return failingStream{Stream: s}, nil
}

type failingStream struct {
	vfs.Stream
}

func (failingStream) Read([]byte) (int, error) {
	return 0, errors.New("medium error")
}

// unlistableDir is a directory whose entries cannot be enumerated.
type unlistableDir struct {
	vfs.Node
}

func (unlistableDir) NextEntry() (vfs.Node, error) {
	return nil, errors.New("listing refused")
}

// metaNode overrides the listing metadata of a node.
type metaNode struct {
	vfs.Node
	meta vfs.Meta
}

func (n metaNode) Meta() vfs.Meta { return n.meta }

// opaqueImage is a file the drive treats as a directory it cannot
// enumerate, like a disk image in an unknown format.
type opaqueImage struct {
	vfs.Node
}

func (opaqueImage) IsDirectory() bool { return true }

func (opaqueImage) NextEntry() (vfs.Node, error) {
	return nil, errors.New("unknown image format")
}

type pinger struct{ pings int }

func (p *pinger) KeepAlive() error {
	p.pings++
	return nil
}
