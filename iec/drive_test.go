package iec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spf13/afero"

	"iecdrive/vfs"
)

func TestLoadFile(t *testing.T) {
	for _, size := range []int{3, 258, 300, 514, 1000} {
		data := pattern(size)
		m := newRecordingMetrics()
		d, tr, _ := newTestDrive(t, map[string][]byte{"/game.prg": data}, WithMetrics(m))

		d.OpenChannel(Request{Channel: ChannelLoad, Payload: []byte("GAME")})
		if st := d.ReadChannel(Request{Channel: ChannelLoad}); st != StateOpen {
			t.Errorf("size %d: state = %s, want open", size, st)
		}

		if got := tr.bytes(); !bytes.Equal(got, data) {
			t.Errorf("size %d: sent %d bytes, want %d", size, len(got), len(data))
		}
		if len(tr.sends[0].data) != 2 {
			t.Errorf("size %d: first send %d bytes, want the 2 byte load address", size, len(tr.sends[0].data))
		}
		for i, s := range tr.sends {
			if s.eoi != (i == len(tr.sends)-1) {
				t.Errorf("size %d: send %d eoi = %v", size, i, s.eoi)
			}
		}
		if m.sent != size {
			t.Errorf("size %d: metrics sent = %d", size, m.sent)
		}
		if b, ok := d.Registry().LastByte(ChannelLoad); !ok || b != data[size-1] {
			t.Errorf("size %d: last byte = %#x, %v", size, b, ok)
		}
	}
}

func TestLoadTinyFile(t *testing.T) {
	d, tr, _ := newTestDrive(t, map[string][]byte{"/tiny.prg": {0x01, 0x08}})

	d.OpenChannel(Request{Channel: ChannelLoad, Payload: []byte("TINY.PRG")})
	d.ReadChannel(Request{Channel: ChannelLoad})

	if len(tr.sends) != 1 || !tr.sends[0].eoi || !bytes.Equal(tr.sends[0].data, []byte{0x01, 0x08}) {
		t.Errorf("sends = %+v, want one EOI send of the load address", tr.sends)
	}
}

func TestLoadReturnsToDirectory(t *testing.T) {
	d, _, _ := newTestDrive(t, map[string][]byte{"/games/game.prg": pattern(10)})

	d.OpenChannel(Request{Channel: ChannelLoad, Payload: []byte("GAMES/GAME")})
	if loc := d.Location(); loc.Path() != "/games/game.prg" {
		t.Fatalf("location after open = %s", loc.Path())
	}
	d.ReadChannel(Request{Channel: ChannelLoad})
	if loc := d.Location(); loc.Path() != "/games" || !loc.IsDirectory() {
		t.Errorf("location after load = %s", loc.Path())
	}
}

func TestLoadShortWriteResumes(t *testing.T) {
	data := pattern(700)
	d, tr, _ := newTestDrive(t, map[string][]byte{"/big.prg": data})
	tr.limit = 300

	d.OpenChannel(Request{Channel: ChannelLoad, Payload: []byte("BIG")})
	if st := d.ReadChannel(Request{Channel: ChannelLoad}); st != StateError {
		t.Fatalf("state = %s, want error", st)
	}
	if !d.Registry().Has(ChannelLoad) {
		t.Fatal("stream dropped after a short write")
	}
	if tr.timeouts != 0 {
		t.Errorf("timeouts = %d, want 0", tr.timeouts)
	}
	s, _ := d.Registry().Retrieve(ChannelLoad)
	if s.Position() != 300 {
		t.Errorf("position = %d, want 300", s.Position())
	}

	tr.limit = -1
	d.ReadChannel(Request{Channel: ChannelLoad})
	if got := tr.bytes(); !bytes.Equal(got, data) {
		t.Errorf("resumed load sent %d bytes, want %d intact", len(got), len(data))
	}
}

func TestLoadStreamError(t *testing.T) {
	storage, _ := newMemStorage(t, map[string][]byte{"/bad.prg": pattern(10)})
	tr := newCapture()
	m := newRecordingMetrics()
	d := NewDrive(tr, WithMetrics(m))
	d.Mount(storage.Root())

	n, _ := storage.Open("bad.prg")
	if err := d.Registry().Register(2, failingNode{Node: n}, vfs.ModeRead); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if st := d.ReadChannel(Request{Channel: 2}); st != StateError {
		t.Errorf("state = %s, want error", st)
	}
	if tr.timeouts != 1 {
		t.Errorf("timeouts = %d, want 1", tr.timeouts)
	}
	if d.Registry().Has(2) {
		t.Error("stream kept after a read error")
	}
	if m.failures[KindStream] != 1 {
		t.Errorf("stream failures = %d, want 1", m.failures[KindStream])
	}
}

func TestOpenMissingReportsNotFound(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"missing file", "NOPE.PRG"},
		{"missing directory", "NOPE/FILE"},
		{"through a file", "GAME.PRG/X"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, tr, _ := newTestDrive(t, map[string][]byte{"/game.prg": {1, 8}})
			before := d.Location().Path()

			d.OpenChannel(Request{Channel: ChannelLoad, Payload: []byte(tt.payload)})
			if got := d.Location().Path(); got != before {
				t.Errorf("location = %s, want %s", got, before)
			}
			if st := d.ReadChannel(Request{Channel: ChannelLoad}); st != StateError {
				t.Errorf("state = %s, want error", st)
			}
			if tr.timeouts != 1 {
				t.Errorf("timeouts = %d, want 1", tr.timeouts)
			}
			if len(tr.bytes()) != 0 {
				t.Errorf("sent %q", tr.bytes())
			}

			tr.reset()
			d.ReadChannel(Request{Channel: ChannelCommand})
			if got, want := string(tr.bytes()), "62, \"FILE NOT FOUND\",00,00\r"; got != want {
				t.Errorf("status = %q, want %q", got, want)
			}
		})
	}
}

func TestReopenAfterNotFound(t *testing.T) {
	d, tr, _ := newTestDrive(t, map[string][]byte{"/game.prg": pattern(5)})

	d.OpenChannel(Request{Channel: ChannelLoad, Payload: []byte("NOPE")})
	d.ReadChannel(Request{Channel: ChannelLoad})
	tr.reset()

	if st := d.OpenChannel(Request{Channel: ChannelLoad, Payload: []byte("GAME")}); st != StateOpen {
		t.Errorf("state after fresh open = %s", st)
	}
	d.ReadChannel(Request{Channel: ChannelLoad})
	if len(tr.bytes()) != 5 {
		t.Errorf("sent %d bytes, want 5", len(tr.bytes()))
	}
}

func TestSaveAppends(t *testing.T) {
	d, tr, mem := newTestDrive(t, nil)
	p1 := []byte{0x01, 0x08, 0xA9}
	p2 := []byte{0x00, 0x8D, 0x20, 0xD0}

	d.OpenChannel(Request{Channel: ChannelSave, Payload: []byte("@0:NEW.PRG,P,W")})
	d.WriteChannel(Request{Channel: ChannelSave, Payload: p1})
	s, err := d.Registry().Retrieve(ChannelSave)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if s.Position() != int64(len(p1)) {
		t.Errorf("position = %d, want %d", s.Position(), len(p1))
	}

	tr.incoming = [][]byte{p2}
	d.WriteChannel(Request{Channel: ChannelSave})
	if s.Position() != int64(len(p1)+len(p2)) {
		t.Errorf("position = %d, want %d", s.Position(), len(p1)+len(p2))
	}

	if st := d.CloseChannel(Request{Channel: ChannelSave}); st != StateIdle {
		t.Errorf("state after close = %s", st)
	}
	got, err := afero.ReadFile(mem, "/new.prg")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if want := append(append([]byte{}, p1...), p2...); !bytes.Equal(got, want) {
		t.Errorf("saved %x, want %x", got, want)
	}
}

func TestSaveOverwrites(t *testing.T) {
	d, _, mem := newTestDrive(t, map[string][]byte{"/old.prg": pattern(50)})

	d.OpenChannel(Request{Channel: ChannelSave, Payload: []byte("@0:OLD.PRG")})
	d.WriteChannel(Request{Channel: ChannelSave, Payload: []byte{1, 2}})
	d.CloseChannel(Request{Channel: ChannelSave})

	got, _ := afero.ReadFile(mem, "/old.prg")
	if !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("saved %x, want 0102", got)
	}
}

func TestWriteWithoutStream(t *testing.T) {
	d, tr, _ := newTestDrive(t, nil)

	if st := d.WriteChannel(Request{Channel: 5, Payload: []byte{1}}); st != StateError {
		t.Errorf("state = %s, want error", st)
	}
	if tr.timeouts != 1 {
		t.Errorf("timeouts = %d, want 1", tr.timeouts)
	}
	tr.reset()
	d.ReadChannel(Request{Channel: ChannelCommand})
	if got, want := string(tr.bytes()), "61, \"FILE NOT OPEN\",00,05\r"; got != want {
		t.Errorf("status = %q, want %q", got, want)
	}
}

func TestUnmounted(t *testing.T) {
	tr := newCapture()
	d := NewDrive(tr)

	d.OpenChannel(Request{Channel: ChannelLoad, Payload: []byte("$")})
	d.ReadChannel(Request{Channel: ChannelLoad})
	d.WriteChannel(Request{Channel: ChannelSave, Payload: []byte{1}})
	d.CloseChannel(Request{Channel: ChannelLoad})
	if tr.timeouts != 4 {
		t.Errorf("timeouts = %d, want 4", tr.timeouts)
	}

	tr.reset()
	d.ReadChannel(Request{Channel: ChannelCommand})
	if got := string(tr.bytes()); got != statusOK {
		t.Errorf("status = %q, want %q", got, statusOK)
	}
}

func TestUnmountClosesStreams(t *testing.T) {
	d, tr, _ := newTestDrive(t, map[string][]byte{"/a.prg": {1, 2, 3}})

	d.OpenChannel(Request{Channel: 3, Payload: []byte("A")})
	if d.Registry().Len() != 1 {
		t.Fatalf("registry len = %d", d.Registry().Len())
	}
	d.Unmount()
	if d.Registry().Len() != 0 || d.Location() != nil {
		t.Errorf("after unmount: len %d location %v", d.Registry().Len(), d.Location())
	}
	d.ReadChannel(Request{Channel: 3})
	if tr.timeouts != 1 {
		t.Errorf("timeouts = %d, want 1", tr.timeouts)
	}
}

func TestCloseChannel(t *testing.T) {
	d, _, _ := newTestDrive(t, map[string][]byte{"/a.prg": {1}})

	d.OpenChannel(Request{Channel: 4, Payload: []byte("A")})
	if !d.Registry().Has(4) {
		t.Fatal("channel 4 not registered")
	}
	if st := d.CloseChannel(Request{Channel: 4}); st != StateIdle {
		t.Errorf("state = %s, want idle", st)
	}
	if d.Registry().Has(4) {
		t.Error("channel 4 still registered")
	}
}

func TestOpenReplacesChannel(t *testing.T) {
	d, _, _ := newTestDrive(t, map[string][]byte{"/a.prg": {1}, "/b.prg": {2}})

	d.OpenChannel(Request{Channel: 2, Payload: []byte("A")})
	d.OpenChannel(Request{Channel: 2, Payload: []byte("B")})
	s, err := d.Registry().Retrieve(2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if s.URL() != "/b.prg" {
		t.Errorf("channel 2 = %s, want /b.prg", s.URL())
	}
	if d.Registry().Len() != 1 {
		t.Errorf("registry len = %d, want 1", d.Registry().Len())
	}
}

func TestProcessDispatch(t *testing.T) {
	d, tr, _ := newTestDrive(t, map[string][]byte{"/a.prg": {1, 8, 7}})

	d.Process(Request{Primary: PrimaryListen, Secondary: SecondaryOpen, Channel: ChannelLoad, Payload: []byte("A")})
	d.Process(Request{Primary: PrimaryTalk, Secondary: SecondaryReopen, Channel: ChannelLoad})
	if !bytes.Equal(tr.bytes(), []byte{1, 8, 7}) {
		t.Errorf("sent %x", tr.bytes())
	}
	d.Process(Request{Primary: PrimaryListen, Secondary: SecondaryClose, Channel: ChannelLoad})
	if d.Registry().Has(ChannelLoad) {
		t.Error("close did not release the channel")
	}

	d.Process(Request{Primary: PrimaryListen, Secondary: SecondaryOpen, Channel: ChannelSave, Payload: []byte("B")})
	d.Process(Request{Primary: PrimaryListen, Secondary: SecondaryReopen, Channel: ChannelSave, Payload: []byte{9}})
	s, err := d.Registry().Retrieve(ChannelSave)
	if err != nil || s.Position() != 1 {
		t.Errorf("save stream = %v, %v", s, err)
	}
}

func TestMailbox(t *testing.T) {
	d, tr, _ := newTestDrive(t, nil)

	if !d.Post(DeviceIDMsg{ID: 10}) {
		t.Fatal("Post failed")
	}
	if d.Settings().DeviceID != 8 {
		t.Error("message applied before the next call")
	}
	d.OpenChannel(Request{Channel: ChannelLoad, Payload: []byte("$")})
	d.ReadChannel(Request{Channel: ChannelLoad})
	if !bytes.Contains(tr.bytes(), []byte("\" 10 2A")) {
		t.Errorf("listing header lacks new id: %q", tr.bytes())
	}

	tr.reset()
	d.ReadChannel(Request{Channel: ChannelCommand})
	if got, want := string(tr.bytes()), "00, \"ok\",00,15\r"; got != want {
		t.Errorf("status = %q, want %q", got, want)
	}
}

func TestMailboxMount(t *testing.T) {
	storage, _ := newMemStorage(t, map[string][]byte{"/x.prg": {1}})
	d := NewDrive(newCapture())

	done := make(chan string, 1)
	d.Post(MountMsg{Root: storage.Root(), Done: done})
	d.Sync()
	if d.Location() == nil {
		t.Fatal("not mounted")
	}
	if id := <-done; id != d.Session().String() {
		t.Errorf("session %s, want %s", id, d.Session())
	}

	d.Post(UnmountMsg{})
	d.Sync()
	if d.Location() != nil {
		t.Error("still mounted")
	}
}

func TestMailboxFull(t *testing.T) {
	d := NewDrive(newCapture(), WithMailboxSize(1))
	if !d.Post(UnmountMsg{}) {
		t.Fatal("first Post failed")
	}
	if d.Post(UnmountMsg{}) {
		t.Error("Post into a full mailbox succeeded")
	}
}

func TestPrefixCommand(t *testing.T) {
	d, tr, _ := newTestDrive(t, map[string][]byte{"/a.prg": {1}})

	d.OpenChannel(Request{Channel: ChannelCommand, Payload: []byte("PREFIX")})
	d.OpenChannel(Request{Channel: 3, Payload: []byte("A")})
	d.OpenChannel(Request{Channel: ChannelCommand, Payload: []byte("PREFIX,3\r")})
	d.OpenChannel(Request{Channel: ChannelCommand, Payload: []byte("PREFIX,4")})

	for _, want := range []string{
		"255, \"need channel #\",00,-1\r",
		"00, \"/a.prg\",00,03\r",
		"255, \"need channel #\",00,-1\r",
		statusOK,
	} {
		tr.reset()
		d.ReadChannel(Request{Channel: ChannelCommand})
		if got := string(tr.bytes()); got != want {
			t.Errorf("status = %q, want %q", got, want)
		}
	}
	if err := d.execute([]byte("PREFIX,X")); !errors.Is(err, ErrUnrecognized) {
		t.Errorf("execute(PREFIX,X) = %v, want ErrUnrecognized", err)
	}
}

func TestUnsupportedMediaOps(t *testing.T) {
	d := NewDrive(newCapture())
	if err := d.Format(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Format = %v", err)
	}
	if err := d.WriteBlank(256, 683); !errors.Is(err, ErrNotSupported) {
		t.Errorf("WriteBlank = %v", err)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{ErrNotFound, KindNotFound},
		{ErrNotRegistered, KindNoActiveResource},
		{errors.Join(errors.New("x"), ErrShortWrite), KindShortWrite},
		{ErrStream, KindStream},
		{ErrUnrecognized, KindUnrecognized},
		{errors.New("other"), KindOther},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestMailboxMountUnreadDone(t *testing.T) {
	storage, _ := newMemStorage(t, nil)
	d := NewDrive(newCapture())

	d.Post(MountMsg{Root: storage.Root(), Done: make(chan string)})
	d.Sync()
	if d.Location() == nil {
		t.Error("not mounted")
	}
}

func TestMailboxKeepAlive(t *testing.T) {
	d := NewDrive(newCapture())
	p := &pinger{}

	d.Post(KeepAliveMsg{Target: p})
	if p.pings != 0 {
		t.Fatal("ping ran on Post")
	}
	d.Sync()
	if p.pings != 1 {
		t.Errorf("pings = %d, want 1", p.pings)
	}
}

func TestDirectoryAfterSave(t *testing.T) {
	d, tr, _ := newTestDrive(t, nil)

	d.OpenChannel(Request{Channel: ChannelSave, Payload: []byte("NEW")})
	d.WriteChannel(Request{Channel: ChannelSave, Payload: []byte{0x01, 0x08, 0xAA}})
	d.CloseChannel(Request{Channel: ChannelSave})
	if loc := d.Location(); loc.Path() != "/" || !loc.IsDirectory() {
		t.Errorf("location after save = %s", loc.Path())
	}

	d.OpenChannel(Request{Channel: ChannelLoad, Payload: []byte("$")})
	d.ReadChannel(Request{Channel: ChannelLoad})
	got := tr.bytes()
	if !bytes.HasPrefix(got, []byte{0x01, 0x08, 0x01, 0x01}) {
		t.Fatalf("sent % X, want a listing", got)
	}
	if !bytes.Contains(got, []byte(`"NEW"`)) {
		t.Error("listing lacks the saved file")
	}
}

func TestDirectoryAfterDataOpen(t *testing.T) {
	d, tr, _ := newTestDrive(t, map[string][]byte{"/seq.seq": {7, 7, 7, 7}})

	d.OpenChannel(Request{Channel: 2, Payload: []byte("SEQ,S,R")})
	d.OpenChannel(Request{Channel: ChannelLoad, Payload: []byte("$")})
	if loc := d.Location(); loc.Path() != "/" {
		t.Errorf("location = %s, want /", loc.Path())
	}
	if d.Registry().Has(ChannelLoad) {
		t.Error("$ registered a file on the load channel")
	}

	d.ReadChannel(Request{Channel: ChannelLoad})
	if got := tr.bytes(); !bytes.HasPrefix(got, []byte{0x01, 0x08, 0x01, 0x01}) {
		t.Errorf("sent % X, want a listing", got)
	}
	if !d.Registry().Has(2) {
		t.Error("data channel closed by the listing")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	d, tr, _ := newTestDrive(t, map[string][]byte{"/empty.prg": {}})

	d.OpenChannel(Request{Channel: ChannelLoad, Payload: []byte("EMPTY")})
	if st := d.ReadChannel(Request{Channel: ChannelLoad}); st != StateError {
		t.Errorf("state = %s, want error", st)
	}
	if len(tr.sends) != 0 || tr.timeouts != 1 {
		t.Errorf("sends %d timeouts %d, want 0 and 1", len(tr.sends), tr.timeouts)
	}
	if d.Registry().Has(ChannelLoad) {
		t.Error("empty file left registered")
	}
	tr.reset()
	d.ReadChannel(Request{Channel: ChannelCommand})
	if got, want := string(tr.bytes()), "62, \"FILE NOT FOUND\",00,00\r"; got != want {
		t.Errorf("status = %q, want %q", got, want)
	}
}

func TestReadPastEndReplaysLastByte(t *testing.T) {
	d, tr, _ := newTestDrive(t, map[string][]byte{"/a.prg": {0x01, 0x08, 0x60}})

	d.OpenChannel(Request{Channel: ChannelLoad, Payload: []byte("A")})
	d.ReadChannel(Request{Channel: ChannelLoad})
	tr.reset()

	d.ReadChannel(Request{Channel: ChannelLoad})
	if len(tr.sends) != 1 || !tr.sends[0].eoi || !bytes.Equal(tr.sends[0].data, []byte{0x60}) {
		t.Errorf("sends = %+v, want the last byte once with EOI", tr.sends)
	}
	if tr.timeouts != 0 {
		t.Errorf("timeouts = %d", tr.timeouts)
	}
}
