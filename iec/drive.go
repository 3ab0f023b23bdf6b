// Package iec implements the protocol side of a Commodore serial bus disk
// drive: the channel entry points a bus transport calls, the DOS command
// interpreter, directory listings and file transfers.
package iec

import (
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"iecdrive/vfs"
)

// Settings are the user facing drive settings.
type Settings struct {
	DeviceID int
	// Title heads the listing when the location carries no header of its
	// own. It is sent as is, so it should already be PETSCII.
	Title string
	// LocalLabel names the local storage entry shown at the root of a
	// listing. Empty hides it.
	LocalLabel string
}

// DefaultSettings returns the settings of a freshly powered drive.
func DefaultSettings() Settings {
	return Settings{DeviceID: 8, Title: "IECDRIVE", LocalLabel: "SD"}
}

// Metrics receives drive events.
type Metrics interface {
	ChannelOpened(channel int)
	BytesSent(channel, n int)
	BytesReceived(channel, n int)
	ListingSent()
	Failed(kind ErrorKind)
}

type nopMetrics struct{}

func (nopMetrics) ChannelOpened(int)      {}
func (nopMetrics) BytesSent(int, int)     {}
func (nopMetrics) BytesReceived(int, int) {}
func (nopMetrics) ListingSent()           {}
func (nopMetrics) Failed(ErrorKind)       {}

// Option configures a Drive.
type Option func(*Drive)

// WithSettings replaces the default settings.
func WithSettings(s Settings) Option {
	return func(d *Drive) { d.settings = s }
}

// WithMetrics sets the event sink.
func WithMetrics(m Metrics) Option {
	return func(d *Drive) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithMailboxSize sets how many messages can wait for the drive.
func WithMailboxSize(n int) Option {
	return func(d *Drive) { d.mailbox = make(chan Message, n) }
}

// Drive is one emulated disk drive. Its entry points are called from a
// single goroutine, the one running the bus; other goroutines talk to it
// through Post.
type Drive struct {
	transport Transport
	registry  *Registry
	location  vfs.Node
	state     State
	settings  Settings
	statuses  statusQueue
	notFound  map[int]bool
	mailbox   chan Message
	metrics   Metrics
	session   uuid.UUID
}

// NewDrive returns an unmounted drive talking to t.
func NewDrive(t Transport, opts ...Option) *Drive {
	d := &Drive{
		transport: t,
		registry:  NewRegistry(),
		settings:  DefaultSettings(),
		notFound:  make(map[int]bool),
		mailbox:   make(chan Message, 16),
		metrics:   nopMetrics{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the state left by the last call.
func (d *Drive) State() State { return d.state }

// Location returns the node the drive is positioned at, nil when unmounted.
func (d *Drive) Location() vfs.Node { return d.location }

// Settings returns the settings currently in effect.
func (d *Drive) Settings() Settings { return d.settings }

// Registry exposes the channel streams.
func (d *Drive) Registry() *Registry { return d.registry }

// Session identifies the current mount.
func (d *Drive) Session() uuid.UUID { return d.session }

// Mount positions the drive at root and starts a new session. Streams of a
// previous mount are closed.
func (d *Drive) Mount(root vfs.Node) uuid.UUID {
	d.Unmount()
	d.location = root
	d.state = StateIdle
	d.session = uuid.New()
	if p, ok := root.(interface{ Disposer() vfs.Disposer }); ok {
		d.registry.SetDisposer(p.Disposer())
	}
	log.WithFields(log.Fields{"url": root.URL(), "session": d.session}).Info("mounted")
	return d.session
}

// Unmount closes every stream and leaves the drive without a location.
func (d *Drive) Unmount() {
	if d.location == nil {
		return
	}
	if err := d.registry.CloseAll(); err != nil {
		log.WithError(err).Warn("closing streams on unmount")
	}
	log.WithFields(log.Fields{"url": d.location.URL(), "session": d.session}).Info("unmounted")
	d.location = nil
	d.notFound = make(map[int]bool)
	d.state = StateIdle
	d.session = uuid.Nil
}

// Format is not supported by file backed storage.
func (d *Drive) Format() error {
	return fmt.Errorf("format: %w", ErrNotSupported)
}

// WriteBlank is not supported by file backed storage.
func (d *Drive) WriteBlank(sectorSize, numSectors int) error {
	return fmt.Errorf("write blank %dx%d: %w", numSectors, sectorSize, ErrNotSupported)
}

// Process routes a raw bus request by its secondary address.
func (d *Drive) Process(req Request) State {
	switch req.Secondary {
	case SecondaryOpen:
		return d.OpenChannel(req)
	case SecondaryClose:
		return d.CloseChannel(req)
	case SecondaryReopen:
		if req.Primary == PrimaryTalk {
			return d.ReadChannel(req)
		}
		return d.WriteChannel(req)
	}
	log.WithField("request", req.String()).Debug("request ignored")
	return d.state
}

// OpenChannel handles an open. On the command channel the payload is a
// command; elsewhere it names the resource to position at.
func (d *Drive) OpenChannel(req Request) State {
	s := d.sync()
	if !validChannel(req.Channel) {
		log.WithField("channel", req.Channel).Warn("open on invalid channel")
		return d.state
	}
	if req.Channel == ChannelCommand {
		d.execute(req.Payload)
		return d.state
	}
	if d.location == nil {
		d.transport.SenderTimeout()
		d.metrics.Failed(KindNoActiveResource)
		return d.state
	}

	d.registry.Close(req.Channel)
	d.registry.FlushLastByte(req.Channel)
	delete(d.notFound, req.Channel)
	d.state = StateOpen
	d.metrics.ChannelOpened(req.Channel)

	p := openPath(req.Payload)
	log.WithFields(log.Fields{"channel": req.Channel, "path": p, "device": s.DeviceID}).Debug("open")
	if p == "" && !d.location.IsDirectory() {
		d.location = d.location.Parent()
	}
	if len(req.Payload) == 0 {
		return d.state
	}

	prev := d.location
	if err := d.navigate(p); err != nil {
		log.WithFields(log.Fields{"path": p, "error": err}).Info("navigation failed")
		d.notFound[req.Channel] = true
		return d.state
	}
	if d.location.IsDirectory() {
		return d.state
	}
	if err := d.registry.Register(req.Channel, d.location, modeFor(req.Channel)); err != nil {
		log.WithFields(log.Fields{"channel": req.Channel, "error": err}).Info("file doesn't exist")
		d.location = prev
		d.notFound[req.Channel] = true
	}
	return d.state
}

// CloseChannel releases the channel's stream.
func (d *Drive) CloseChannel(req Request) State {
	d.sync()
	if d.location == nil {
		d.transport.SenderTimeout()
		return d.state
	}
	if stream, err := d.registry.Retrieve(req.Channel); err == nil {
		d.leaveFile(stream.URL())
	}
	d.registry.Close(req.Channel)
	delete(d.notFound, req.Channel)
	d.state = StateIdle
	return d.state
}

// ReadChannel answers a talk: the status on the command channel, a listing
// or file data elsewhere.
func (d *Drive) ReadChannel(req Request) State {
	s := d.sync()
	if req.Channel == ChannelCommand {
		d.transport.SendBytes([]byte(d.statuses.pop()), true)
		return d.state
	}
	if d.location == nil {
		d.transport.SenderTimeout()
		d.metrics.Failed(KindNoActiveResource)
		return d.state
	}
	if d.notFound[req.Channel] {
		d.fileNotFound(req.Channel)
		return d.state
	}

	var err error
	switch {
	case req.Channel == ChannelLoad && d.registry.Has(req.Channel):
		err = d.sendFile(req.Channel)
	case req.Channel == ChannelLoad && d.location.IsDirectory():
		err = d.sendListing(req.Channel, s)
	default:
		err = d.sendFile(req.Channel)
	}
	if err != nil {
		log.WithFields(log.Fields{"channel": req.Channel, "kind": KindOf(err), "error": err}).Debug("read failed")
	}
	return d.state
}

// WriteChannel accepts data from the host. A nil payload is fetched from
// the transport.
func (d *Drive) WriteChannel(req Request) State {
	d.sync()
	if d.location == nil {
		d.transport.SenderTimeout()
		d.metrics.Failed(KindNoActiveResource)
		return d.state
	}
	payload := req.Payload
	if payload == nil {
		var err error
		if payload, err = d.transport.Receive(); err != nil {
			log.WithError(err).Warn("receive failed")
			d.state = StateError
			return d.state
		}
	}
	if req.Channel == ChannelCommand {
		d.execute(payload)
		return d.state
	}
	d.saveFile(req.Channel, payload)
	return d.state
}

// SetDeviceID changes the bus address the drive answers to.
func (d *Drive) SetDeviceID(id int) {
	d.settings.DeviceID = id
	d.statuses.push(CommandStatus{Code: StatusOK, Message: "ok", Channel: ChannelCommand})
	log.WithField("device", id).Info("device id changed")
}

// Prefix queues the url of the stream on channel as a status.
func (d *Drive) Prefix(channel int) {
	stream, err := d.registry.Retrieve(channel)
	if err != nil {
		d.statuses.push(CommandStatus{Code: StatusNeedChannel, Message: "need channel #", Channel: -1})
		return
	}
	d.statuses.push(CommandStatus{Code: StatusOK, Message: stream.URL(), Channel: channel})
}

// leaveFile moves the location to its directory when it is the file at url.
func (d *Drive) leaveFile(url string) {
	if loc := d.location; loc != nil && !loc.IsDirectory() && loc.URL() == url {
		d.location = loc.Parent()
	}
}

// navigate resolves p against the location and moves there on success.
func (d *Drive) navigate(p string) error {
	n, err := d.location.Cd(p)
	if err != nil {
		return err
	}
	d.location = n
	return nil
}

// fileNotFound reports a missing resource on channel and falls back to the
// directory holding it.
func (d *Drive) fileNotFound(channel int) {
	log.WithFields(log.Fields{"channel": channel, "url": d.location.URL()}).Info("file not found")
	if !d.location.IsDirectory() {
		d.location = d.location.Parent()
	}
	d.statuses.push(CommandStatus{Code: StatusFileNotFound, Message: "FILE NOT FOUND", Channel: channel})
	d.transport.SenderTimeout()
	d.state = StateError
	d.metrics.Failed(KindNotFound)
}

func modeFor(channel int) vfs.Mode {
	if channel == ChannelSave {
		return vfs.ModeWrite
	}
	return vfs.ModeRead
}
