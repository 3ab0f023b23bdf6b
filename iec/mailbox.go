package iec

import (
	log "github.com/sirupsen/logrus"

	"iecdrive/vfs"
)

// Message is a change requested from outside the bus goroutine. Messages
// are applied at the start of the next drive call, never during one.
type Message interface {
	apply(d *Drive)
}

// MountMsg mounts Root.
type MountMsg struct {
	Root vfs.Node
	// Done, when set, receives the new session id. It must be buffered;
	// the id is dropped when nobody can take it right away.
	Done chan<- string
}

func (m MountMsg) apply(d *Drive) {
	id := d.Mount(m.Root)
	if m.Done == nil {
		return
	}
	select {
	case m.Done <- id.String():
	default:
		log.WithField("session", id).Warn("mount result dropped")
	}
}

// UnmountMsg unmounts the current location.
type UnmountMsg struct{}

func (UnmountMsg) apply(d *Drive) { d.Unmount() }

// DeviceIDMsg changes the device id.
type DeviceIDMsg struct {
	ID int
}

func (m DeviceIDMsg) apply(d *Drive) {
	if m.ID == d.settings.DeviceID {
		return
	}
	d.SetDeviceID(m.ID)
}

// KeepAliveMsg pings a storage backend between bus calls, so the ping
// never interleaves with drive I/O on the same connection.
type KeepAliveMsg struct {
	Target interface{ KeepAlive() error }
}

func (m KeepAliveMsg) apply(*Drive) {
	if err := m.Target.KeepAlive(); err != nil {
		log.WithError(err).Warn("backend keepalive failed")
	}
}

// Post queues msg for the drive. It reports false when the mailbox is full.
func (d *Drive) Post(msg Message) bool {
	select {
	case d.mailbox <- msg:
		return true
	default:
		log.WithField("message", msg).Warn("drive mailbox full")
		return false
	}
}

// Sync applies pending messages. The bus loop calls it while idle so posted
// changes do not wait for the next request.
func (d *Drive) Sync() {
	d.sync()
}

// sync drains the mailbox and returns the settings for the call.
func (d *Drive) sync() Settings {
	for {
		select {
		case msg := <-d.mailbox:
			msg.apply(d)
		default:
			return d.settings
		}
	}
}
