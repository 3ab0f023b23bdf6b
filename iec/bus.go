package iec

import "fmt"

// Reserved channels.
const (
	ChannelLoad    = 0
	ChannelSave    = 1
	ChannelCommand = 15
	MaxChannels    = 16
)

// Bus primaries as seen by the device, with the device number stripped.
const (
	PrimaryListen   byte = 0x20
	PrimaryUnlisten byte = 0x3F
	PrimaryTalk     byte = 0x40
	PrimaryUntalk   byte = 0x5F
)

// Bus secondaries, with the channel number stripped.
const (
	SecondaryReopen byte = 0x60
	SecondaryClose  byte = 0xE0
	SecondaryOpen   byte = 0xF0
)

// Transport is the bus side of the drive. It owns the electrical protocol;
// the drive only hands it bytes and asks it for received data.
type Transport interface {
	// SendByte sends one byte, flagged as the last one when eoi is set.
	SendByte(b byte, eoi bool) bool
	// SendBytes sends buf and returns how many bytes the host accepted. The
	// last byte carries EOI when eoi is set.
	SendBytes(buf []byte, eoi bool) int
	// Receive blocks until the host has sent a complete payload.
	Receive() ([]byte, error)
	// SenderTimeout signals the host that the drive has nothing to send,
	// which is how a missing file or a failed transfer shows up on the bus.
	SenderTimeout()
}

// Request is one bus transaction addressed to the drive.
type Request struct {
	Primary   byte
	Secondary byte
	Channel   int
	Payload   []byte
}

func (r Request) String() string {
	return fmt.Sprintf("primary[%02X] secondary[%02X] channel[%d] payload[%d]",
		r.Primary, r.Secondary, r.Channel, len(r.Payload))
}

// State is the device state after a call.
type State int

// Device states.
const (
	StateIdle State = iota
	StateOpen
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func validChannel(ch int) bool {
	return ch >= 0 && ch < MaxChannels
}
