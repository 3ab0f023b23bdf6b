package iec

import "errors"

// Drive errors.
var (
	// ErrNotFound indicates a path or stream target that does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrNoActiveResource indicates the drive has nothing mounted.
	ErrNoActiveResource = errors.New("no active resource")

	// ErrNotRegistered indicates a channel without a stream.
	ErrNotRegistered = errors.New("stream not registered")

	// ErrStream indicates an I/O failure in the middle of a transfer.
	ErrStream = errors.New("stream error")

	// ErrShortWrite indicates the transport accepted fewer bytes than offered.
	ErrShortWrite = errors.New("short write")

	// ErrUnrecognized indicates a command the drive does not know.
	ErrUnrecognized = errors.New("unrecognized command")

	// ErrInvalidChannel indicates a channel number outside 0-15.
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrNotSupported indicates an operation this drive does not implement.
	ErrNotSupported = errors.New("not supported")
)

// ErrorKind classifies drive errors for metrics and logs.
type ErrorKind int

// Error kinds.
const (
	KindNone ErrorKind = iota
	KindNotFound
	KindNoActiveResource
	KindStream
	KindShortWrite
	KindUnrecognized
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotFound:
		return "not_found"
	case KindNoActiveResource:
		return "no_active_resource"
	case KindStream:
		return "stream"
	case KindShortWrite:
		return "short_write"
	case KindUnrecognized:
		return "unrecognized"
	default:
		return "other"
	}
}

// KindOf maps err onto its ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNoActiveResource), errors.Is(err, ErrNotRegistered):
		return KindNoActiveResource
	case errors.Is(err, ErrShortWrite):
		return KindShortWrite
	case errors.Is(err, ErrStream):
		return KindStream
	case errors.Is(err, ErrUnrecognized):
		return KindUnrecognized
	default:
		return KindOther
	}
}
