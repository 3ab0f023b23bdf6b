package iec

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"iecdrive/vfs"
)

type handle struct {
	id     uuid.UUID
	stream vfs.Stream
}

// Registry holds at most one open stream per channel, plus the last byte
// each channel sent so a read past the end can replay it.
type Registry struct {
	streams  map[int]handle
	lastByte map[int]byte
	disposer vfs.Disposer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		streams:  make(map[int]handle),
		lastByte: make(map[int]byte),
	}
}

// SetDisposer sets who is told about urls whose streams are closed.
func (r *Registry) SetDisposer(d vfs.Disposer) {
	r.disposer = d
}

// Register opens a stream on node and binds it to channel. An existing
// registration on the channel is closed first. In read mode the node must
// exist.
func (r *Registry) Register(channel int, node vfs.Node, mode vfs.Mode) error {
	if !validChannel(channel) {
		return fmt.Errorf("register %d: %w", channel, ErrInvalidChannel)
	}
	r.Close(channel)

	if node == nil {
		return fmt.Errorf("register %d: %w", channel, ErrNoActiveResource)
	}
	if mode == vfs.ModeRead && !node.Exists() {
		return fmt.Errorf("register %d %s: %w", channel, node.URL(), ErrNotFound)
	}
	stream, err := node.OpenStream(mode)
	if err != nil {
		return fmt.Errorf("register %d %s: %w: %v", channel, node.URL(), ErrNotFound, err)
	}

	h := handle{id: uuid.New(), stream: stream}
	r.streams[channel] = h
	log.WithFields(log.Fields{
		"channel": channel,
		"url":     stream.URL(),
		"mode":    mode,
		"stream":  h.id,
	}).Debug("stream registered")
	return nil
}

// Retrieve returns the stream bound to channel.
func (r *Registry) Retrieve(channel int) (vfs.Stream, error) {
	h, ok := r.streams[channel]
	if !ok {
		return nil, fmt.Errorf("channel %d: %w", channel, ErrNotRegistered)
	}
	return h.stream, nil
}

// Has reports whether channel has a stream.
func (r *Registry) Has(channel int) bool {
	_, ok := r.streams[channel]
	return ok
}

// Close closes and unbinds the stream on channel. It reports whether a
// stream was bound.
func (r *Registry) Close(channel int) bool {
	h, ok := r.streams[channel]
	if !ok {
		return false
	}
	delete(r.streams, channel)
	if err := r.release(h); err != nil {
		log.WithFields(log.Fields{"channel": channel, "error": err}).Warn("stream close failed")
	}
	return true
}

// CloseAll closes every registered stream.
func (r *Registry) CloseAll() error {
	channels := make([]int, 0, len(r.streams))
	for ch := range r.streams {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	var result *multierror.Error
	for _, ch := range channels {
		h := r.streams[ch]
		delete(r.streams, ch)
		if err := r.release(h); err != nil {
			result = multierror.Append(result, fmt.Errorf("channel %d: %w", ch, err))
		}
	}
	r.lastByte = make(map[int]byte)
	return result.ErrorOrNil()
}

func (r *Registry) release(h handle) error {
	err := h.stream.Close()
	if r.disposer != nil {
		r.disposer.Dispose(h.stream.URL())
	}
	log.WithFields(log.Fields{"url": h.stream.URL(), "stream": h.id}).Debug("stream closed")
	return err
}

// Len returns the number of registered streams.
func (r *Registry) Len() int {
	return len(r.streams)
}

// LastByte returns the last byte sent on channel, if any.
func (r *Registry) LastByte(channel int) (byte, bool) {
	b, ok := r.lastByte[channel]
	return b, ok
}

func (r *Registry) StoreLastByte(channel int, b byte) {
	r.lastByte[channel] = b
}

func (r *Registry) FlushLastByte(channel int) {
	delete(r.lastByte, channel)
}
