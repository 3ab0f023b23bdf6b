package bus

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"iecdrive/iec"
)

// IdleTick is how long the loop waits for a request before it checks for
// cancellation and applies posted drive messages.
const IdleTick = 100 * time.Millisecond

// Port is a connection to the bus adapter. A read that times out returns
// no bytes and no error.
type Port interface {
	io.ReadWriter
	SetReadTimeout(t time.Duration) error
}

// Serve feeds requests from the adapter into d until ctx is done or the
// port is closed. d must use a as its transport.
func (a *Adapter) Serve(ctx context.Context, d *iec.Drive) error {
	port := a.port
	if err := port.SetReadTimeout(IdleTick); err != nil {
		return err
	}

	var first [1]byte
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := port.Read(first[:])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				d.Sync()
				continue
			}
			return err
		}
		if n == 0 {
			d.Sync()
			continue
		}

		f, err := readFrameAfter(first[0], port)
		if err != nil {
			log.WithError(err).Warn("dropping frame")
			continue
		}
		if f.Op != OpRequest {
			log.WithField("op", f.Op).Debug("unexpected frame")
			continue
		}

		req := iec.Request{
			Primary:   f.Args[0],
			Secondary: f.Args[1],
			Channel:   int(f.Args[2]),
		}
		if len(f.Payload) > 0 {
			req.Payload = f.Payload
		}
		log.WithField("request", req.String()).Trace("bus request")
		state := d.Process(req)
		if err := a.Done(state); err != nil {
			return err
		}
	}
}
