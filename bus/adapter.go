package bus

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"iecdrive/iec"
)

// Adapter is the drive's transport over a bus adapter connection.
type Adapter struct {
	port Port
}

var _ iec.Transport = (*Adapter)(nil)

// NewAdapter talks frames over port.
func NewAdapter(port Port) *Adapter {
	return &Adapter{port: port}
}

func (a *Adapter) SendByte(b byte, eoi bool) bool {
	return a.SendBytes([]byte{b}, eoi) == 1
}

// SendBytes sends buf in as few frames as possible and returns how much of
// it the host accepted. Only the frame carrying the last byte is flagged.
func (a *Adapter) SendBytes(buf []byte, eoi bool) int {
	sent := 0
	for {
		chunk := buf[sent:]
		if len(chunk) > MaxPayload {
			chunk = chunk[:MaxPayload]
		}
		last := sent+len(chunk) == len(buf)

		f := Frame{Op: OpSend, Payload: chunk}
		if eoi && last {
			f.Args[0] = 1
		}
		if err := WriteFrame(a.port, f); err != nil {
			log.WithError(err).Warn("send frame failed")
			return sent
		}
		accepted, err := a.ack()
		if err != nil {
			log.WithError(err).Warn("send not acknowledged")
			return sent
		}
		if accepted > len(chunk) {
			accepted = len(chunk)
		}
		sent += accepted
		if accepted < len(chunk) || last {
			return sent
		}
	}
}

func (a *Adapter) ack() (int, error) {
	f, err := ReadFrame(a.port)
	if err != nil {
		return 0, err
	}
	if f.Op != OpAck {
		return 0, fmt.Errorf("expected %s, got %s", OpAck, f.Op)
	}
	return int(f.Args[0]) | int(f.Args[1])<<8, nil
}

// Receive asks the adapter for the bytes the host sent.
func (a *Adapter) Receive() ([]byte, error) {
	if err := WriteFrame(a.port, Frame{Op: OpReceive}); err != nil {
		return nil, err
	}
	f, err := ReadFrame(a.port)
	if err != nil {
		return nil, err
	}
	if f.Op != OpData {
		return nil, fmt.Errorf("expected %s, got %s", OpData, f.Op)
	}
	if f.Payload == nil {
		f.Payload = []byte{}
	}
	return f.Payload, nil
}

func (a *Adapter) SenderTimeout() {
	if err := WriteFrame(a.port, Frame{Op: OpTimeout}); err != nil {
		log.WithError(err).Warn("timeout frame failed")
	}
}

// Done tells the adapter the request is handled.
func (a *Adapter) Done(state iec.State) error {
	return WriteFrame(a.port, Frame{Op: OpDone, Args: [3]byte{byte(state)}})
}
