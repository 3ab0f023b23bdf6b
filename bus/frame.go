// Package bus connects a drive to the bus adapter, a microcontroller that
// handles the electrical side of the serial bus and talks to us over USB.
package bus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Every frame starts with this magic.
var magic = [4]byte{'I', 'E', 'C', 'B'}

const (
	headerSize = 10
	// MaxPayload is the largest payload one frame carries.
	MaxPayload = 0xFFFF
	// maxIdleReads bounds how many empty reads are tolerated inside a frame.
	maxIdleReads = 50
)

// Op is a frame type.
type Op byte

// Adapter to drive.
const (
	// OpRequest carries a bus transaction: primary, secondary and channel
	// in the args, the command or filename as payload.
	OpRequest Op = 'R'
	// OpData answers OpReceive with what the host sent.
	OpData Op = 'D'
	// OpAck answers OpSend; args 0 and 1 hold the bytes the host accepted.
	OpAck Op = 'A'
)

// Drive to adapter.
const (
	// OpSend asks the adapter to talk the payload; arg 0 set flags EOI.
	OpSend Op = 'S'
	// OpReceive asks for the data the host is listening out.
	OpReceive Op = 'V'
	// OpTimeout makes the adapter signal a sender timeout.
	OpTimeout Op = 'T'
	// OpDone ends a request; arg 0 holds the drive state.
	OpDone Op = 'K'
)

func (o Op) String() string {
	switch o {
	case OpRequest:
		return "request"
	case OpData:
		return "data"
	case OpAck:
		return "ack"
	case OpSend:
		return "send"
	case OpReceive:
		return "receive"
	case OpTimeout:
		return "timeout"
	case OpDone:
		return "done"
	default:
		return fmt.Sprintf("op(%#02x)", byte(o))
	}
}

var (
	ErrBadMagic      = errors.New("bad frame magic")
	ErrFrameTooLarge = errors.New("frame payload too large")
	ErrReadTimeout   = errors.New("timed out inside a frame")
)

// Frame is one message between drive and adapter:
//
//	'I' 'E' 'C' 'B' | op | arg0 | arg1 | arg2 | length (LE16) | payload
type Frame struct {
	Op      Op
	Args    [3]byte
	Payload []byte
}

func (f Frame) MarshalBinary() ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("%s: %w: %d bytes", f.Op, ErrFrameTooLarge, len(f.Payload))
	}
	b := make([]byte, headerSize+len(f.Payload))
	copy(b, magic[:])
	b[4] = byte(f.Op)
	copy(b[5:8], f.Args[:])
	binary.LittleEndian.PutUint16(b[8:10], uint16(len(f.Payload)))
	copy(b[headerSize:], f.Payload)
	return b, nil
}

// WriteFrame writes f to w in one call.
func WriteFrame(w io.Writer, f Frame) error {
	b, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadFrame reads the next frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var first [1]byte
	if err := readChunk(r, first[:]); err != nil {
		return Frame{}, err
	}
	return readFrameAfter(first[0], r)
}

// readFrameAfter reads the rest of a frame whose first byte is already in.
func readFrameAfter(first byte, r io.Reader) (Frame, error) {
	var hdr [headerSize]byte
	hdr[0] = first
	if err := readChunk(r, hdr[1:]); err != nil {
		return Frame{}, err
	}
	if [4]byte(hdr[:4]) != magic {
		return Frame{}, fmt.Errorf("%w: % X", ErrBadMagic, hdr[:4])
	}
	f := Frame{Op: Op(hdr[4])}
	copy(f.Args[:], hdr[5:8])
	if n := binary.LittleEndian.Uint16(hdr[8:10]); n > 0 {
		f.Payload = make([]byte, n)
		if err := readChunk(r, f.Payload); err != nil {
			return Frame{}, err
		}
	}
	return f, nil
}

// readChunk fills chunk. Serial ports return empty reads when their read
// timeout expires; a few are fine, a frame that stalls is not.
func readChunk(r io.Reader, chunk []byte) error {
	idle := 0
	for ns := 0; ns < len(chunk); {
		n, err := r.Read(chunk[ns:])
		ns += n
		if err != nil {
			if errors.Is(err, io.EOF) && ns > 0 && ns < len(chunk) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if n == 0 {
			idle++
			if idle > maxIdleReads {
				return fmt.Errorf("%w: read %d of %d bytes", ErrReadTimeout, ns, len(chunk))
			}
			continue
		}
		idle = 0
	}
	return nil
}
