package iec

import "fmt"

// Status codes reported on the command channel.
const (
	StatusOK           = 0
	StatusSyntaxError  = 30
	StatusFileNotOpen  = 61
	StatusFileNotFound = 62
	StatusNeedChannel  = 255
)

// statusOK is what the command channel reads when nothing is queued.
const statusOK = "00, OK,00,00\r"

// CommandStatus is one entry of the command channel status queue.
type CommandStatus struct {
	Code      int
	Message   string
	Connected int
	Channel   int
}

func (s CommandStatus) String() string {
	return fmt.Sprintf("%02d, \"%s\",%02d,%02d\r", s.Code, s.Message, s.Connected, s.Channel)
}

type statusQueue struct {
	entries []CommandStatus
}

func (q *statusQueue) push(s CommandStatus) {
	q.entries = append(q.entries, s)
}

// pop returns the oldest entry, or the OK line when the queue is empty.
func (q *statusQueue) pop() string {
	if len(q.entries) == 0 {
		return statusOK
	}
	s := q.entries[0]
	q.entries = q.entries[1:]
	return s.String()
}

func (q *statusQueue) len() int { return len(q.entries) }
