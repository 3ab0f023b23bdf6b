package main

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"iecdrive/config"
	"iecdrive/core"
	"iecdrive/iec"
	"iecdrive/petscii"
	"iecdrive/vfs"
)

// captureTransport stands in for the bus and keeps what the drive talks.
type captureTransport struct {
	buf      []byte
	timeouts int
}

func (c *captureTransport) SendByte(b byte, eoi bool) bool {
	c.buf = append(c.buf, b)
	return true
}

func (c *captureTransport) SendBytes(b []byte, eoi bool) int {
	c.buf = append(c.buf, b...)
	return len(b)
}

func (c *captureTransport) Receive() ([]byte, error) { return nil, nil }

func (c *captureTransport) SenderTimeout() { c.timeouts++ }

func lsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "Print the directory listing the drive would send",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			setupLogging(cfg)
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			lines, err := listing(cfg, dir)
			if err != nil {
				return err
			}
			return renderListing(lines)
		},
	}
}

// listing runs a "$" load against the configured backend. A dir typed the
// way the machine shows it, in upper case, is passed through unchanged.
func listing(cfg *config.Config, dir string) ([]listingLine, error) {
	fs, err := core.NewFileSystem(cfg.Backend)
	if err != nil {
		return nil, err
	}
	defer fs.Close()

	tr := &captureTransport{}
	d := iec.NewDrive(tr, iec.WithSettings(iec.Settings{
		DeviceID:   cfg.DeviceID,
		Title:      cfg.Title,
		LocalLabel: cfg.LocalLabel,
	}))
	d.Mount(vfs.NewStorage(fs, cfg.LocalLabel).Root())
	defer d.Unmount()

	if dir != "" {
		arg := dir
		if !petscii.IsPETSCII(arg) {
			arg = petscii.ToPETSCII(arg)
		}
		d.OpenChannel(iec.Request{Channel: iec.ChannelCommand, Payload: []byte("CD:" + arg)})
		if tr.timeouts > 0 {
			return nil, fmt.Errorf("%s: %w", dir, iec.ErrNotFound)
		}
	}
	d.OpenChannel(iec.Request{Channel: iec.ChannelLoad, Payload: []byte("$")})
	if st := d.ReadChannel(iec.Request{Channel: iec.ChannelLoad}); st == iec.StateError {
		return nil, fmt.Errorf("listing %q failed", dir)
	}
	return parseListing(tr.buf)
}

type listingLine struct {
	Blocks uint16
	Text   string
}

// parseListing splits listing bytes into lines: a load address, then per
// line a link word, a block count and NUL terminated text, ended by a zero
// link.
func parseListing(b []byte) ([]listingLine, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("listing too short: %d bytes", len(b))
	}
	b = b[2:]
	var lines []listingLine
	for {
		if len(b) < 2 {
			return nil, fmt.Errorf("listing truncated after %d lines", len(lines))
		}
		if b[0] == 0 && b[1] == 0 {
			return lines, nil
		}
		if len(b) < 4 {
			return nil, fmt.Errorf("listing truncated after %d lines", len(lines))
		}
		blocks := binary.LittleEndian.Uint16(b[2:4])
		b = b[4:]
		end := strings.IndexByte(string(b), 0)
		if end < 0 {
			return nil, fmt.Errorf("unterminated listing line %d", len(lines))
		}
		lines = append(lines, listingLine{Blocks: blocks, Text: displayText(b[:end])})
		b = b[end+1:]
	}
}

// displayText drops screen control codes and decodes the rest.
func displayText(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c < 0x20 {
			continue
		}
		sb.WriteByte(c)
	}
	return petscii.ToUTF8(sb.String())
}

func renderListing(lines []listingLine) error {
	data := pterm.TableData{{"Blocks", "Entry"}}
	for _, l := range lines {
		data = append(data, []string{strconv.Itoa(int(l.Blocks)), l.Text})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
