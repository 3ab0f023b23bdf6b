package iec

import (
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"iecdrive/petscii"
	"iecdrive/vfs"
)

// command is a payload being parsed. at is bounds-checked so short payloads
// simply fail to match.
type command []byte

func (c command) at(i int) byte {
	if i < 0 || i >= len(c) {
		return 0
	}
	return c[i]
}

func (c command) from(i int) string {
	if i >= len(c) {
		return ""
	}
	return string(c[i:])
}

// binary reports whether the payload carries raw bytes after its prefix,
// so a trailing CR is data rather than a terminator.
func (c command) binary() bool {
	return c.at(0) == 'M' && c.at(1) == '-'
}

// args splits what follows a command prefix into integers.
func (c command) args(i int) ([]int, error) {
	fields := strings.FieldsFunc(c.from(i), func(r rune) bool {
		return r == ' ' || r == ',' || r == ':' || r == ';'
	})
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", f, ErrUnrecognized)
		}
		out = append(out, n)
	}
	return out, nil
}

// openPath extracts the target path from an open-time payload.
func openPath(payload []byte) string {
	p := string(payload)
	if i := strings.IndexByte(p, ','); i >= 0 {
		if rest := p[i+1:]; rest != "" {
			log.WithField("args", rest).Debug("open arguments")
		}
		p = p[:i]
	}
	p = strings.TrimPrefix(p, "@")
	p = strings.TrimPrefix(p, "0:")
	if strings.HasPrefix(p, "CD") {
		p = p[2:]
		if strings.HasPrefix(p, ":") || strings.HasPrefix(p, " ") {
			p = p[1:]
		}
	}
	if strings.HasPrefix(p, "$") {
		return ""
	}
	return petscii.ToUTF8(p)
}

// execute runs a command channel payload. The legacy family is tried first,
// then the extension family.
func (d *Drive) execute(payload []byte) error {
	c := command(payload)
	if !c.binary() {
		c = command(strings.TrimSuffix(string(c), "\r"))
	}
	if len(c) == 0 {
		return nil
	}
	logger := log.WithField("command", string(c))

	handled, err := d.legacyCommand(c, logger)
	if !handled {
		handled, err = d.extensionCommand(c, logger)
	}
	if !handled {
		logger.Debug("command ignored")
		return fmt.Errorf("%q: %w", string(c), ErrUnrecognized)
	}
	if err != nil {
		logger.WithError(err).Debug("command failed")
	}
	return err
}

func (d *Drive) legacyCommand(c command, logger *log.Entry) (bool, error) {
	switch c.at(0) {
	case 'B':
		if c.at(1) != '-' {
			return false, nil
		}
		switch c.at(2) {
		case 'P':
			return true, d.blockPointer(c)
		case 'A', 'F', 'R', 'W', 'E':
			logger.Debug("block command")
			return true, nil
		}
	case 'C':
		if c.at(1) != 'D' && (c.at(1) == ':' || c.at(2) == ':') {
			logger.Debug("copy")
			return true, nil
		}
	case 'D':
		logger.Debug("duplicate")
		return true, nil
	case 'I':
		logger.Debug("initialize")
		return true, nil
	case 'M':
		if c.at(1) != '-' {
			return false, nil
		}
		switch c.at(2) {
		case 'R', 'W', 'E':
			return true, memoryCommand(c, logger)
		}
	case 'N':
		logger.Debug("new")
		return true, nil
	case 'R':
		if c.at(1) != 'D' && (c.at(1) == ':' || c.at(2) == ':') {
			logger.Debug("rename")
			return true, nil
		}
	case 'S':
		if c.at(1) != '-' && (c.at(1) == ':' || c.at(2) == ':') {
			logger.Debug("scratch")
			return true, nil
		}
	case 'U':
		switch c.at(1) {
		case '1', 'A':
			return true, d.blockRead(c)
		case 0:
			return false, nil
		}
		logger.Debug("user command")
		return true, nil
	case 'V':
		logger.Debug("validate")
		return true, nil
	}
	return false, nil
}

func (d *Drive) extensionCommand(c command, logger *log.Entry) (bool, error) {
	switch c.at(0) {
	case 'C':
		switch c.at(1) {
		case 'P':
			logger.Debug("change partition")
			return true, nil
		case 'D':
			return true, d.changeDirectory(c)
		}
	case 'E':
		if c.at(1) == '-' {
			logger.Debug("eeprom")
			return true, nil
		}
	case 'G':
		if c.at(1) == '-' {
			logger.Debug("get partition")
			return true, nil
		}
	case 'M':
		if c.at(1) == 'D' {
			logger.Debug("make directory")
			return true, nil
		}
	case 'P':
		if strings.HasPrefix(string(c), "PREFIX") {
			return true, d.prefixCommand(c)
		}
		logger.Debug("position")
		return true, nil
	case 'R':
		if c.at(1) == 'D' {
			logger.Debug("remove directory")
			return true, nil
		}
	case 'S':
		if c.at(1) == '-' {
			logger.Debug("swap")
			return true, nil
		}
	case 'T':
		if c.at(1) == '-' && (c.at(2) == 'R' || c.at(2) == 'W') {
			logger.Debug("real time clock")
			return true, nil
		}
	case 'W':
		logger.Debug("options")
		return true, nil
	case 'X':
		logger.Debug("extended")
		return true, nil
	case '/':
		logger.Debug("partition path")
		return true, nil
	}
	return false, nil
}

// blockPointer handles B-P channel position.
func (d *Drive) blockPointer(c command) error {
	args, err := c.args(3)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return fmt.Errorf("B-P needs channel and position: %w", ErrUnrecognized)
	}
	stream, err := d.registry.Retrieve(args[0])
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"channel": args[0], "position": args[1]}).Debug("block pointer")
	return stream.Seek(int64(args[1]))
}

// blockRead handles U1 (and its UA alias) channel drive track sector.
func (d *Drive) blockRead(c command) error {
	args, err := c.args(2)
	if err != nil {
		return err
	}
	if len(args) < 4 {
		return fmt.Errorf("U1 needs channel, drive, track and sector: %w", ErrUnrecognized)
	}
	channel, track, sector := args[0], args[2], args[3]
	stream, err := d.registry.Retrieve(channel)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"channel": channel,
		"track":   track,
		"sector":  sector,
	}).Debug("block read")
	if err := stream.SeekSector(track, sector); err != nil {
		return err
	}
	stream.Reset()
	return nil
}

func memoryCommand(c command, logger *log.Entry) error {
	if len(c) < 5 {
		return fmt.Errorf("%s needs an address: %w", string(c[:3]), ErrUnrecognized)
	}
	addr := uint16(c[3]) | uint16(c[4])<<8
	fields := log.Fields{"address": fmt.Sprintf("$%04X", addr)}
	if rest := c[5:]; len(rest) > 0 {
		fields["data"] = fmt.Sprintf("% X", []byte(rest))
	}
	logger.WithFields(fields).Debugf("memory %c", c[2])
	return nil
}

// changeDirectory handles CD. A file target is registered on the load
// channel.
func (d *Drive) changeDirectory(c command) error {
	p := c.from(2)
	if strings.HasPrefix(p, ":") || strings.HasPrefix(p, " ") {
		p = p[1:]
	}
	if err := d.navigate(petscii.ToUTF8(p)); err != nil {
		return err
	}
	if d.location.IsDirectory() {
		return nil
	}
	if err := d.registry.Register(ChannelLoad, d.location, vfs.ModeRead); err != nil {
		d.fileNotFound(ChannelLoad)
		return err
	}
	return nil
}

// prefixCommand answers "PREFIX,<channel>" with the url open on channel.
func (d *Drive) prefixCommand(c command) error {
	args, err := c.args(len("PREFIX"))
	if err != nil {
		return err
	}
	if len(args) == 0 {
		d.Prefix(-1)
		return nil
	}
	d.Prefix(args[0])
	return nil
}
