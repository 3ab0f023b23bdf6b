package iec

import (
	"errors"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"

	"iecdrive/petscii"
	"iecdrive/vfs"
)

// Listings load at the start of BASIC memory.
const listingLoadAddress = 0x0801

const (
	reverseOn = 0x12
	deleteKey = 0x14
)

var errListingAborted = errors.New("listing aborted by host")

// lineWriter emits tokenized BASIC lines: a link word, a 16-bit line number
// carrying the block count, the text and a terminating NUL.
type lineWriter struct {
	t    Transport
	sent int
}

func (w *lineWriter) raw(buf []byte, eoi bool) error {
	n := w.t.SendBytes(buf, eoi)
	w.sent += n
	if n != len(buf) {
		return fmt.Errorf("%w: %d of %d bytes", errListingAborted, n, len(buf))
	}
	return nil
}

func (w *lineWriter) line(blocks uint32, text string) error {
	if blocks > 0xFFFF {
		blocks = 0xFFFF
	}
	buf := make([]byte, 0, len(text)+5)
	buf = append(buf, 0x01, 0x01, byte(blocks), byte(blocks>>8))
	buf = append(buf, text...)
	buf = append(buf, 0x00)
	return w.raw(buf, false)
}

// entryText lays out a directory entry so names line up whatever the width
// of the block count.
func entryText(blocks uint32, name, ext string) string {
	lead := 3
	if blocks > 9 {
		lead--
	}
	if blocks > 99 {
		lead--
	}
	if blocks > 999 {
		lead--
	}
	pad := 21 - (len(name) + 5)
	if pad < 0 {
		pad = 0
	}
	return strings.Repeat(" ", lead) + `"` + name + `"` + strings.Repeat(" ", pad) + ext
}

func headerText(title, id string) string {
	space := 0
	if len(title) < 16 {
		space = (16 - len(title)) / 2
	}
	pad := strings.Repeat(" ", space)
	return string([]byte{reverseOn}) + `"` + pad + title + pad + `" ` + id
}

func infoText(text string) string {
	return fmt.Sprintf("\"%-19s\" NFO", text)
}

// sendListing renders the current directory as a BASIC program on channel.
func (d *Drive) sendListing(channel int, s Settings) error {
	dir := d.location
	first, err := dir.NextEntry()
	if err != nil && !errors.Is(err, io.EOF) {
		// Not enumerable: serve it as a file instead.
		log.WithFields(log.Fields{"url": dir.URL(), "error": err}).Debug("listing fallback to file")
		if err := d.registry.Register(channel, dir, modeFor(channel)); err != nil {
			d.fileNotFound(channel)
			return err
		}
		return d.sendFile(channel)
	}

	w := &lineWriter{t: d.transport}
	if err := d.writeListing(w, dir, first, s); err != nil {
		dir.Rewind()
		d.state = StateError
		d.metrics.Failed(KindShortWrite)
		log.WithFields(log.Fields{"url": dir.URL(), "error": err}).Warn("listing aborted")
		return fmt.Errorf("%w: %v", ErrShortWrite, err)
	}
	d.metrics.ListingSent()
	d.metrics.BytesSent(channel, w.sent)
	log.WithFields(log.Fields{"url": dir.URL(), "bytes": w.sent}).Info("listing sent")
	return nil
}

func (d *Drive) writeListing(w *lineWriter, dir vfs.Node, entry vfs.Node, s Settings) error {
	if err := w.raw([]byte{listingLoadAddress & 0xFF, listingLoadAddress >> 8}, false); err != nil {
		return err
	}

	meta := dir.Meta()
	title, id := s.Title, fmt.Sprintf("%02d 2A", s.DeviceID)
	if meta.Header != "" {
		title = meta.Header
		if !dir.IsPETSCII() {
			title = petscii.ToPETSCII(title)
		}
	}
	if meta.ID != "" {
		id = meta.ID
		if !dir.IsPETSCII() {
			id = petscii.ToPETSCII(id)
		}
	}
	if err := w.line(0, headerText(title, id)); err != nil {
		return err
	}

	info := 0
	emit := func(label, value string) error {
		info++
		if err := w.line(0, infoText("["+label+"]")); err != nil {
			return err
		}
		return w.line(0, infoText(value))
	}
	if meta.Host != "" {
		if err := emit("URL", petscii.ToPETSCII(meta.Host)); err != nil {
			return err
		}
	}
	p := meta.Path
	if meta.Image != "" {
		p = strings.ReplaceAll(p, meta.Image, "")
	}
	if len(p) > 1 {
		if err := emit("PATH", petscii.ToPETSCII(p)); err != nil {
			return err
		}
	}
	if len(meta.Archive) > 1 {
		if err := emit("ARCHIVE", petscii.ToPETSCII(meta.Archive)); err != nil {
			return err
		}
	}
	if meta.Image != "" {
		if err := emit("IMAGE", petscii.ToPETSCII(meta.Image)); err != nil {
			return err
		}
	}
	if info > 0 {
		if err := w.line(0, `"-------------------" NFO`); err != nil {
			return err
		}
	}

	if s.LocalLabel != "" && dir.IsRoot() {
		if err := w.line(0, entryText(0, s.LocalLabel, " DIR")); err != nil {
			return err
		}
	}

	for entry != nil {
		if err := writeEntry(w, entry); err != nil {
			return err
		}
		next, err := dir.NextEntry()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.WithFields(log.Fields{"url": dir.URL(), "error": err}).Warn("listing cut short")
				dir.Rewind()
			}
			break
		}
		entry = next
	}

	if meta.Image != "" {
		if err := w.line(uint32(meta.BlocksFree), "BLOCKS FREE."); err != nil {
			return err
		}
	} else {
		free := petscii.FormatBytes(dir.AvailableSpace())
		text := string([]byte{deleteKey, deleteKey}) + strings.ToUpper(free) + "BYTES FREE."
		if err := w.line(0, text); err != nil {
			return err
		}
	}

	if err := w.raw([]byte{0x00}, false); err != nil {
		return err
	}
	return w.raw([]byte{0x00}, true)
}

func writeEntry(w *lineWriter, e vfs.Node) error {
	name := e.Name()
	ext := e.Extension()
	switch {
	case e.IsDirectory():
		ext = " dir"
	case len(ext) <= 1:
		ext = " prg"
	}
	if !e.IsPETSCII() {
		name = petscii.ToPETSCII(name)
		ext = petscii.ToPETSCII(ext)
	}
	name = strings.ReplaceAll(name, "\\", "/")
	if name == "" || name[0] == '.' {
		return nil
	}
	return w.line(e.Blocks(), entryText(e.Blocks(), name, ext))
}
