package iec

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"iecdrive/vfs"
)

// chunkSize is how much is read from a stream per bus send.
const chunkSize = 256

// sendFile streams the resource registered on channel to the host. On the
// load channel the first two bytes are the load address and go out on
// their own.
func (d *Drive) sendFile(channel int) error {
	stream, err := d.registry.Retrieve(channel)
	if err != nil {
		d.fileNotFound(channel)
		return err
	}

	// Once a file is being sent, the drive sits in its directory again.
	d.leaveFile(stream.URL())

	logger := log.WithFields(log.Fields{
		"channel":  channel,
		"url":      stream.URL(),
		"size":     stream.Size(),
		"position": stream.Position(),
	})

	if stream.Size() == 0 {
		d.registry.Close(channel)
		d.fileNotFound(channel)
		return fmt.Errorf("%s: empty file: %w", stream.URL(), ErrNotFound)
	}
	if stream.EOS() {
		return d.replayLastByte(channel, logger)
	}

	sent := 0
	defer func() { d.metrics.BytesSent(channel, sent) }()

	buf := make([]byte, chunkSize)
	if channel == ChannelLoad && stream.Position() == 0 {
		n, err := stream.Read(buf[:2])
		if err != nil {
			return d.abortSend(channel, logger, err)
		}
		written := d.transport.SendBytes(buf[:n], stream.Size() <= 2)
		sent += written
		if written != n {
			return d.shortSend(stream, logger, n, written)
		}
		if n == 2 {
			logger.WithField("load_address", fmt.Sprintf("$%04X", uint16(buf[0])|uint16(buf[1])<<8)).Info("sending file")
		}
		if n > 0 {
			d.registry.StoreLastByte(channel, buf[n-1])
		}
		if stream.EOS() {
			logger.WithField("bytes", sent).Info("file sent")
			return nil
		}
	}

	for {
		n, err := stream.Read(buf)
		if err != nil {
			return d.abortSend(channel, logger, err)
		}
		eoi := stream.EOS()
		written := d.transport.SendBytes(buf[:n], eoi)
		sent += written
		if written != n {
			return d.shortSend(stream, logger, n, written)
		}
		if n > 0 {
			d.registry.StoreLastByte(channel, buf[n-1])
		}
		if eoi {
			break
		}
	}
	logger.WithField("bytes", sent).Info("file sent")
	return nil
}

// replayLastByte answers a read past the end. A host that missed the EOI
// handshake reads again and gets the final byte a second time.
func (d *Drive) replayLastByte(channel int, logger *log.Entry) error {
	b, ok := d.registry.LastByte(channel)
	if !ok {
		d.transport.SenderTimeout()
		d.state = StateError
		d.metrics.Failed(KindStream)
		return fmt.Errorf("%w: read past end", ErrStream)
	}
	if !d.transport.SendByte(b, true) {
		d.state = StateError
		d.metrics.Failed(KindShortWrite)
		return fmt.Errorf("%w: replay of last byte", ErrShortWrite)
	}
	d.metrics.BytesSent(channel, 1)
	logger.Debug("last byte replayed")
	return nil
}

// shortSend rewinds the stream by what the host did not take, so a reopen
// resumes at the first unsent byte. The stream stays registered.
func (d *Drive) shortSend(stream vfs.Stream, logger *log.Entry, offered, written int) error {
	pos := stream.Position() - int64(offered-written)
	if err := stream.Seek(pos); err != nil {
		logger.WithError(err).Warn("rewind after short write failed")
	}
	d.state = StateError
	d.metrics.Failed(KindShortWrite)
	logger.WithFields(log.Fields{"offered": offered, "written": written}).Warn("transfer interrupted")
	return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, written, offered)
}

func (d *Drive) abortSend(channel int, logger *log.Entry, cause error) error {
	logger.WithError(cause).Warn("transfer aborted")
	d.registry.Close(channel)
	d.transport.SenderTimeout()
	d.state = StateError
	d.metrics.Failed(KindStream)
	return fmt.Errorf("%w: %v", ErrStream, cause)
}

// saveFile appends payload to the stream registered on channel.
func (d *Drive) saveFile(channel int, payload []byte) error {
	stream, err := d.registry.Retrieve(channel)
	if err != nil {
		d.transport.SenderTimeout()
		d.state = StateError
		d.statuses.push(CommandStatus{Code: StatusFileNotOpen, Message: "FILE NOT OPEN", Channel: channel})
		d.metrics.Failed(KindNoActiveResource)
		return err
	}

	d.leaveFile(stream.URL())
	logger := log.WithFields(log.Fields{"channel": channel, "url": stream.URL()})
	if stream.Position() == 0 && len(payload) >= 2 {
		logger.WithField("load_address", fmt.Sprintf("$%04X", uint16(payload[0])|uint16(payload[1])<<8)).Info("saving file")
	}

	n, err := stream.Write(payload)
	d.metrics.BytesReceived(channel, n)
	if err != nil {
		logger.WithError(err).Warn("save aborted")
		d.registry.Close(channel)
		d.transport.SenderTimeout()
		d.state = StateError
		d.metrics.Failed(KindStream)
		return fmt.Errorf("%w: %v", ErrStream, err)
	}
	logger.WithFields(log.Fields{"bytes": n, "position": stream.Position()}).Debug("data saved")
	return nil
}
