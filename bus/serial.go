package bus

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// ErrNoAdapter is returned when no USB serial port can be found.
var ErrNoAdapter = errors.New("no bus adapter found")

// Open opens the adapter on portName, or on the first USB serial port when
// portName is empty.
func Open(portName string, baud int) (serial.Port, error) {
	if portName == "" {
		var err error
		if portName, err = Detect(); err != nil {
			return nil, err
		}
	}
	log.WithFields(log.Fields{"port": portName, "baud": baud}).Info("opening bus adapter")
	p, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", portName, err)
	}
	if err := p.SetDTR(true); err != nil {
		log.WithFields(log.Fields{"port": portName, "error": err}).Warn("set DTR")
	}
	return p, nil
}

// Detect returns the first USB serial port.
func Detect() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", err
	}
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		log.WithFields(log.Fields{
			"port":   port.Name,
			"usb_id": port.VID + ":" + port.PID,
			"serial": port.SerialNumber,
		}).Info("found USB port")
		return port.Name, nil
	}
	return "", ErrNoAdapter
}
