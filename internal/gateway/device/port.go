package device

import (
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Port is the slice of a serial port the link needs. go.bug.st/serial's
// Port satisfies it; tests inject an in-memory fake.
type Port interface {
	io.ReadWriteCloser

	// ResetInputBuffer discards data received but not read.
	ResetInputBuffer() error
}

// Opener opens the byte-stream endpoint for the link. The returned port
// must already have its per-read timeout configured.
type Opener func(device string, baud int, timeout time.Duration) (Port, error)

// OpenSerialPort is the production Opener.
func OpenSerialPort(device string, baud int, timeout time.Duration) (Port, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(timeout); err != nil {
		_ = port.Close()
		return nil, err
	}

	return port, nil
}

// FindPorts lists serial device nodes that look like an attached
// controller board (ACM/USB CDC style names).
func FindPorts() ([]string, error) {
	all, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}

	var found []string
	for _, name := range all {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "ttyacm") ||
			strings.Contains(lower, "ttyusb") ||
			strings.Contains(lower, "usbmodem") {
			found = append(found, name)
		}
	}
	return found, nil
}
