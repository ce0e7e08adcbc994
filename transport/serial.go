package transport

import (
	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// SerialPort wraps a serial port opened in 8N1 mode.
type SerialPort struct {
	port     serial.Port
	portName string
	baudRate int
}

// OpenSerial opens portName at baudRate with DefaultPollInterval reads.
func OpenSerial(portName string, baudRate int) (*SerialPort, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open port %s", portName)
	}

	if err := port.SetReadTimeout(DefaultPollInterval); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "failed to set read timeout")
	}

	return &SerialPort{
		port:     port,
		portName: portName,
		baudRate: baudRate,
	}, nil
}

// Close closes the serial port.
func (p *SerialPort) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Write writes data to the serial port.
func (p *SerialPort) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Read reads data from the serial port. It returns (0, nil) when the poll
// interval elapses.
func (p *SerialPort) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// Flush discards any buffered input.
func (p *SerialPort) Flush() error {
	return p.port.ResetInputBuffer()
}

// Drain waits until all written data has left the port.
func (p *SerialPort) Drain() error {
	return p.port.Drain()
}

func (p *SerialPort) String() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *SerialPort) BaudRate() int {
	return p.baudRate
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}
