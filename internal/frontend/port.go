package frontend

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

// SerialPort is a Port backed by a host UART.
type SerialPort struct {
	port   serial.Port
	useCTS bool
}

// OpenPort opens name at baud with 8N1 framing. When useCTS is set the CTS
// modem line gates speaker writes.
func OpenPort(name string, baud int, readTimeout time.Duration, useCTS bool) (*SerialPort, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("serial port name is empty")
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", name, err)
	}
	if readTimeout > 0 {
		if err := port.SetReadTimeout(readTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("set serial read timeout: %w", err)
		}
	}
	return &SerialPort{port: port, useCTS: useCTS}, nil
}

// ListPorts returns serial device names visible to the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

func (p *SerialPort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

func (p *SerialPort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *SerialPort) Close() error {
	return p.port.Close()
}

// WriteEnabled reports the CTS line, or true when flow control is disabled.
func (p *SerialPort) WriteEnabled() (bool, error) {
	if !p.useCTS {
		return true, nil
	}
	bits, err := p.port.GetModemStatusBits()
	if err != nil {
		return false, err
	}
	return bits.CTS, nil
}
