package znp

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialConfig selects the coordinator port.
type SerialConfig struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
	// Hardware flow lines; most CC2652 sticks expect DTR/RTS deasserted.
	DTR bool
	RTS bool
}

// OpenSerial opens the coordinator port in 8N1 mode. Reads return after
// ReadTimeout with zero bytes when the line is idle.
func OpenSerial(cfg SerialConfig) (Port, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("znp: open %s: %w", cfg.Port, err)
	}
	_ = port.SetDTR(cfg.DTR)
	_ = port.SetRTS(cfg.RTS)
	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("znp: set read timeout: %w", err)
		}
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("znp: flush %s: %w", cfg.Port, err)
	}
	return port, nil
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
