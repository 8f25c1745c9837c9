// Package serialport opens the node's two physical UARTs: the cellular
// modem (115200 8N1) and the VE.Direct solar charger (19200 8N1), per
// spec.md §6.
package serialport

import (
	"fmt"
	"io"

	"github.com/grid-x/serial"
)

// ModemBaudRate and SensorBaudRate are the two UART line rates spec.md §6
// fixes for this node.
const (
	ModemBaudRate  = 115200
	SensorBaudRate = 19200
)

// Config describes one UART to open.
type Config struct {
	Device   string
	BaudRate int
}

// ModemConfig builds the Config for the cellular modem UART at device.
func ModemConfig(device string) Config {
	return Config{Device: device, BaudRate: ModemBaudRate}
}

// SensorConfig builds the Config for the VE.Direct sensor UART at device.
func SensorConfig(device string) Config {
	return Config{Device: device, BaudRate: SensorBaudRate}
}

// Open opens cfg.Device at cfg.BaudRate, 8 data bits, 1 stop bit, no parity.
func Open(cfg Config) (io.ReadWriteCloser, error) {
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   serial.PARITY_NONE,
		Timeout:  0,
	})
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s at %d baud: %w", cfg.Device, cfg.BaudRate, err)
	}
	return port, nil
}
