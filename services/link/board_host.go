//go:build !rp2040

package link

import (
	"io"

	"sensorlink/services/link/internal/platform"

	"go.bug.st/serial"
)

// HostBoard returns an emulated board with a simulated Si7021. The radio
// bridge writes to out and reads from in, which may be nil.
func HostBoard(out io.Writer, in io.Reader) Board {
	return platform.DefaultBoard(BoardConfig{}, out, in)
}

// OpenSerial opens a host serial device for the radio bridge.
func OpenSerial(name string, baud int) (serial.Port, error) {
	return platform.OpenSerial(name, baud)
}
