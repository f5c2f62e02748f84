// services/link/internal/platform/board.go
package platform

import (
	"sensorlink/services/link/internal/halcore"
	"sensorlink/services/link/internal/power"

	"tinygo.org/x/drivers"
)

// Board is the hardware a link service runs on.
type Board struct {
	I2C     drivers.I2C       // sensor bus
	Port    Port              // radio bridge
	Timer   halcore.WakeTimer // periodic wake
	Sleeper power.Sleeper
	LED     halcore.Pin // temperature alert
}

// BoardConfig selects buses and pins. Zero values pick the defaults of the
// target.
type BoardConfig struct {
	I2CHz    uint32
	SDA, SCL int
	Baud     uint32
	TX, RX   int
	LEDPin   int
}
