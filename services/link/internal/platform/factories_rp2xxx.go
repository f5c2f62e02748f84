// services/link/internal/platform/factories_rp2xxx.go
//go:build rp2040

package platform

import (
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
	"tinygo.org/x/drivers"
)

// Pico defaults: sensor on I2C0 GP4/GP5, radio bridge on UART0 GP0/GP1,
// alert on the on-board LED.
const (
	defaultI2CHz = 100_000
	defaultSDA   = 4
	defaultSCL   = 5
	defaultBaud  = 9600
	defaultTX    = 0
	defaultRX    = 1
	defaultLED   = 25
)

type rp2Pin struct{ p machine.Pin }

func (r rp2Pin) Set(b bool) { r.p.Set(b) }
func (r rp2Pin) Get() bool  { return r.p.Get() }

func orDefault[T ~int | ~uint32](v, d T) T {
	if v == 0 {
		return d
	}
	return v
}

// NewI2C configures I2C0 on the given pins.
func NewI2C(c BoardConfig) drivers.I2C {
	sda := machine.Pin(orDefault(c.SDA, defaultSDA))
	scl := machine.Pin(orDefault(c.SCL, defaultSCL))
	sda.Configure(machine.PinConfig{Mode: machine.PinI2C})
	scl.Configure(machine.PinConfig{Mode: machine.PinI2C})
	hw := machine.I2C0
	_ = hw.Configure(machine.I2CConfig{
		SCL:       scl,
		SDA:       sda,
		Frequency: orDefault(c.I2CHz, defaultI2CHz),
	})
	return hw
}

// NewUART configures UART0 for the radio bridge.
func NewUART(c BoardConfig) *uartx.UART {
	hw := uartx.UART0
	_ = hw.Configure(uartx.UARTConfig{
		BaudRate: orDefault(c.Baud, defaultBaud),
		TX:       machine.Pin(orDefault(c.TX, defaultTX)),
		RX:       machine.Pin(orDefault(c.RX, defaultRX)),
	})
	return hw
}

// DefaultBoard builds the Pico board.
func DefaultBoard(c BoardConfig) Board {
	led := machine.Pin(orDefault(c.LEDPin, defaultLED))
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	led.Low()
	return Board{
		I2C:     NewI2C(c),
		Port:    NewUART(c),
		Timer:   &TickerTimer{},
		Sleeper: &Sleeper{},
		LED:     rp2Pin{led},
	}
}
