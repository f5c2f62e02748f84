// Package si7021 provides the command set, conversions and a blocking
// driver for the Si7021 relative humidity and temperature sensor.
//
// Measurements are normally started and collected by the interrupt-driven
// bus master; Device is for configuration and diagnostics where blocking is
// acceptable:
//
//	d := si7021.New(bus)
//	err := d.SetResolution(si7021.Res10RH13T)
//	raw, err := d.MeasureTemperatureRaw()
//
// NOTE: I2C.Tx must finish the write with a stop when r is nil; the no-hold
// measurement commands depend on it.
package si7021

import (
	"errors"
	"time"

	"sensorlink/x/mathx"

	"github.com/chewxy/math32"
	"tinygo.org/x/drivers"
)

// I2C address.
const Address = 0x40

// Commands.
const (
	CmdMeasureRHHold      = 0xE5
	CmdMeasureRH          = 0xF5 // no hold master
	CmdMeasureTempHold    = 0xE3
	CmdMeasureTemp        = 0xF3 // no hold master
	CmdReadTempFromRH     = 0xE0
	CmdReset              = 0xFE
	CmdWriteUserReg1      = 0xE6
	CmdReadUserReg1       = 0xE7
	CmdReadFirmwareRev1   = 0x84
	CmdReadFirmwareRev2   = 0xB8
	UserReg1Reset         = 0x3A // power-on value
	userReg1ReservedMask  = 0x7E // bits the resolution write must preserve
	userReg1ResolutionBit = 0x81
)

// Resolution is the measurement resolution encoded in user register 1.
type Resolution uint8

const (
	Res12RH14T Resolution = 0x00
	Res8RH12T  Resolution = 0x01
	Res10RH13T Resolution = 0x80
	Res11RH11T Resolution = 0x81
)

func (r Resolution) String() string {
	switch r {
	case Res12RH14T:
		return "12RH_14T"
	case Res8RH12T:
		return "8RH_12T"
	case Res10RH13T:
		return "10RH_13T"
	case Res11RH11T:
		return "11RH_11T"
	default:
		return "invalid"
	}
}

// Valid reports whether r is one of the four encodings.
func (r Resolution) Valid() bool { return r&^userReg1ResolutionBit == 0 }

// ConversionTime is the worst-case temperature plus humidity conversion time
// at r.
func (r Resolution) ConversionTime() time.Duration {
	switch r {
	case Res8RH12T:
		return (3100 + 3800) * time.Microsecond
	case Res10RH13T:
		return (4500 + 6200) * time.Microsecond
	case Res11RH11T:
		return (7000 + 2400) * time.Microsecond
	default:
		return (12000 + 10800) * time.Microsecond
	}
}

// ApplyResolution returns the user register value with the resolution bits
// replaced and every other bit preserved.
func ApplyResolution(reg byte, r Resolution) byte {
	return reg&userReg1ReservedMask | byte(r)
}

// ResolutionOf extracts the resolution bits from a user register value.
func ResolutionOf(reg byte) Resolution { return Resolution(reg & userReg1ResolutionBit) }

// Errors returned by the driver.
var (
	ErrTimeout    = errors.New("si7021: timeout")
	ErrResolution = errors.New("si7021: invalid resolution")
	ErrVerify     = errors.New("si7021: user register readback mismatch")
)

// ---- Conversions ----

// MilliCelsius converts a raw temperature code: 175.72*raw/65536 - 46.85.
func MilliCelsius(raw uint16) int32 {
	return int32(mathx.LinearQ16(raw, 175720, -46850))
}

// DeciCelsius returns tenths of °C, rounded.
func DeciCelsius(raw uint16) int32 {
	return mathx.RoundDiv(MilliCelsius(raw), 100)
}

// DeciFahrenheit returns tenths of °F, rounded.
func DeciFahrenheit(raw uint16) int32 {
	return mathx.RoundDiv(MilliCelsius(raw)*9/5+32000, 100)
}

// MilliRH converts a raw humidity code: 125*raw/65536 - 6. The result is
// clamped to 0..100 %RH as the datasheet recommends.
func MilliRH(raw uint16) int32 {
	return mathx.Clamp(int32(mathx.LinearQ16(raw, 125000, -6000)), 0, 100000)
}

// DeciRH returns tenths of %RH, rounded.
func DeciRH(raw uint16) int32 { return mathx.RoundDiv(MilliRH(raw), 100) }

// Celsius returns °C (float). Prefer DeciCelsius on the firmware path.
func Celsius(raw uint16) float32 { return 175.72*float32(raw)/65536 - 46.85 }

// Fahrenheit returns °F (float).
func Fahrenheit(raw uint16) float32 { return Celsius(raw)*9/5 + 32 }

// RelHumidity returns %RH (float), unclamped.
func RelHumidity(raw uint16) float32 { return 125*float32(raw)/65536 - 6 }

// RawFromCelsius is the inverse of Celsius, for test fixtures and models.
func RawFromCelsius(c float32) uint16 {
	v := math32.Round((c + 46.85) * 65536 / 175.72)
	return uint16(mathx.Clamp(v, 0, 65535))
}

// RawFromRH is the inverse of RelHumidity.
func RawFromRH(rh float32) uint16 {
	v := math32.Round((rh + 6) * 65536 / 125)
	return uint16(mathx.Clamp(v, 0, 65535))
}

// ---- Blocking driver ----

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Address defaults to 0x40 if zero.
	Address uint16
	// PollInterval separates read attempts while a no-hold conversion runs.
	// Default 2 ms.
	PollInterval time.Duration
	// Timeout bounds a no-hold measurement. Default 50 ms.
	Timeout time.Duration
}

// Device wraps an I2C connection to an Si7021.
type Device struct {
	bus     drivers.I2C
	Address uint16
	cfg     Config
	buf     [2]byte
}

// New creates a Device. The bus must already be configured; nothing is sent.
func New(bus drivers.I2C, cfgs ...Config) *Device {
	c := Config{}
	if len(cfgs) > 0 {
		c = cfgs[0]
	}
	if c.Address == 0 {
		c.Address = Address
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 50 * time.Millisecond
	}
	return &Device{bus: bus, Address: c.Address, cfg: c}
}

// Reset issues a soft reset. The part needs ~15 ms before the next command.
func (d *Device) Reset() error {
	return d.bus.Tx(d.Address, []byte{CmdReset}, nil)
}

// ReadUserReg reads user register 1.
func (d *Device) ReadUserReg() (byte, error) {
	if err := d.bus.Tx(d.Address, []byte{CmdReadUserReg1}, d.buf[:1]); err != nil {
		return 0, err
	}
	return d.buf[0], nil
}

// WriteUserReg writes user register 1.
func (d *Device) WriteUserReg(v byte) error {
	return d.bus.Tx(d.Address, []byte{CmdWriteUserReg1, v}, nil)
}

// SetResolution rewrites the resolution bits and reads the register back.
func (d *Device) SetResolution(r Resolution) error {
	if !r.Valid() {
		return ErrResolution
	}
	reg, err := d.ReadUserReg()
	if err != nil {
		return err
	}
	want := ApplyResolution(reg, r)
	if err := d.WriteUserReg(want); err != nil {
		return err
	}
	got, err := d.ReadUserReg()
	if err != nil {
		return err
	}
	if got != want {
		return ErrVerify
	}
	return nil
}

// Resolution reads the current resolution.
func (d *Device) Resolution() (Resolution, error) {
	reg, err := d.ReadUserReg()
	return ResolutionOf(reg), err
}

// MeasureTemperatureRaw runs a no-hold temperature conversion.
func (d *Device) MeasureTemperatureRaw() (uint16, error) { return d.measure(CmdMeasureTemp) }

// MeasureHumidityRaw runs a no-hold humidity conversion.
func (d *Device) MeasureHumidityRaw() (uint16, error) { return d.measure(CmdMeasureRH) }

// measure starts a conversion and polls until the device stops
// not-acknowledging its read address.
func (d *Device) measure(cmd byte) (uint16, error) {
	if err := d.bus.Tx(d.Address, []byte{cmd}, nil); err != nil {
		return 0, err
	}
	deadline := time.Now().Add(d.cfg.Timeout)
	for {
		if err := d.bus.Tx(d.Address, nil, d.buf[:2]); err == nil {
			return uint16(d.buf[0])<<8 | uint16(d.buf[1]), nil
		}
		if time.Now().After(deadline) {
			return 0, ErrTimeout
		}
		time.Sleep(d.cfg.PollInterval)
	}
}
