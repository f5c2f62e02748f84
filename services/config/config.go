// Package config holds the sensorlink settings. Firmware builds use
// Default(); the host runner loads YAML (see file.go).
package config

import (
	"errors"
	"time"

	"sensorlink/bus"
	"sensorlink/drivers/si7021"
	"sensorlink/x/mathx"
)

const (
	configPrefix = "config"

	minWake = 100 * time.Millisecond
	maxWake = time.Hour
	maxMode = 4 // EM4
)

// Config is the whole application configuration.
type Config struct {
	Wake   WakeConfig   `yaml:"wake"`
	Sensor SensorConfig `yaml:"sensor"`
	Link   LinkConfig   `yaml:"link"`
	Serial SerialConfig `yaml:"serial"`
	Power  PowerConfig  `yaml:"power"`
}

// WakeConfig controls the periodic measurement.
type WakeConfig struct {
	Period time.Duration `yaml:"period"`
}

// SensorConfig describes the Si7021 on the bus.
type SensorConfig struct {
	Address    uint8   `yaml:"address"`
	Resolution string  `yaml:"resolution"` // 12RH_14T, 8RH_12T, 10RH_13T or 11RH_11T
	AlertF     float32 `yaml:"alert_f"`    // LED on at or above this temperature
}

// LinkConfig sizes the outbound path.
type LinkConfig struct {
	RingSize int    `yaml:"ring_size"` // bytes, power of two
	Name     string `yaml:"name"`      // announced in the boot greeting
	Greeting bool   `yaml:"greeting"`
}

// SerialConfig selects the radio bridge port on the host.
type SerialConfig struct {
	Port string `yaml:"port"` // empty: write to stdout
	Baud int    `yaml:"baud"`
}

// PowerConfig gives energy modes as 0 (EM0) .. 4 (EM4).
type PowerConfig struct {
	Deepest     uint8 `yaml:"deepest"`
	BusBlock    uint8 `yaml:"bus_block"`
	TxBlock     uint8 `yaml:"tx_block"`
	SystemBlock uint8 `yaml:"system_block"` // held for the life of the service
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Wake: WakeConfig{Period: 2700 * time.Millisecond},
		Sensor: SensorConfig{
			Address:    si7021.Address,
			Resolution: si7021.Res10RH13T.String(),
			AlertF:     80,
		},
		Link: LinkConfig{
			RingSize: 128,
			Name:     "sensorlink",
			Greeting: true,
		},
		Serial: SerialConfig{Baud: 9600},
		Power: PowerConfig{
			Deepest:     3,
			BusBlock:    2,
			TxBlock:     3,
			SystemBlock: 3,
		},
	}
}

// ParseResolution maps a resolution name to its register encoding.
func ParseResolution(s string) (si7021.Resolution, bool) {
	for _, r := range [...]si7021.Resolution{si7021.Res12RH14T, si7021.Res8RH12T, si7021.Res10RH13T, si7021.Res11RH11T} {
		if r.String() == s {
			return r, true
		}
	}
	return 0, false
}

// Errors returned by Validate.
var (
	ErrWakePeriod = errors.New("config: wake period out of range")
	ErrAddress    = errors.New("config: sensor address must be 7-bit")
	ErrResolution = errors.New("config: unknown sensor resolution")
	ErrRingSize   = errors.New("config: ring size must be a power of two in 16..4096")
	ErrMode       = errors.New("config: energy mode out of range")
	ErrBaud       = errors.New("config: baud must be positive")
)

// Validate checks the configuration without modifying it.
func (c *Config) Validate() error {
	switch {
	case !mathx.Between(c.Wake.Period, minWake, maxWake):
		return ErrWakePeriod
	case c.Sensor.Address > 0x7F:
		return ErrAddress
	case !validResolution(c.Sensor.Resolution):
		return ErrResolution
	case mathx.Pow2Floor(c.Link.RingSize) != c.Link.RingSize || !mathx.Between(c.Link.RingSize, 16, 4096):
		return ErrRingSize
	case c.Power.Deepest == 0 || c.Power.Deepest > maxMode,
		c.Power.BusBlock > maxMode, c.Power.TxBlock > maxMode, c.Power.SystemBlock > maxMode:
		return ErrMode
	case c.Serial.Baud <= 0:
		return ErrBaud
	}
	return nil
}

func validResolution(s string) bool {
	_, ok := ParseResolution(s)
	return ok
}

// ensureDefaults fills missing fields and pulls numeric fields into range.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Wake.Period == 0 {
		c.Wake.Period = def.Wake.Period
	}
	c.Wake.Period = mathx.Clamp(c.Wake.Period, minWake, maxWake)

	if c.Sensor.Address == 0 {
		c.Sensor.Address = def.Sensor.Address
	}
	if c.Sensor.Resolution == "" {
		c.Sensor.Resolution = def.Sensor.Resolution
	}
	if c.Sensor.AlertF == 0 {
		c.Sensor.AlertF = def.Sensor.AlertF
	}

	if c.Link.RingSize == 0 {
		c.Link.RingSize = def.Link.RingSize
	}
	c.Link.RingSize = mathx.Pow2Floor(mathx.Clamp(c.Link.RingSize, 16, 4096))
	if c.Link.Name == "" {
		c.Link.Name = def.Link.Name
	}

	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.Serial.Baud
	}

	if c.Power.Deepest == 0 {
		c.Power.Deepest = def.Power.Deepest
	}
	c.Power.Deepest = mathx.Min(c.Power.Deepest, maxMode)
	c.Power.BusBlock = mathx.Min(c.Power.BusBlock, maxMode)
	c.Power.TxBlock = mathx.Min(c.Power.TxBlock, maxMode)
	c.Power.SystemBlock = mathx.Min(c.Power.SystemBlock, maxMode)
}

// Publish announces each section as a retained message under config/<name>.
func (c *Config) Publish(conn *bus.Connection) {
	for _, kv := range []struct {
		key string
		val any
	}{
		{"wake", c.Wake},
		{"sensor", c.Sensor},
		{"link", c.Link},
		{"serial", c.Serial},
		{"power", c.Power},
	} {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, kv.key), kv.val, true))
	}
}
