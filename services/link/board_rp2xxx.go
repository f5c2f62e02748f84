//go:build rp2040

package link

import "sensorlink/services/link/internal/platform"

// PicoBoard configures the Pico peripherals named by c.
func PicoBoard(c BoardConfig) Board { return platform.DefaultBoard(c) }
