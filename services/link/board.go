package link

import "sensorlink/services/link/internal/platform"

// Board is the hardware a Service runs on; BoardConfig selects its pins.
type (
	Board       = platform.Board
	BoardConfig = platform.BoardConfig
)
