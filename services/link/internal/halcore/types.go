// services/link/internal/halcore/types.go
package halcore

import (
	"context"
	"time"

	"tinygo.org/x/drivers"
)

// ---- Two-wire bus (master) ----

// BusEvent is one hardware condition reported by the bus peripheral.
type BusEvent uint8

const (
	BusAck    BusEvent = iota + 1 // address or data byte acknowledged
	BusNack                       // address or data byte not acknowledged
	BusRxData                     // received byte available
	BusStop                       // stop condition completed
)

func (e BusEvent) String() string {
	switch e {
	case BusAck:
		return "ack"
	case BusNack:
		return "nack"
	case BusRxData:
		return "rxdata"
	case BusStop:
		return "stop"
	default:
		return "unknown"
	}
}

// BusPeripheral is the command side of a bus-master peripheral. Every call
// is non-blocking; progress is reported later as a BusEvent.
type BusPeripheral interface {
	Idle() bool
	Start()      // (re)start condition
	Send(b byte) // clear tx and load one byte
	Recv() byte  // last received byte
	Ack()
	Nack()
	Stop()
}

// I2C is the blocking subset used by drivers (compatible with
// tinygo.org/x/drivers.I2C).
type I2C = drivers.I2C

// ---- Serial line (transmit) ----

// LineEvent is one hardware condition reported by the serial peripheral.
type LineEvent uint8

const (
	TxEmpty    LineEvent = iota + 1 // transmit buffer can take a byte
	TxComplete                      // shift register drained
)

func (e LineEvent) String() string {
	switch e {
	case TxEmpty:
		return "txbl"
	case TxComplete:
		return "txc"
	default:
		return "unknown"
	}
}

// Line is the interrupt-driven transmit side of a serial peripheral.
type Line interface {
	TxIdle() bool
	WriteTx(b byte)
	EnableTxEmpty(on bool)
	EnableTxComplete(on bool)
	// TriggerTxComplete sets the tx-complete flag by software.
	TriggerTxComplete()
}

// Poller is the busy-wait byte interface reserved for diagnostics.
type Poller interface {
	TransmitByte(ctx context.Context, b byte) error
	ReceiveByte(ctx context.Context) (byte, error)
}

// ---- Timer, pins ----

// WakeTimer fires fn periodically from interrupt context.
type WakeTimer interface {
	Start(period time.Duration, fn func())
	Stop()
}

// Pin is a push-pull output.
type Pin interface {
	Set(level bool)
	Get() bool
}
