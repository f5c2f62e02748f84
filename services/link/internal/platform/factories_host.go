// services/link/internal/platform/factories_host.go
//go:build !rp2040

package platform

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"sensorlink/drivers/si7021"
	"sensorlink/errcode"
	"sensorlink/x/shmring"

	"go.bug.st/serial"
	"tinygo.org/x/drivers"
)

// ----------------------------- I²C (host) ------------------------------------

// HostI2C implements drivers.I2C with a register-level Si7021 model.
// No-hold conversions NACK the read address for BusyReads polls.
type HostI2C struct {
	mu sync.Mutex

	Addr      uint16
	BusyReads int

	rawTemp uint16
	rawRH   uint16
	userReg byte

	pending byte // last command byte; selects what a read returns
	busy    int

	nacks uint32
	txs   uint32
}

// NewHostI2C returns a model at the default address reading 21.5 °C and
// 45 %RH.
func NewHostI2C() *HostI2C {
	return &HostI2C{
		Addr:      si7021.Address,
		BusyReads: 2,
		rawTemp:   si7021.RawFromCelsius(21.5),
		rawRH:     si7021.RawFromRH(45),
		userReg:   si7021.UserReg1Reset,
	}
}

// SetTemperature sets the next temperature reading in °C.
func (h *HostI2C) SetTemperature(c float32) {
	h.mu.Lock()
	h.rawTemp = si7021.RawFromCelsius(c)
	h.mu.Unlock()
}

// SetHumidity sets the next humidity reading in %RH.
func (h *HostI2C) SetHumidity(rh float32) {
	h.mu.Lock()
	h.rawRH = si7021.RawFromRH(rh)
	h.mu.Unlock()
}

func (h *HostI2C) UserReg() byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.userReg
}

// Stats returns transfers seen and read NACKs given.
func (h *HostI2C) Stats() (txs, nacks uint32) {
	return atomic.LoadUint32(&h.txs), atomic.LoadUint32(&h.nacks)
}

func (h *HostI2C) Tx(addr uint16, w, r []byte) error {
	atomic.AddUint32(&h.txs, 1)
	h.mu.Lock()
	defer h.mu.Unlock()
	if addr != h.Addr {
		return errcode.New(errcode.Nack, "i2c.tx", "no device")
	}
	if len(w) > 0 {
		h.pending = w[0]
		switch w[0] {
		case si7021.CmdMeasureTemp, si7021.CmdMeasureRH:
			h.busy = h.BusyReads
		case si7021.CmdMeasureTempHold, si7021.CmdMeasureRHHold:
			h.busy = 0
		case si7021.CmdWriteUserReg1:
			if len(w) > 1 {
				h.userReg = w[1]
			}
		case si7021.CmdReset:
			h.userReg = si7021.UserReg1Reset
		}
	}
	if len(r) == 0 {
		return nil
	}
	fill(r, 0xFF)
	switch h.pending {
	case si7021.CmdReadUserReg1:
		r[0] = h.userReg
		return nil
	case si7021.CmdMeasureTemp, si7021.CmdMeasureRH, si7021.CmdMeasureTempHold, si7021.CmdMeasureRHHold:
	default:
		return nil
	}
	if h.busy > 0 {
		h.busy--
		atomic.AddUint32(&h.nacks, 1)
		return errcode.New(errcode.Nack, "i2c.tx", "converting")
	}
	v := h.rawTemp
	if h.pending == si7021.CmdMeasureRH || h.pending == si7021.CmdMeasureRHHold {
		v = h.rawRH
	}
	r[0] = byte(v >> 8)
	if len(r) > 1 {
		r[1] = byte(v)
	}
	return nil
}

func fill(p []byte, b byte) {
	for i := range p {
		p[i] = b
	}
}

// ----------------------------- Serial (host) ---------------------------------

// StreamPort adapts an io.Writer, and optionally an io.Reader, to Port.
// Received bytes are buffered in a ring by a reader goroutine.
type StreamPort struct {
	w  io.Writer
	rx *shmring.Ring

	mu  sync.Mutex
	err error
}

// NewStreamPort wraps w and r. r may be nil for a transmit-only port.
func NewStreamPort(w io.Writer, r io.Reader) *StreamPort {
	p := &StreamPort{w: w, rx: shmring.New(256)}
	if r != nil {
		go p.pump(r)
	}
	return p
}

func (p *StreamPort) pump(r io.Reader) {
	var buf [64]byte
	for {
		n, err := r.Read(buf[:])
		for off := 0; off < n; {
			m := p.rx.WriteFrom(buf[off:n])
			if m == 0 {
				// Full: drop the rest, as a UART FIFO overrun would.
				break
			}
			off += m
		}
		if err != nil {
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			return
		}
	}
}

func (p *StreamPort) WriteByte(b byte) error {
	_, err := p.w.Write([]byte{b})
	return err
}

func (p *StreamPort) RecvSomeContext(ctx context.Context, dst []byte) (int, error) {
	for {
		if n := p.rx.ReadInto(dst); n > 0 {
			return n, nil
		}
		p.mu.Lock()
		err := p.err
		p.mu.Unlock()
		if err != nil {
			return 0, err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-p.rx.Readable():
		}
	}
}

// OpenSerial opens a host serial device at baud, 8N1.
func OpenSerial(name string, baud int) (serial.Port, error) {
	return serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

// ----------------------------- GPIO (host) -----------------------------------

// HostPin is an output pin that remembers its level and toggle count.
type HostPin struct {
	mu      sync.Mutex
	level   bool
	changes int
}

func (p *HostPin) Set(level bool) {
	p.mu.Lock()
	if p.level != level {
		p.changes++
	}
	p.level = level
	p.mu.Unlock()
}

func (p *HostPin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *HostPin) Changes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changes
}

// ----------------------------- Board (host) ----------------------------------

// DefaultBoard returns an emulated board whose radio bridge writes to out.
// The BoardConfig is accepted for symmetry with the device build.
func DefaultBoard(_ BoardConfig, out io.Writer, in io.Reader) Board {
	return Board{
		I2C:     NewHostI2C(),
		Port:    NewStreamPort(out, in),
		Timer:   &TickerTimer{},
		Sleeper: &Sleeper{},
		LED:     &HostPin{},
	}
}

var _ drivers.I2C = (*HostI2C)(nil)
