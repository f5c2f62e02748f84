// services/link/internal/platform/line.go
package platform

import (
	"context"
	"sync"
	"sync/atomic"

	"sensorlink/services/link/internal/halcore"
)

// Port is the raw byte pipe under a serial line. *uartx.UART satisfies it.
type Port interface {
	WriteByte(b byte) error
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
}

// Line interrupt flags. TXBL is a level flag that follows the holding
// register; TXC is latched and cleared when serviced.
const (
	lineIFTXBL uint8 = 1 << iota
	lineIFTXC
)

// SerialLine turns a Port into a one-byte-deep transmitter that reports
// buffer-empty and transmission-complete through the interrupt controller.
// A shifter goroutine drains the holding register into the port.
type SerialLine struct {
	port Port
	post Poster

	hmu    sync.RWMutex
	handle func(halcore.LineEvent) error

	mu       sync.Mutex
	ifl      uint8
	ien      uint8
	queued   bool
	shifting bool
	hold     chan byte
	quit     chan struct{}

	written uint32
	errs    uint32
	drops   uint32
}

func NewSerialLine(port Port, post Poster) *SerialLine {
	l := &SerialLine{
		port: port,
		post: post,
		ifl:  lineIFTXBL,
		hold: make(chan byte, 1),
		quit: make(chan struct{}),
	}
	go l.shift()
	return l
}

// Bind sets the handler run for each line event.
func (l *SerialLine) Bind(fn func(halcore.LineEvent) error) {
	l.hmu.Lock()
	l.handle = fn
	l.hmu.Unlock()
}

func (l *SerialLine) Close() { close(l.quit) }

func (l *SerialLine) shift() {
	for {
		select {
		case b := <-l.hold:
			l.mu.Lock()
			l.ifl |= lineIFTXBL
			l.requestLocked()

			if err := l.port.WriteByte(b); err != nil {
				atomic.AddUint32(&l.errs, 1)
			} else {
				atomic.AddUint32(&l.written, 1)
			}

			l.mu.Lock()
			if len(l.hold) == 0 {
				l.shifting = false
				l.ifl |= lineIFTXC
			}
			l.requestLocked()
		case <-l.quit:
			return
		}
	}
}

// requestLocked schedules a service pass if an enabled flag is set. Called
// with l.mu held; releases it.
func (l *SerialLine) requestLocked() {
	if l.ifl&l.ien == 0 || l.queued {
		l.mu.Unlock()
		return
	}
	l.queued = true
	l.mu.Unlock()
	if !l.post.Post(l.service) {
		atomic.AddUint32(&l.drops, 1)
		l.mu.Lock()
		l.queued = false
		l.mu.Unlock()
	}
}

// service is the line interrupt handler.
func (l *SerialLine) service() error {
	l.mu.Lock()
	f := l.ifl & l.ien
	l.ifl &^= f & lineIFTXC
	l.queued = false
	l.mu.Unlock()

	l.hmu.RLock()
	h := l.handle
	l.hmu.RUnlock()
	if h == nil {
		return nil
	}
	if f&lineIFTXBL != 0 {
		if err := h(halcore.TxEmpty); err != nil {
			return err
		}
	}
	if f&lineIFTXC != 0 {
		if err := h(halcore.TxComplete); err != nil {
			return err
		}
	}
	return nil
}

func (l *SerialLine) setEnable(bit uint8, on bool) {
	l.mu.Lock()
	if on {
		l.ien |= bit
	} else {
		l.ien &^= bit
	}
	l.requestLocked()
}

// ---- halcore.Line ----

func (l *SerialLine) TxIdle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ifl&lineIFTXBL != 0 && !l.shifting
}

func (l *SerialLine) WriteTx(b byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case l.hold <- b:
		l.ifl &^= lineIFTXBL | lineIFTXC
		l.shifting = true
	default:
		atomic.AddUint32(&l.drops, 1)
	}
}

func (l *SerialLine) EnableTxEmpty(on bool)    { l.setEnable(lineIFTXBL, on) }
func (l *SerialLine) EnableTxComplete(on bool) { l.setEnable(lineIFTXC, on) }

func (l *SerialLine) TriggerTxComplete() {
	l.mu.Lock()
	l.ifl |= lineIFTXC
	l.requestLocked()
}

// ---- halcore.Poller (diagnostics only) ----

// TransmitByte writes b straight to the port, bypassing the holding
// register. It must not be used while the interrupt path is transmitting.
func (l *SerialLine) TransmitByte(ctx context.Context, b byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.port.WriteByte(b)
}

func (l *SerialLine) ReceiveByte(ctx context.Context) (byte, error) {
	var b [1]byte
	for {
		n, err := l.port.RecvSomeContext(ctx, b[:])
		if n == 1 {
			return b[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// Stats returns bytes written, port write errors and dropped posts.
func (l *SerialLine) Stats() (written, errs, drops uint32) {
	return atomic.LoadUint32(&l.written), atomic.LoadUint32(&l.errs), atomic.LoadUint32(&l.drops)
}

var (
	_ halcore.Line   = (*SerialLine)(nil)
	_ halcore.Poller = (*SerialLine)(nil)
)
