// services/link/internal/platform/bus_engine.go
package platform

import (
	"sync"
	"sync/atomic"

	"sensorlink/services/link/internal/halcore"
	"sensorlink/services/link/internal/irq"

	"tinygo.org/x/drivers"
)

// Poster queues work for the interrupt controller.
type Poster interface {
	Post(h irq.Handler) bool
}

// Bus interrupt flags, serviced in this order.
const (
	busIFAck uint8 = 1 << iota
	busIFNack
	busIFStop
	busIFRxData
)

// readWindow is the number of bytes clocked in per read address phase.
const readWindow = 2

// busJob is one transfer for the owner worker.
type busJob struct {
	addr uint16
	w    []byte
	rn   int  // bytes to read; 0 = write only
	stop bool // raise stop-complete on success
}

// BusEngine presents a blocking drivers.I2C as an interrupt-driven bus
// master: commands return at once and their outcome arrives later as
// BusEvents through the interrupt controller. Transfers run on a single
// owner goroutine per bus.
type BusEngine struct {
	dev  drivers.I2C
	post Poster

	hmu    sync.RWMutex
	handle func(halcore.BusEvent) error

	mu       sync.Mutex
	flags    uint8
	queued   bool
	active   bool
	inflight bool
	addrNext bool
	addr     uint16
	wbuf     [8]byte
	wn       int
	rx       [readWindow]byte
	rxi      int

	jobs chan busJob
	quit chan struct{}

	transfers uint32
	drops     uint32
}

func NewBusEngine(dev drivers.I2C, post Poster) *BusEngine {
	e := &BusEngine{
		dev:  dev,
		post: post,
		jobs: make(chan busJob, 4),
		quit: make(chan struct{}),
	}
	go e.loop()
	return e
}

// Bind sets the handler run for each bus event.
func (e *BusEngine) Bind(fn func(halcore.BusEvent) error) {
	e.hmu.Lock()
	e.handle = fn
	e.hmu.Unlock()
}

// Close stops the owner goroutine.
func (e *BusEngine) Close() { close(e.quit) }

func (e *BusEngine) loop() {
	for {
		select {
		case j := <-e.jobs:
			e.run(j)
		case <-e.quit:
			return
		}
	}
}

func (e *BusEngine) run(j busJob) {
	atomic.AddUint32(&e.transfers, 1)
	if len(j.w) > 0 {
		if err := e.dev.Tx(j.addr, j.w, nil); err != nil {
			e.finish(busIFNack, nil)
			return
		}
	}
	if j.rn > 0 {
		var buf [readWindow]byte
		if err := e.dev.Tx(j.addr, nil, buf[:j.rn]); err != nil {
			e.finish(busIFNack, nil)
			return
		}
		e.finish(busIFAck|busIFRxData, buf[:j.rn])
		return
	}
	if j.stop {
		e.finish(busIFStop, nil)
	}
}

func (e *BusEngine) finish(f uint8, rx []byte) {
	e.mu.Lock()
	e.inflight = false
	if rx != nil {
		copy(e.rx[:], rx)
		e.rxi = 0
	}
	if f&busIFStop != 0 {
		e.active = false
	}
	e.raiseLocked(f)
}

// raiseLocked sets flags and schedules a service pass. Called with e.mu
// held; releases it.
func (e *BusEngine) raiseLocked(f uint8) {
	e.flags |= f
	if e.queued {
		e.mu.Unlock()
		return
	}
	e.queued = true
	e.mu.Unlock()
	if !e.post.Post(e.service) {
		atomic.AddUint32(&e.drops, 1)
		e.mu.Lock()
		e.queued = false
		e.mu.Unlock()
	}
}

func (e *BusEngine) raise(f uint8) {
	e.mu.Lock()
	e.raiseLocked(f)
}

// service is the bus interrupt handler.
func (e *BusEngine) service() error {
	e.mu.Lock()
	f := e.flags
	e.flags = 0
	e.queued = false
	e.mu.Unlock()

	e.hmu.RLock()
	h := e.handle
	e.hmu.RUnlock()
	if h == nil {
		return nil
	}
	for _, x := range [...]struct {
		bit uint8
		ev  halcore.BusEvent
	}{
		{busIFAck, halcore.BusAck},
		{busIFNack, halcore.BusNack},
		{busIFStop, halcore.BusStop},
		{busIFRxData, halcore.BusRxData},
	} {
		if f&x.bit == 0 {
			continue
		}
		if err := h(x.ev); err != nil {
			return err
		}
	}
	return nil
}

func (e *BusEngine) submit(j busJob) {
	e.inflight = true
	select {
	case e.jobs <- j:
	default:
		e.inflight = false
		atomic.AddUint32(&e.drops, 1)
	}
}

// ---- halcore.BusPeripheral ----

func (e *BusEngine) Idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.active && !e.inflight
}

func (e *BusEngine) Start() {
	e.mu.Lock()
	e.active = true
	e.addrNext = true
	e.mu.Unlock()
}

func (e *BusEngine) Send(b byte) {
	e.mu.Lock()
	if !e.addrNext {
		if e.wn < len(e.wbuf) {
			e.wbuf[e.wn] = b
			e.wn++
		}
		e.raiseLocked(busIFAck)
		return
	}
	e.addrNext = false
	e.addr = uint16(b >> 1)
	if b&1 == 0 {
		e.raiseLocked(busIFAck)
		return
	}
	// Read address: flush the pending command, then clock in the window.
	j := busJob{addr: e.addr, rn: readWindow}
	if e.wn > 0 {
		j.w = append([]byte(nil), e.wbuf[:e.wn]...)
		e.wn = 0
	}
	e.submit(j)
	e.mu.Unlock()
}

func (e *BusEngine) Recv() byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rxi >= readWindow {
		return 0xFF
	}
	return e.rx[e.rxi]
}

func (e *BusEngine) Ack() {
	e.mu.Lock()
	e.rxi++
	if e.rxi < readWindow {
		e.raiseLocked(busIFRxData)
		return
	}
	e.mu.Unlock()
}

func (e *BusEngine) Nack() {}

func (e *BusEngine) Stop() {
	e.mu.Lock()
	if e.wn > 0 {
		j := busJob{addr: e.addr, w: append([]byte(nil), e.wbuf[:e.wn]...), stop: true}
		e.wn = 0
		e.submit(j)
		e.mu.Unlock()
		return
	}
	e.active = false
	e.raiseLocked(busIFStop)
}

// Transfers counts drivers.I2C transfers issued.
func (e *BusEngine) Transfers() uint32 { return atomic.LoadUint32(&e.transfers) }

// Drops counts lost service posts and refused jobs.
func (e *BusEngine) Drops() uint32 { return atomic.LoadUint32(&e.drops) }

var _ halcore.BusPeripheral = (*BusEngine)(nil)
