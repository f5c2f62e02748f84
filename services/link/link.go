// Package link is the sensor-to-radio control loop. A periodic wake starts
// a temperature read on the two-wire bus, the result is formatted and queued
// for the serial radio bridge, and a humidity read follows. Between events
// the main loop sleeps at the deepest depth the power arbiter allows.
package link

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"sensorlink/bus"
	"sensorlink/drivers/si7021"
	"sensorlink/errcode"
	"sensorlink/services/config"
	"sensorlink/services/link/internal/halcore"
	"sensorlink/services/link/internal/i2cm"
	"sensorlink/services/link/internal/irq"
	"sensorlink/services/link/internal/outbox"
	"sensorlink/services/link/internal/platform"
	"sensorlink/services/link/internal/power"
	"sensorlink/services/link/internal/sched"
	"sensorlink/services/link/internal/uarttx"
)

// Scheduler events, dispatched in this order.
const (
	EvBoot sched.Event = 1 << iota
	EvUserRegRead
	EvUserRegWritten
	EvWakeTick
	EvTempDone
	EvHumidityDone
	EvTxDone
)

var (
	TopicTemperature = bus.T("link", "value", "temperature")
	TopicHumidity    = bus.T("link", "value", "humidity")
	TopicPower       = bus.T("link", "power")
	TopicState       = bus.T("link", "state")
)

// Reading is published, retained, after each completed measurement.
type Reading struct {
	Raw  uint16
	Deci int32 // tenths of °F or %RH
	At   time.Time
}

// PowerState is published after each measurement cycle.
type PowerState struct {
	Permitted power.Mode
	Blocks    [power.NumModes]int
}

// Service owns every singleton of the control loop.
type Service struct {
	cfg   *config.Config
	board platform.Board
	conn  *bus.Connection

	sch  *sched.Scheduler
	arb  *power.Arbiter
	ctrl *irq.Controller
	eng  *platform.BusEngine
	line *platform.SerialLine
	i2c  *i2cm.Machine
	tx   *uarttx.Machine
	out  *outbox.Queue

	res      si7021.Resolution
	sysBlock power.Mode
	handlers []handler

	// cycle is set from the start of a temperature read until the
	// humidity line is queued; main loop only.
	cycle bool

	mu       sync.Mutex
	rawTemp  uint16
	rawRH    uint16
	haveTemp bool
	haveRH   bool
	overruns uint32

	faultMu sync.Mutex
	fault   error
	cancel  context.CancelFunc

	started   atomic.Bool
	closeOnce sync.Once
}

type handler struct {
	ev sched.Event
	fn func() error
}

// txAdapter binds the transmit machine's completion event for the queue.
type txAdapter struct {
	m    *uarttx.Machine
	done sched.Event
}

func (a txAdapter) Busy() bool           { return a.m.Busy() }
func (a txAdapter) Start(p []byte) error { return a.m.Start(p, a.done) }

// New wires a service onto board. conn may be nil when nothing listens.
func New(cfg *config.Config, board platform.Board, conn *bus.Connection) (*Service, error) {
	const op = "link.new"
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: op, Err: err}
	}
	if board.I2C == nil || board.Port == nil || board.Timer == nil || board.Sleeper == nil {
		return nil, errcode.New(errcode.InvalidParams, op, "incomplete board")
	}
	res, _ := config.ParseResolution(cfg.Sensor.Resolution)

	s := &Service{
		cfg:      cfg,
		board:    board,
		conn:     conn,
		sch:      sched.New(),
		arb:      power.New(power.Mode(cfg.Power.Deepest)),
		ctrl:     irq.New(32),
		res:      res,
		sysBlock: power.Mode(cfg.Power.SystemBlock),
	}
	s.eng = platform.NewBusEngine(board.I2C, s.ctrl)
	s.i2c = i2cm.New(s.eng, s.arb, s.sch, power.Mode(cfg.Power.BusBlock))
	s.eng.Bind(s.i2c.Handle)

	s.line = platform.NewSerialLine(board.Port, s.ctrl)
	s.tx = uarttx.New(s.line, s.arb, s.sch, power.Mode(cfg.Power.TxBlock))
	s.line.Bind(s.tx.Handle)

	out, err := outbox.New(cfg.Link.RingSize, txAdapter{m: s.tx, done: EvTxDone})
	if err != nil {
		s.close()
		return nil, err
	}
	s.out = out

	s.ctrl.OnFault(s.fail)
	s.handlers = []handler{
		{EvBoot, s.onBoot},
		{EvUserRegRead, s.onUserRegRead},
		{EvUserRegWritten, s.onUserRegWritten},
		{EvWakeTick, s.onWakeTick},
		{EvTempDone, s.onTempDone},
		{EvHumidityDone, s.onHumidityDone},
		{EvTxDone, s.onTxDone},
	}
	return s, nil
}

// Run drives the loop until ctx ends or a fatal error occurs; the fatal
// error is returned. A Service runs once: the peripherals are released when
// Run returns.
func (s *Service) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errcode.New(errcode.Busy, "link.run", "already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.faultMu.Lock()
	s.cancel = cancel
	s.faultMu.Unlock()

	go s.ctrl.Run(ctx)
	defer s.close()

	if err := s.arb.Block(s.sysBlock); err != nil {
		return err
	}
	defer func() { _ = s.arb.Unblock(s.sysBlock) }()

	s.publish(TopicState, "starting")
	s.sch.Raise(EvBoot)

	for {
		if err := s.Err(); err != nil {
			s.publish(TopicState, "halted")
			return err
		}
		if ctx.Err() != nil {
			s.publish(TopicState, "stopped")
			return s.Err()
		}
		pending := s.sch.Pending()
		if pending == sched.None {
			s.arb.EnterSleep(ctx, s.board.Sleeper, s.sch.Wake())
			continue
		}
		if err := s.dispatch(pending); err != nil {
			s.fail(err)
		}
	}
}

// dispatch runs the handler of every pending event, in table order, and
// stops at the first error.
func (s *Service) dispatch(pending sched.Event) error {
	for _, h := range s.handlers {
		if pending&h.ev == 0 {
			continue
		}
		if err := h.fn(); err != nil {
			return err
		}
	}
	return nil
}

// fail records the first handler error and stops Run. Every handler error
// halts; the fatal classes are only distinguished in the log.
func (s *Service) fail(err error) {
	s.faultMu.Lock()
	first := s.fault == nil
	if first {
		s.fault = err
	}
	cancel := s.cancel
	s.faultMu.Unlock()
	if first {
		kind := "error"
		if errcode.IsFatal(err) {
			kind = "fatal"
		}
		println("[link] halt,", kind+":", err.Error())
	}
	if cancel != nil {
		cancel()
	}
}

// Err returns the fatal error that halted the service, if any.
func (s *Service) Err() error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	return s.fault
}

func (s *Service) close() {
	s.closeOnce.Do(func() {
		s.board.Timer.Stop()
		s.eng.Close()
		s.line.Close()
	})
}

func (s *Service) publish(t bus.Topic, v any) {
	if s.conn == nil {
		return
	}
	s.conn.Publish(s.conn.NewMessage(t, v, true))
}

// ---- Application API ----

// StartBusRead starts a read of count bytes after command. done is raised
// when the value is available through the Current* readers.
func (s *Service) StartBusRead(command byte, count int, done sched.Event) error {
	return s.i2c.Start(i2cm.Txn{
		Address: s.cfg.Sensor.Address,
		Command: command,
		Dir:     i2cm.Read,
		Count:   count,
		Done:    done,
	})
}

// StartBusWrite writes command followed by one value byte.
func (s *Service) StartBusWrite(command byte, value uint8, done sched.Event) error {
	return s.i2c.Start(i2cm.Txn{
		Address: s.cfg.Sensor.Address,
		Command: command,
		Dir:     i2cm.Write,
		Count:   1,
		Value:   uint16(value),
		Done:    done,
	})
}

// EnqueueOutbound queues text for the radio and starts transmission if the
// line is free. Overflow is fatal: producers must keep within capacity.
func (s *Service) EnqueueOutbound(text string) error {
	if len(text) == 0 || len(text) > uarttx.MaxFrame {
		return errcode.New(errcode.InvalidParams, "link.enqueue", "length")
	}
	if err := s.out.Push([]byte(text)); err != nil {
		return err
	}
	_, err := s.out.Pop()
	return err
}

// OutboundSpace returns the free bytes in the outbound queue.
func (s *Service) OutboundSpace() int { return s.out.Space() }

// CurrentTemperatureF converts the last completed temperature read.
func (s *Service) CurrentTemperatureF() (float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return si7021.Fahrenheit(s.rawTemp), s.haveTemp
}

func (s *Service) CurrentTemperatureC() (float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return si7021.Celsius(s.rawTemp), s.haveTemp
}

// RelativeHumidity converts the last completed humidity read.
func (s *Service) RelativeHumidity() (float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return si7021.RelHumidity(s.rawRH), s.haveRH
}

// Poller exposes the serial line's diagnostic byte interface. It must not
// be used while the service is running.
func (s *Service) Poller() halcore.Poller { return s.line }

// Stats is a snapshot of the loop's counters.
type Stats struct {
	Overruns    uint32
	NackRetries uint32
	Frames      uint32
	IRQServed   uint32
	IRQDrops    uint32
	Pushed      uint32
	Popped      uint32
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	ov := s.overruns
	s.mu.Unlock()
	pushed, popped := s.out.Stats()
	return Stats{
		Overruns:    ov,
		NackRetries: s.i2c.NackRetries(),
		Frames:      s.tx.Frames(),
		IRQServed:   s.ctrl.Served(),
		IRQDrops:    s.ctrl.Drops() + s.eng.Drops(),
		Pushed:      pushed,
		Popped:      popped,
	}
}
