// Package i2cm drives one two-wire bus transaction at a time from hardware
// events. Start issues the address phase; every later step happens inside
// Handle, which is called from the bus interrupt handler.
package i2cm

import (
	"sync"

	"sensorlink/errcode"
	"sensorlink/services/link/internal/halcore"
	"sensorlink/services/link/internal/power"
	"sensorlink/services/link/internal/sched"
)

type State uint8

const (
	Idle State = iota
	Start
	CommandSent
	ReadRequested
	ReadMSB
	ReadLSB
	WriteData
	Stop
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Start:
		return "start"
	case CommandSent:
		return "command_sent"
	case ReadRequested:
		return "read_requested"
	case ReadMSB:
		return "read_msb"
	case ReadLSB:
		return "read_lsb"
	case WriteData:
		return "write_data"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

type Dir uint8

const (
	Write Dir = 0
	Read  Dir = 1
)

// Txn describes one transaction. Count is 1 or 2 for reads and 0..2 for
// writes; written bytes are taken from Value, most significant first.
type Txn struct {
	Address uint8
	Command byte
	Dir     Dir
	Count   int
	Value   uint16
	Done    sched.Event
}

// Machine is the single bus transaction context.
type Machine struct {
	mu    sync.Mutex
	p     halcore.BusPeripheral
	arb   *power.Arbiter
	sch   *sched.Scheduler
	block power.Mode

	st   State
	busy bool
	txn  Txn
	acc  uint16
	sent int // data bytes written so far

	last    uint16
	retries uint32
}

// New binds the machine to its peripheral. block is the shallowest mode the
// bus clock cannot survive.
func New(p halcore.BusPeripheral, arb *power.Arbiter, s *sched.Scheduler, block power.Mode) *Machine {
	return &Machine{p: p, arb: arb, sch: s, block: block}
}

func (m *Machine) Start(t Txn) error {
	const op = "i2cm.start"
	if t.Address > 0x7F {
		return errcode.New(errcode.InvalidParams, op, "address")
	}
	if t.Dir == Read && (t.Count < 1 || t.Count > 2) || t.Dir == Write && (t.Count < 0 || t.Count > 2) {
		return errcode.New(errcode.InvalidParams, op, "count")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy || m.st != Idle || !m.p.Idle() {
		return errcode.New(errcode.Busy, op, m.st.String())
	}
	if err := m.arb.Block(m.block); err != nil {
		return err
	}
	m.txn = t
	m.acc = 0
	m.sent = 0
	m.busy = true
	m.st = Start
	m.p.Start()
	m.p.Send(t.Address<<1 | byte(Write))
	return nil
}

// Handle advances the machine by one hardware event. A non-nil error means
// the bus and the machine disagree and the transaction cannot continue.
func (m *Machine) Handle(ev halcore.BusEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev {
	case halcore.BusAck:
		return m.onAck()
	case halcore.BusNack:
		return m.onNack()
	case halcore.BusRxData:
		return m.onRxData()
	case halcore.BusStop:
		return m.onStop()
	}
	return m.violation(ev)
}

func (m *Machine) onAck() error {
	switch m.st {
	case Start:
		m.p.Send(m.txn.Command)
		m.st = CommandSent
	case CommandSent:
		if m.txn.Dir == Read {
			m.restartRead()
			m.st = ReadRequested
			return nil
		}
		m.writeNext()
	case ReadRequested:
		if m.txn.Count == 2 {
			m.st = ReadMSB
		} else {
			m.st = ReadLSB
		}
	case WriteData:
		m.writeNext()
	default:
		return m.violation(halcore.BusAck)
	}
	return nil
}

// writeNext sends the next data byte, or the stop condition once Count
// bytes have gone out.
func (m *Machine) writeNext() {
	if m.sent >= m.txn.Count {
		m.p.Stop()
		m.st = Stop
		return
	}
	shift := 8 * uint(m.txn.Count-1-m.sent)
	m.p.Send(byte(m.txn.Value >> shift))
	m.sent++
	m.st = WriteData
}

func (m *Machine) restartRead() {
	m.p.Start()
	m.p.Send(m.txn.Address<<1 | byte(Read))
}

func (m *Machine) onNack() error {
	if m.st != ReadRequested {
		return m.violation(halcore.BusNack)
	}
	// Device still converting.
	m.retries++
	m.restartRead()
	return nil
}

func (m *Machine) onRxData() error {
	switch m.st {
	case ReadMSB:
		m.acc = uint16(m.p.Recv()) << 8
		m.p.Ack()
		m.st = ReadLSB
	case ReadLSB:
		m.acc |= uint16(m.p.Recv())
		m.p.Nack()
		m.p.Stop()
		m.st = Stop
	default:
		return m.violation(halcore.BusRxData)
	}
	return nil
}

func (m *Machine) onStop() error {
	if m.st != Stop {
		return m.violation(halcore.BusStop)
	}
	if m.txn.Dir == Read {
		m.last = m.acc
	}
	m.busy = false
	m.st = Idle
	if err := m.arb.Unblock(m.block); err != nil {
		return err
	}
	m.sch.Raise(m.txn.Done)
	return nil
}

func (m *Machine) violation(ev halcore.BusEvent) error {
	return errcode.New(errcode.ProtocolViolation, "i2cm."+ev.String(), m.st.String())
}

// Busy reports whether a transaction is in flight.
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

// Value is the big-endian result of the last completed read.
func (m *Machine) Value() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

// NackRetries counts read restarts reissued after a not-acknowledge.
func (m *Machine) NackRetries() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}
