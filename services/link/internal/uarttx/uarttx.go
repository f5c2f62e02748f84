// Package uarttx sends one frame at a time over a serial line, a byte per
// transmit-buffer-empty event, and reports completion once the shift
// register has drained.
package uarttx

import (
	"sync"

	"sensorlink/errcode"
	"sensorlink/services/link/internal/halcore"
	"sensorlink/services/link/internal/power"
	"sensorlink/services/link/internal/sched"
)

// MaxFrame bounds the bytes copied per transmission.
const MaxFrame = 80

type State uint8

const (
	Idle State = iota
	Sending
	FinalArmed
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case FinalArmed:
		return "final_armed"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Machine is the single serial transmit context.
type Machine struct {
	mu    sync.Mutex
	line  halcore.Line
	arb   *power.Arbiter
	sch   *sched.Scheduler
	block power.Mode

	st   State
	busy bool
	buf  [MaxFrame]byte
	n    int
	cur  int
	done sched.Event

	frames uint32
}

func New(line halcore.Line, arb *power.Arbiter, s *sched.Scheduler, block power.Mode) *Machine {
	return &Machine{line: line, arb: arb, sch: s, block: block}
}

// Start copies p and arms the transmit-buffer-empty event.
func (m *Machine) Start(p []byte, done sched.Event) error {
	const op = "uarttx.start"
	if len(p) == 0 || len(p) > MaxFrame {
		return errcode.New(errcode.InvalidParams, op, "length")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy || m.st != Idle || !m.line.TxIdle() {
		return errcode.New(errcode.Busy, op, m.st.String())
	}
	if err := m.arb.Block(m.block); err != nil {
		return err
	}
	m.n = copy(m.buf[:], p)
	m.cur = 0
	m.done = done
	m.busy = true
	m.line.EnableTxEmpty(true)
	return nil
}

// Handle advances the machine by one hardware event.
func (m *Machine) Handle(ev halcore.LineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev {
	case halcore.TxEmpty:
		return m.onTxEmpty()
	case halcore.TxComplete:
		return m.onTxComplete()
	}
	return m.violation(ev)
}

func (m *Machine) onTxEmpty() error {
	switch {
	case m.st == Idle && m.busy:
		if m.n == 1 {
			m.armFinal()
			return nil
		}
		m.line.WriteTx(m.buf[0])
		m.cur = 1
		m.st = Sending
	case m.st == Sending:
		if m.cur == m.n-1 {
			m.armFinal()
			return nil
		}
		m.line.WriteTx(m.buf[m.cur])
		m.cur++
	default:
		return m.violation(halcore.TxEmpty)
	}
	return nil
}

// armFinal writes the last byte and swaps buffer-empty for tx-complete.
func (m *Machine) armFinal() {
	m.line.WriteTx(m.buf[m.n-1])
	m.cur = m.n
	m.line.EnableTxEmpty(false)
	m.line.EnableTxComplete(true)
	m.st = FinalArmed
}

func (m *Machine) onTxComplete() error {
	switch m.st {
	case FinalArmed:
		m.line.TriggerTxComplete()
		m.st = Complete
	case Complete:
		m.line.EnableTxComplete(false)
		m.busy = false
		m.st = Idle
		m.frames++
		if err := m.arb.Unblock(m.block); err != nil {
			return err
		}
		m.sch.Raise(m.done)
	default:
		return m.violation(halcore.TxComplete)
	}
	return nil
}

func (m *Machine) violation(ev halcore.LineEvent) error {
	return errcode.New(errcode.ProtocolViolation, "uarttx."+ev.String(), m.st.String())
}

func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

// Frames counts completed transmissions.
func (m *Machine) Frames() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}
