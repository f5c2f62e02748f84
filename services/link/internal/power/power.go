// Package power arbitrates the sleep depth. Components block the shallowest
// mode they cannot tolerate for as long as they need to run; the arbiter
// always honours the most restrictive active request.
package power

import (
	"context"
	"sync"

	"sensorlink/errcode"
)

// Mode is a sleep depth, shallow to deep.
type Mode uint8

const (
	EM0 Mode = iota // running
	EM1             // sleep, all peripherals clocked
	EM2             // deep sleep, low-frequency peripherals only
	EM3             // stop, asynchronous peripherals only
	EM4             // shutoff

	NumModes = 5
)

// MaxBlocks bounds concurrent blockers per mode; reaching it means a
// component blocked without a matching unblock.
const MaxBlocks = 5

func (m Mode) String() string {
	switch m {
	case EM0:
		return "em0"
	case EM1:
		return "em1"
	case EM2:
		return "em2"
	case EM3:
		return "em3"
	case EM4:
		return "em4"
	default:
		return "em?"
	}
}

// Valid reports whether m names a mode.
func (m Mode) Valid() bool { return m < NumModes }

// Sleeper enters a hardware sleep mode and returns once wake fires or ctx
// is done. wake stands in for the interrupt line.
type Sleeper interface {
	Sleep(ctx context.Context, m Mode, wake <-chan struct{})
}

// Arbiter is the block table.
type Arbiter struct {
	mu      sync.Mutex
	blocks  [NumModes]int
	deepest Mode
}

// New returns an arbiter whose unconstrained depth is deepest.
func New(deepest Mode) *Arbiter {
	if !deepest.Valid() || deepest == EM0 {
		deepest = EM3
	}
	return &Arbiter{deepest: deepest}
}

// Reset zeroes every counter.
func (a *Arbiter) Reset() {
	a.mu.Lock()
	a.blocks = [NumModes]int{}
	a.mu.Unlock()
}

// Block forbids sleeping at depth m or deeper.
func (a *Arbiter) Block(m Mode) error {
	if !m.Valid() {
		return errcode.New(errcode.InvalidParams, "power.block", m.String())
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.blocks[m]+1 >= MaxBlocks {
		return errcode.New(errcode.Unbalanced, "power.block", m.String())
	}
	a.blocks[m]++
	return nil
}

// Unblock releases one Block(m).
func (a *Arbiter) Unblock(m Mode) error {
	if !m.Valid() {
		return errcode.New(errcode.InvalidParams, "power.unblock", m.String())
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.blocks[m] == 0 {
		return errcode.New(errcode.Unbalanced, "power.unblock", m.String())
	}
	a.blocks[m]--
	return nil
}

// Floor returns the shallowest blocked mode; ok is false when nothing is
// blocked.
func (a *Arbiter) Floor() (m Mode, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.floorLocked()
}

func (a *Arbiter) floorLocked() (Mode, bool) {
	for i, n := range a.blocks {
		if n != 0 {
			return Mode(i), true
		}
	}
	return 0, false
}

// Permitted returns the deepest mode the system may enter now.
func (a *Arbiter) Permitted() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.permittedLocked()
}

func (a *Arbiter) permittedLocked() Mode {
	floor, ok := a.floorLocked()
	switch {
	case !ok:
		return a.deepest
	case floor <= EM1:
		return EM0
	default:
		m := floor - 1
		if m > a.deepest {
			m = a.deepest
		}
		return m
	}
}

// EnterSleep sleeps at the permitted depth and returns the mode used.
func (a *Arbiter) EnterSleep(ctx context.Context, s Sleeper, wake <-chan struct{}) Mode {
	m := a.Permitted()
	s.Sleep(ctx, m, wake)
	return m
}

// Counts returns a snapshot of the block table.
func (a *Arbiter) Counts() [NumModes]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blocks
}
