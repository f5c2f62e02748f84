// services/link/internal/platform/sleeper.go
package platform

import (
	"context"
	"sync"
	"time"

	"sensorlink/services/link/internal/power"
)

// Sleeper parks the main loop until the next wake and keeps per-mode
// residency. Neither target exposes the energy modes directly, so every
// depth parks the same way; the accounting is what differs.
type Sleeper struct {
	mu      sync.Mutex
	entries [power.NumModes]uint32
	resid   [power.NumModes]time.Duration
}

func (s *Sleeper) Sleep(ctx context.Context, m power.Mode, wake <-chan struct{}) {
	t0 := time.Now()
	select {
	case <-ctx.Done():
	case <-wake:
	}
	if !m.Valid() {
		return
	}
	s.mu.Lock()
	s.entries[m]++
	s.resid[m] += time.Since(t0)
	s.mu.Unlock()
}

// Entries returns how often each mode was entered.
func (s *Sleeper) Entries() [power.NumModes]uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries
}

// Residency returns the time spent in each mode.
func (s *Sleeper) Residency() [power.NumModes]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resid
}

var _ power.Sleeper = (*Sleeper)(nil)
