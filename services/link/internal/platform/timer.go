// services/link/internal/platform/timer.go
package platform

import (
	"sync"
	"time"

	"sensorlink/services/link/internal/halcore"
)

// TickerTimer is a periodic wake source driven by time.Ticker.
type TickerTimer struct {
	mu   sync.Mutex
	stop chan struct{}
}

// Start runs fn every period until Stop. A running timer is restarted.
func (t *TickerTimer) Start(period time.Duration, fn func()) {
	t.Stop()
	if period <= 0 {
		return
	}
	stop := make(chan struct{})
	t.mu.Lock()
	t.stop = stop
	t.mu.Unlock()

	tk := time.NewTicker(period)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-tk.C:
				fn()
			case <-stop:
				return
			}
		}
	}()
}

func (t *TickerTimer) Stop() {
	t.mu.Lock()
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.mu.Unlock()
}

var _ halcore.WakeTimer = (*TickerTimer)(nil)
