// Package heartbeat periodically reports the link counters on the console
// and the bus, so a stalled or halted loop is visible from outside.
package heartbeat

import (
	"context"
	"time"

	"sensorlink/bus"
	"sensorlink/services/link"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	TopicHeartbeat       = bus.T("heartbeat")
)

// Beat is published, retained, on every tick.
type Beat struct {
	Seq    uint32
	Uptime time.Duration
	Stats  link.Stats
}

// Source supplies the counters to report.
type Source interface {
	Stats() link.Stats
}

type Service struct {
	Interval time.Duration // default 10 s
	Quiet    bool          // publish only
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection, src Source) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	t0 := time.Now()
	var seq uint32

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			seq++
			b := Beat{Seq: seq, Uptime: time.Since(t0), Stats: src.Stats()}
			conn.Publish(conn.NewMessage(TopicHeartbeat, b, true))
			if !s.Quiet {
				println("[heartbeat]", seq, "frames", b.Stats.Frames, "overruns", b.Stats.Overruns,
					"nack", b.Stats.NackRetries, "irq drops", b.Stats.IRQDrops)
			}
		case msg := <-cfgSub.Channel():
			// Change tick interval if needed
			if d, ok := msg.Payload.(time.Duration); ok && d > 0 {
				tick.Reset(d)
				println("[heartbeat] interval", d.String())
			}
		}
	}
}

// Start runs the heartbeat until ctx ends.
func (s *Service) Start(ctx context.Context, conn *bus.Connection, src Source) {
	go s.serviceLoop(ctx, conn, src)
}
