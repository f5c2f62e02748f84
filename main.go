//go:build rp2040

package main

import (
	"context"
	"time"

	"sensorlink/bus"
	"sensorlink/services/config"
	"sensorlink/services/heartbeat"
	"sensorlink/services/link"
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("[main] boot")

	cfg := config.Default()
	b := bus.NewBus(4)
	cfg.Publish(b.NewConnection("config"))

	svc, err := link.New(cfg, link.PicoBoard(link.BoardConfig{}), b.NewConnection("link"))
	if err != nil {
		println("[main] link:", err.Error())
		return
	}
	ctx := context.Background()
	hb := &heartbeat.Service{Interval: 30 * time.Second}
	hb.Start(ctx, b.NewConnection("heartbeat"), svc)

	err = svc.Run(ctx)
	println("[main] link stopped:", errString(err))
	// Halted; the heartbeat keeps reporting the counters.
	select {}
}

func errString(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}
