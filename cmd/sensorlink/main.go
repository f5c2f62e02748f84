// Command sensorlink runs the control loop on a host against a simulated
// Si7021. Radio traffic goes to stdout, or to a serial port when one is
// configured.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sensorlink/bus"
	"sensorlink/services/config"
	"sensorlink/services/heartbeat"
	"sensorlink/services/link"
)

func main() {
	cfgPath := flag.String("config", "", "YAML configuration file")
	profile := flag.String("profile", "", "built-in profile (pico, bench)")
	port := flag.String("port", "", "serial port for the radio bridge (overrides config)")
	beat := flag.Duration("heartbeat", 0, "heartbeat interval (0 disables)")
	dump := flag.Bool("dump", false, "print the effective configuration and exit")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath, *profile)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *dump {
		if err := cfg.Encode(os.Stdout); err != nil {
			log.Fatalf("config: %v", err)
		}
		return
	}

	var out io.Writer = os.Stdout
	var in io.Reader
	if cfg.Serial.Port != "" {
		p, err := link.OpenSerial(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			log.Fatalf("serial %s: %v", cfg.Serial.Port, err)
		}
		defer p.Close()
		out, in = p, p
		log.Printf("radio bridge on %s at %d baud", cfg.Serial.Port, cfg.Serial.Baud)
	}

	b := bus.NewBus(16)
	cfg.Publish(b.NewConnection("config"))
	mon := b.NewConnection("monitor")
	go monitor(mon.Subscribe(bus.T("link", "#")))
	go monitor(mon.Subscribe(heartbeat.TopicHeartbeat))

	svc, err := link.New(cfg, link.HostBoard(out, in), b.NewConnection("link"))
	if err != nil {
		log.Fatalf("link: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *beat > 0 {
		hb := &heartbeat.Service{Interval: *beat, Quiet: true}
		hb.Start(ctx, b.NewConnection("heartbeat"), svc)
	}
	if err := svc.Run(ctx); err != nil {
		log.Fatalf("link halted: %v", err)
	}
	st := svc.Stats()
	log.Printf("stopped: frames=%d pushed=%d popped=%d overruns=%d nack-retries=%d",
		st.Frames, st.Pushed, st.Popped, st.Overruns, st.NackRetries)
}

func loadConfig(path, profile string) (*config.Config, error) {
	switch {
	case path != "":
		return config.Load(path)
	case profile != "":
		return config.Embedded(profile)
	}
	return config.Default(), nil
}

func monitor(sub *bus.Subscription) {
	for m := range sub.Channel() {
		switch v := m.Payload.(type) {
		case link.Reading:
			log.Printf("%s raw=0x%04X deci=%d", m.Topic, v.Raw, v.Deci)
		case heartbeat.Beat:
			log.Printf("%s #%d up %s frames=%d overruns=%d", m.Topic, v.Seq, v.Uptime.Round(time.Second), v.Stats.Frames, v.Stats.Overruns)
		case link.PowerState:
			log.Printf("%s permitted=%s blocks=%v", m.Topic, v.Permitted, v.Blocks)
		default:
			log.Printf("%s %s", m.Topic, fmt.Sprint(v))
		}
	}
}
