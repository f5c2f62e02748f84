//go:build rp2040

// cmd/boardtest/main.go
package main

import (
	"context"
	"time"

	"sensorlink/drivers/hm10"
	"sensorlink/drivers/si7021"
	"sensorlink/services/config"
	"sensorlink/services/link"
	"sensorlink/x/conv"
)

// ---------- Configuration ----------

const (
	radioName    = "sensorlink"
	measureLoops = 5
	loopDelay    = time.Second
)

func main() {
	time.Sleep(2 * time.Second)
	println("[boardtest] start")

	board := link.PicoBoard(link.BoardConfig{})
	cfg := config.Default()
	cfg.Link.Greeting = false

	// ---------- Sensor (blocking driver) ----------
	dev := si7021.New(board.I2C)
	if err := dev.Reset(); err != nil {
		fail("si7021 reset", err)
		return
	}
	res, _ := config.ParseResolution(cfg.Sensor.Resolution)
	if err := dev.SetResolution(res); err != nil {
		fail("si7021 resolution", err)
		return
	}
	reg, err := dev.ReadUserReg()
	if err != nil {
		fail("si7021 user register", err)
		return
	}
	var hex [8]byte
	println("[boardtest] si7021 resolution", res.String(), "user reg", string(conv.AppendHex8(hex[:0], reg)))

	var line [32]byte
	for i := 0; i < measureLoops; i++ {
		rt, err := dev.MeasureTemperatureRaw()
		if err != nil {
			fail("si7021 temperature", err)
			return
		}
		rh, err := dev.MeasureHumidityRaw()
		if err != nil {
			fail("si7021 humidity", err)
			return
		}
		b := append(line[:0], "T "...)
		b = conv.AppendDeci(b, si7021.DeciCelsius(rt))
		b = append(b, " C  RH "...)
		b = conv.AppendDeci(b, si7021.DeciRH(rh))
		println("[boardtest]", string(b))
		time.Sleep(loopDelay)
	}

	// ---------- Radio (polled, before the service owns the line) ----------
	svc, err := link.New(cfg, board, nil)
	if err != nil {
		fail("link", err)
		return
	}
	radio := hm10.New(svc.Poller())
	if err := radio.SelfTest(context.Background(), radioName); err != nil {
		fail("hm10", err)
		return
	}
	println("[boardtest] hm10 ok, name", radioName)

	// ---------- Interrupt-driven run ----------
	println("[boardtest] running link")
	err = svc.Run(context.Background())
	if err != nil {
		fail("link run", err)
	}
}

func fail(what string, err error) {
	println("[boardtest] FAIL", what+":", err.Error())
}
