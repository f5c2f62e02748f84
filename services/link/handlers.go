package link

import (
	"time"

	"sensorlink/drivers/si7021"
)

// onBoot greets over the radio and starts configuring the sensor.
func (s *Service) onBoot() error {
	s.sch.Clear(EvBoot)
	if s.cfg.Link.Greeting {
		if err := s.EnqueueOutbound("\nHello World\n"); err != nil {
			return err
		}
		if err := s.EnqueueOutbound(s.cfg.Link.Name + "\n"); err != nil {
			return err
		}
	}
	return s.StartBusRead(si7021.CmdReadUserReg1, 1, EvUserRegRead)
}

// onUserRegRead rewrites the resolution bits, keeping the reserved ones.
func (s *Service) onUserRegRead() error {
	s.sch.Clear(EvUserRegRead)
	reg := byte(s.i2c.Value())
	return s.StartBusWrite(si7021.CmdWriteUserReg1, si7021.ApplyResolution(reg, s.res), EvUserRegWritten)
}

func (s *Service) onUserRegWritten() error {
	s.sch.Clear(EvUserRegWritten)
	s.board.Timer.Start(s.cfg.Wake.Period, s.wakeISR)
	println("[link] sensor at", s.res.String(), "wake every", s.cfg.Wake.Period.String())
	s.publish(TopicState, "running")
	return nil
}

// wakeISR runs from the timer; it only hands the tick to the main loop.
func (s *Service) wakeISR() {
	s.ctrl.Post(func() error {
		s.sch.Raise(EvWakeTick)
		return nil
	})
}

func (s *Service) onWakeTick() error {
	s.sch.Clear(EvWakeTick)
	if s.cycle || s.i2c.Busy() {
		// Previous cycle not finished; skip this tick.
		s.mu.Lock()
		s.overruns++
		s.mu.Unlock()
		return nil
	}
	if err := s.StartBusRead(si7021.CmdMeasureTemp, 2, EvTempDone); err != nil {
		return err
	}
	s.cycle = true
	return nil
}

func (s *Service) onTempDone() error {
	s.sch.Clear(EvTempDone)
	raw := s.i2c.Value()
	s.mu.Lock()
	s.rawTemp, s.haveTemp = raw, true
	s.mu.Unlock()

	deciF := si7021.DeciFahrenheit(raw)
	if s.board.LED != nil {
		s.board.LED.Set(deciF >= int32(s.cfg.Sensor.AlertF*10))
	}
	var buf [32]byte
	if err := s.EnqueueOutbound(string(temperatureLine(buf[:0], deciF))); err != nil {
		return err
	}
	s.publish(TopicTemperature, Reading{Raw: raw, Deci: deciF, At: time.Now()})
	return s.StartBusRead(si7021.CmdMeasureRH, 2, EvHumidityDone)
}

func (s *Service) onHumidityDone() error {
	s.sch.Clear(EvHumidityDone)
	s.cycle = false
	raw := s.i2c.Value()
	s.mu.Lock()
	s.rawRH, s.haveRH = raw, true
	s.mu.Unlock()

	deci := si7021.DeciRH(raw)
	var buf [32]byte
	if err := s.EnqueueOutbound(string(humidityLine(buf[:0], deci))); err != nil {
		return err
	}
	s.publish(TopicHumidity, Reading{Raw: raw, Deci: deci, At: time.Now()})
	s.publish(TopicPower, PowerState{Permitted: s.arb.Permitted(), Blocks: s.arb.Counts()})
	return nil
}

// onTxDone feeds the next queued record to the transmitter.
func (s *Service) onTxDone() error {
	s.sch.Clear(EvTxDone)
	_, err := s.out.Pop()
	return err
}
