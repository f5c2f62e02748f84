package link

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"sensorlink/bus"
	"sensorlink/drivers/si7021"
	"sensorlink/errcode"
	"sensorlink/services/config"
	"sensorlink/services/link/internal/platform"
	"sensorlink/services/link/internal/power"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuf collects what the radio bridge would have sent.
type syncBuf struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuf) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuf) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Wake.Period = 100 * time.Millisecond
	return cfg
}

type rig struct {
	svc    *Service
	out    *syncBuf
	sensor *platform.HostI2C
	led    *platform.HostPin
	bus    *bus.Bus
	cancel context.CancelFunc
	done   chan error
}

func newRig(t *testing.T, cfg *config.Config, prep func(*platform.HostI2C)) *rig {
	t.Helper()
	out := &syncBuf{}
	board := platform.DefaultBoard(platform.BoardConfig{}, out, nil)
	sensor := board.I2C.(*platform.HostI2C)
	if prep != nil {
		prep(sensor)
	}
	b := bus.NewBus(8)
	svc, err := New(cfg, board, b.NewConnection("link"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := &rig{
		svc:    svc,
		out:    out,
		sensor: sensor,
		led:    board.LED.(*platform.HostPin),
		bus:    b,
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { r.done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	})
	return r
}

func (r *rig) waitFor(t *testing.T, s string) {
	t.Helper()
	require.Eventually(t, func() bool { return strings.Contains(r.out.String(), s) },
		3*time.Second, 10*time.Millisecond, "waiting for %q in %q", s, r.out.String())
}

func (r *rig) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestBootAndMeasure(t *testing.T) {
	r := newRig(t, testConfig(), nil)

	r.waitFor(t, "RH = 45.0 % \n")
	got := r.out.String()
	assert.True(t, strings.HasPrefix(got, "\nHello World\nsensorlink\n"), "got %q", got)
	assert.Contains(t, got, "Temp = 70.7 F\n")
	assert.Less(t, strings.Index(got, "Temp ="), strings.Index(got, "RH ="))

	// Boot wrote the configured resolution and kept the reserved bits.
	assert.Equal(t, si7021.ApplyResolution(si7021.UserReg1Reset, si7021.Res10RH13T), r.sensor.UserReg())

	f, ok := r.svc.CurrentTemperatureF()
	require.True(t, ok)
	assert.InDelta(t, 70.7, f, 0.05)
	c, _ := r.svc.CurrentTemperatureC()
	assert.InDelta(t, 21.5, c, 0.05)
	rh, ok := r.svc.RelativeHumidity()
	require.True(t, ok)
	assert.InDelta(t, 45, rh, 0.05)

	assert.False(t, r.led.Get())

	msg, ok := r.bus.Retained(TopicTemperature)
	require.True(t, ok)
	assert.Equal(t, int32(707), msg.Payload.(Reading).Deci)
	msg, ok = r.bus.Retained(TopicPower)
	require.True(t, ok)
	ps := msg.Payload.(PowerState)
	// The bus block is released before the cycle completes.
	assert.Zero(t, ps.Blocks[power.EM2])
	assert.GreaterOrEqual(t, ps.Blocks[power.EM3], 1)

	require.NoError(t, r.stop(t))
	st := r.svc.Stats()
	assert.NotZero(t, st.NackRetries, "no-hold reads poll through NACKs")
	assert.GreaterOrEqual(t, st.Frames, uint32(3))
	assert.Equal(t, st.Pushed, st.Popped)
}

func TestRepeatsOnEveryWake(t *testing.T) {
	r := newRig(t, testConfig(), nil)
	r.waitFor(t, "RH = 45.0 % \n")
	r.sensor.SetTemperature(30)
	r.sensor.SetHumidity(60)
	r.waitFor(t, "Temp = 86.0 F\n")
	r.waitFor(t, "RH = 60.0 % \n")
	assert.True(t, r.led.Get(), "alert LED at or above the threshold")
}

func TestOverflowHalts(t *testing.T) {
	cfg := testConfig()
	cfg.Link.RingSize = 16
	cfg.Link.Name = strings.Repeat("n", 40)
	r := newRig(t, cfg, nil)

	select {
	case err := <-r.done:
		require.Error(t, err)
		assert.Equal(t, errcode.Overflow, errcode.Of(err))
		assert.Equal(t, err, r.svc.Err())
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not halt")
	}
	msg, ok := r.bus.Retained(TopicState)
	require.True(t, ok)
	assert.Equal(t, "halted", msg.Payload)
}

func TestEnqueueRejects(t *testing.T) {
	cfg := testConfig()
	cfg.Link.Greeting = false
	out := &syncBuf{}
	svc, err := New(cfg, platform.DefaultBoard(platform.BoardConfig{}, out, nil), nil)
	require.NoError(t, err)
	defer svc.close()

	assert.Equal(t, errcode.InvalidParams, errcode.Of(svc.EnqueueOutbound("")))
	assert.Equal(t, errcode.InvalidParams, errcode.Of(svc.EnqueueOutbound(strings.Repeat("x", 81))))
	assert.Equal(t, cfg.Link.RingSize, svc.OutboundSpace())
}

func TestNewRejects(t *testing.T) {
	board := platform.DefaultBoard(platform.BoardConfig{}, &syncBuf{}, nil)

	cfg := config.Default()
	cfg.Link.RingSize = 100
	_, err := New(cfg, board, nil)
	assert.Equal(t, errcode.InvalidParams, errcode.Of(err))
	assert.ErrorIs(t, err, config.ErrRingSize)

	board.Sleeper = nil
	_, err = New(config.Default(), board, nil)
	assert.Equal(t, errcode.InvalidParams, errcode.Of(err))
}

func TestLines(t *testing.T) {
	assert.Equal(t, "Temp = 72.3 F\n", string(temperatureLine(nil, 723)))
	assert.Equal(t, "Temp = -4.0 F\n", string(temperatureLine(nil, -40)))
	assert.Equal(t, "RH = 41.2 % \n", string(humidityLine(nil, 412)))
}

func newIdle(t *testing.T) *Service {
	t.Helper()
	cfg := testConfig()
	cfg.Link.Greeting = false
	svc, err := New(cfg, platform.DefaultBoard(platform.BoardConfig{}, &syncBuf{}, nil), nil)
	require.NoError(t, err)
	t.Cleanup(svc.close)
	return svc
}

func TestWakeTickStartsCycle(t *testing.T) {
	svc := newIdle(t)
	svc.sch.Raise(EvWakeTick)
	require.NoError(t, svc.dispatch(svc.sch.Pending()))
	assert.True(t, svc.cycle)
	assert.True(t, svc.i2c.Busy(), "temperature read on the bus")
	assert.Zero(t, svc.Stats().Overruns)
}

func TestWakeTickWithTemperaturePendingIsSkipped(t *testing.T) {
	svc := newIdle(t)
	// The temperature read has stopped and the bus is idle, but its
	// completion has not been handled when the next tick arrives.
	svc.cycle = true
	svc.sch.Raise(EvWakeTick | EvTempDone)
	require.False(t, svc.i2c.Busy())

	require.NoError(t, svc.dispatch(svc.sch.Pending()))
	assert.Equal(t, uint32(1), svc.Stats().Overruns)
	assert.True(t, svc.i2c.Busy(), "humidity read follows the temperature")
	assert.Zero(t, svc.sch.Pending()&(EvWakeTick|EvTempDone))
	assert.True(t, svc.cycle)
}

func TestOverrunKeepsRunning(t *testing.T) {
	cfg := testConfig()
	cfg.Link.Greeting = false
	// The sensor never finishes converting, so every later tick overlaps.
	r := newRig(t, cfg, func(h *platform.HostI2C) { h.BusyReads = 1 << 30 })

	require.Eventually(t, func() bool { return r.svc.Stats().Overruns > 1 },
		3*time.Second, 10*time.Millisecond)
	select {
	case err := <-r.done:
		t.Fatalf("Run returned: %v", err)
	default:
	}
	assert.NotZero(t, r.svc.Stats().NackRetries)
	require.NoError(t, r.stop(t))
}

func TestRunOnce(t *testing.T) {
	svc := newIdle(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, svc.Run(ctx))
	err := svc.Run(ctx)
	assert.Equal(t, errcode.Busy, errcode.Of(err))
	assert.NotPanics(t, svc.close)
}
