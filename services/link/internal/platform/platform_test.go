//go:build !rp2040

package platform

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorlink/drivers/si7021"
	"sensorlink/errcode"
	"sensorlink/services/link/internal/halcore"
	"sensorlink/services/link/internal/i2cm"
	"sensorlink/services/link/internal/irq"
	"sensorlink/services/link/internal/power"
	"sensorlink/services/link/internal/sched"
	"sensorlink/services/link/internal/uarttx"
)

const evDone sched.Event = 1

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

type rig struct {
	ctrl *irq.Controller
	arb  *power.Arbiter
	sch  *sched.Scheduler
	errs chan error
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		ctrl: irq.New(16),
		arb:  power.New(power.EM3),
		sch:  sched.New(),
		errs: make(chan error, 4),
	}
	r.ctrl.OnFault(func(err error) { r.errs <- err })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.ctrl.Run(ctx)
	return r
}

func (r *rig) wait(t *testing.T, ev sched.Event) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !r.sch.Has(ev) {
		select {
		case <-r.sch.Wake():
		case err := <-r.errs:
			t.Fatalf("fault: %v", err)
		case <-deadline:
			t.Fatal("timeout")
		}
	}
	r.sch.Clear(ev)
}

func TestBusEngineReadThroughNacks(t *testing.T) {
	r := newRig(t)
	dev := NewHostI2C()
	dev.BusyReads = 3
	dev.SetTemperature(26.7)

	eng := NewBusEngine(dev, r.ctrl)
	defer eng.Close()
	m := i2cm.New(eng, r.arb, r.sch, power.EM2)
	eng.Bind(m.Handle)

	require.True(t, eng.Idle())
	require.NoError(t, m.Start(i2cm.Txn{Address: si7021.Address, Command: si7021.CmdMeasureTemp, Dir: i2cm.Read, Count: 2, Done: evDone}))
	r.wait(t, evDone)

	assert.InDelta(t, 26.7, si7021.Celsius(m.Value()), 0.01)
	assert.Equal(t, uint32(3), m.NackRetries())
	_, nacks := dev.Stats()
	assert.Equal(t, uint32(3), nacks)
	assert.True(t, eng.Idle())
	assert.Equal(t, [power.NumModes]int{}, r.arb.Counts())
}

func TestBusEngineWriteThenReadUserReg(t *testing.T) {
	r := newRig(t)
	dev := NewHostI2C()
	eng := NewBusEngine(dev, r.ctrl)
	defer eng.Close()
	m := i2cm.New(eng, r.arb, r.sch, power.EM2)
	eng.Bind(m.Handle)

	want := si7021.ApplyResolution(si7021.UserReg1Reset, si7021.Res10RH13T)
	require.NoError(t, m.Start(i2cm.Txn{Address: si7021.Address, Command: si7021.CmdWriteUserReg1, Dir: i2cm.Write, Count: 1, Value: uint16(want), Done: evDone}))
	r.wait(t, evDone)
	assert.Equal(t, want, dev.UserReg())

	require.NoError(t, m.Start(i2cm.Txn{Address: si7021.Address, Command: si7021.CmdReadUserReg1, Dir: i2cm.Read, Count: 1, Done: evDone}))
	r.wait(t, evDone)
	assert.Equal(t, uint16(want), m.Value())
}

func TestBusEngineWriteNackIsFatal(t *testing.T) {
	r := newRig(t)
	dev := NewHostI2C()
	dev.Addr = 0x41
	eng := NewBusEngine(dev, r.ctrl)
	defer eng.Close()
	m := i2cm.New(eng, r.arb, r.sch, power.EM2)
	eng.Bind(m.Handle)

	require.NoError(t, m.Start(i2cm.Txn{Address: si7021.Address, Command: si7021.CmdWriteUserReg1, Dir: i2cm.Write, Count: 1, Value: 0x3A}))
	select {
	case err := <-r.errs:
		assert.Equal(t, errcode.ProtocolViolation, errcode.Of(err))
	case <-time.After(2 * time.Second):
		t.Fatal("expected fault")
	}
}

func TestSerialLineSendsFrames(t *testing.T) {
	r := newRig(t)
	out := &syncBuf{}
	line := NewSerialLine(NewStreamPort(out, nil), r.ctrl)
	defer line.Close()
	tx := uarttx.New(line, r.arb, r.sch, power.EM3)
	line.Bind(tx.Handle)

	for _, f := range []string{"Temp = 72.3 F\n", "x", "RH = 41.2 % \n"} {
		require.True(t, line.TxIdle())
		require.NoError(t, tx.Start([]byte(f), evDone))
		r.wait(t, evDone)
	}
	assert.Equal(t, "Temp = 72.3 F\nxRH = 41.2 % \n", out.String())
	assert.Equal(t, uint32(3), tx.Frames())
	assert.Equal(t, [power.NumModes]int{}, r.arb.Counts())
	written, errs, drops := line.Stats()
	assert.Equal(t, uint32(28), written)
	assert.Zero(t, errs)
	assert.Zero(t, drops)
}

func TestPollerRoundTrip(t *testing.T) {
	pr, pw := io.Pipe()
	out := &syncBuf{}
	line := NewSerialLine(NewStreamPort(out, pr), irq.New(1))
	defer line.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, line.TransmitByte(ctx, 'A'))
	assert.Equal(t, "A", out.String())

	go func() { _, _ = pw.Write([]byte("OK")) }()
	b, err := line.ReceiveByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte('O'), b)
	b, err = line.ReceiveByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte('K'), b)

	short, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	_, err = line.ReceiveByte(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSleeperAccounting(t *testing.T) {
	s := &Sleeper{}
	wake := make(chan struct{}, 1)
	wake <- struct{}{}
	s.Sleep(context.Background(), power.EM2, wake)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Sleep(ctx, power.EM3, nil)
	e := s.Entries()
	assert.Equal(t, uint32(1), e[power.EM2])
	assert.Equal(t, uint32(1), e[power.EM3])
}

func TestTickerTimer(t *testing.T) {
	var tm TickerTimer
	ticks := make(chan struct{}, 8)
	tm.Start(time.Millisecond, func() {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	defer tm.Stop()
	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("no tick")
	}
}

func TestHostPin(t *testing.T) {
	var p HostPin
	p.Set(true)
	p.Set(true)
	p.Set(false)
	assert.False(t, p.Get())
	assert.Equal(t, 2, p.Changes())
}

var _ halcore.Pin = (*HostPin)(nil)
