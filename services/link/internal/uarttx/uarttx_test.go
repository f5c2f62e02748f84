package uarttx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorlink/errcode"
	"sensorlink/services/link/internal/halcore"
	"sensorlink/services/link/internal/power"
	"sensorlink/services/link/internal/sched"
)

const evTx sched.Event = 1 << 4

type fakeLine struct {
	busy      bool
	out       []byte
	txbl, txc bool
	triggers  int
}

func (l *fakeLine) TxIdle() bool             { return !l.busy }
func (l *fakeLine) WriteTx(b byte)           { l.out = append(l.out, b) }
func (l *fakeLine) EnableTxEmpty(on bool)    { l.txbl = on }
func (l *fakeLine) EnableTxComplete(on bool) { l.txc = on }
func (l *fakeLine) TriggerTxComplete()       { l.triggers++ }

func newMachine(l *fakeLine) (*Machine, *power.Arbiter, *sched.Scheduler) {
	arb := power.New(power.EM3)
	s := sched.New()
	return New(l, arb, s, power.EM3), arb, s
}

// drive plays the hardware: buffer-empty while enabled, then tx-complete.
func drive(t *testing.T, m *Machine, l *fakeLine) {
	t.Helper()
	for i := 0; i < 2*MaxFrame+4 && m.Busy(); i++ {
		switch {
		case l.txbl:
			require.NoError(t, m.Handle(halcore.TxEmpty))
		case l.txc:
			require.NoError(t, m.Handle(halcore.TxComplete))
		default:
			t.Fatal("no event enabled while busy")
		}
	}
	require.False(t, m.Busy())
}

func TestFrameSent(t *testing.T) {
	l := &fakeLine{}
	m, arb, s := newMachine(l)
	require.NoError(t, m.Start([]byte("Temp = 72.3 F\n"), evTx))
	assert.True(t, l.txbl)
	assert.Equal(t, power.EM2, arb.Permitted())

	drive(t, m, l)
	assert.Equal(t, "Temp = 72.3 F\n", string(l.out))
	assert.Equal(t, 1, l.triggers)
	assert.False(t, l.txbl)
	assert.False(t, l.txc)
	assert.Equal(t, Idle, m.State())
	assert.True(t, s.Has(evTx))
	assert.Equal(t, [power.NumModes]int{}, arb.Counts())
	assert.Equal(t, uint32(1), m.Frames())
}

func TestStateWalk(t *testing.T) {
	l := &fakeLine{}
	m, _, _ := newMachine(l)
	require.NoError(t, m.Start([]byte("ab"), evTx))
	require.NoError(t, m.Handle(halcore.TxEmpty))
	assert.Equal(t, Sending, m.State())
	require.NoError(t, m.Handle(halcore.TxEmpty))
	assert.Equal(t, FinalArmed, m.State())
	assert.True(t, l.txc)
	require.NoError(t, m.Handle(halcore.TxComplete))
	assert.Equal(t, Complete, m.State())
	require.NoError(t, m.Handle(halcore.TxComplete))
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, "ab", string(l.out))
}

func TestSingleByteFrame(t *testing.T) {
	l := &fakeLine{}
	m, _, s := newMachine(l)
	require.NoError(t, m.Start([]byte{'x'}, evTx))
	require.NoError(t, m.Handle(halcore.TxEmpty))
	assert.Equal(t, FinalArmed, m.State())
	drive(t, m, l)
	assert.Equal(t, "x", string(l.out))
	assert.True(t, s.Has(evTx))
}

func TestStartCopiesCaller(t *testing.T) {
	l := &fakeLine{}
	m, _, _ := newMachine(l)
	p := []byte("hey")
	require.NoError(t, m.Start(p, evTx))
	p[0] = 'X'
	drive(t, m, l)
	assert.Equal(t, "hey", string(l.out))
}

func TestStartRejects(t *testing.T) {
	l := &fakeLine{}
	m, arb, _ := newMachine(l)
	assert.Equal(t, errcode.InvalidParams, errcode.Of(m.Start(nil, evTx)))
	assert.Equal(t, errcode.InvalidParams, errcode.Of(m.Start(make([]byte, MaxFrame+1), evTx)))

	require.NoError(t, m.Start([]byte("a"), evTx))
	assert.Equal(t, errcode.Busy, errcode.Of(m.Start([]byte("b"), evTx)))

	l2 := &fakeLine{busy: true}
	m2, arb2, _ := newMachine(l2)
	assert.Equal(t, errcode.Busy, errcode.Of(m2.Start([]byte("b"), evTx)))
	assert.Equal(t, [power.NumModes]int{}, arb2.Counts())
	assert.Equal(t, 1, arb.Counts()[power.EM3])
}

func TestIllegalEvents(t *testing.T) {
	l := &fakeLine{}
	m, _, _ := newMachine(l)
	assert.Equal(t, errcode.ProtocolViolation, errcode.Of(m.Handle(halcore.TxEmpty)), "idle and not started")
	assert.Equal(t, errcode.ProtocolViolation, errcode.Of(m.Handle(halcore.TxComplete)))

	require.NoError(t, m.Start([]byte("ab"), evTx))
	require.NoError(t, m.Handle(halcore.TxEmpty))
	assert.Equal(t, errcode.ProtocolViolation, errcode.Of(m.Handle(halcore.TxComplete)), "complete while sending")

	require.NoError(t, m.Handle(halcore.TxEmpty))
	assert.Equal(t, errcode.ProtocolViolation, errcode.Of(m.Handle(halcore.TxEmpty)), "empty after final byte")
}
