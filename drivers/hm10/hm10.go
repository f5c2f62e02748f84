// Package hm10 talks to an HM-10 class BLE serial bridge in command mode.
// It uses the blocking byte interface of the radio line and must not run
// while the interrupt-driven transmitter owns it.
package hm10

import (
	"context"
	"time"

	"sensorlink/errcode"
)

// MaxName is the longest name the module accepts.
const MaxName = 12

// Poller is the busy-wait byte interface of the serial line.
type Poller interface {
	TransmitByte(ctx context.Context, b byte) error
	ReceiveByte(ctx context.Context) (byte, error)
}

type Device struct {
	p       Poller
	Timeout time.Duration // per command
}

func New(p Poller) *Device {
	return &Device{p: p, Timeout: time.Second}
}

// Command sends cmd and reads back exactly len(want) bytes, which must equal
// want. The module answers without a line terminator.
func (d *Device) Command(ctx context.Context, cmd, want string) error {
	const op = "hm10.command"
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()
	for i := 0; i < len(cmd); i++ {
		if err := d.p.TransmitByte(ctx, cmd[i]); err != nil {
			return &errcode.E{C: errcode.Error, Op: op, Msg: cmd, Err: err}
		}
	}
	got := make([]byte, 0, len(want))
	for len(got) < len(want) {
		b, err := d.p.ReceiveByte(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return &errcode.E{C: errcode.Timeout, Op: op, Msg: cmd, Err: err}
			}
			return &errcode.E{C: errcode.Error, Op: op, Msg: cmd, Err: err}
		}
		got = append(got, b)
	}
	if string(got) != want {
		return errcode.New(errcode.ProtocolViolation, op, cmd+": got "+string(got))
	}
	return nil
}

// Ping checks the module is in command mode. A module with a live
// connection answers OK+LOST and drops it; the trailing bytes are drained.
func (d *Device) Ping(ctx context.Context) error {
	if err := d.Command(ctx, "AT", "OK"); err != nil {
		return err
	}
	d.drain(ctx)
	return nil
}

// SetName programs the advertised name. It takes effect after Reset.
func (d *Device) SetName(ctx context.Context, name string) error {
	if name == "" || len(name) > MaxName {
		return errcode.New(errcode.InvalidParams, "hm10.name", "length")
	}
	return d.Command(ctx, "AT+NAME"+name, "OK+Set:"+name)
}

func (d *Device) Reset(ctx context.Context) error {
	return d.Command(ctx, "AT+RESET", "OK+RESET")
}

// SelfTest pings the module, renames it and resets it.
func (d *Device) SelfTest(ctx context.Context, name string) error {
	if err := d.Ping(ctx); err != nil {
		return err
	}
	if err := d.SetName(ctx, name); err != nil {
		return err
	}
	return d.Reset(ctx)
}

func (d *Device) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	for {
		if _, err := d.p.ReceiveByte(ctx); err != nil {
			return
		}
	}
}
