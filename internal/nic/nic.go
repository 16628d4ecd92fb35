// Package nic implements the NIC transport: a shared-memory datapath
// between the stack and a separate NIC driver component, in two variants
// -- a polling ring buffer and a virtqueue with encoded DMA descriptors --
// both feeding the engine via the engine.Device interface.
package nic

import (
	"errors"

	"github.com/hensoldt-cyber/networkstackd/internal/errkind"
)

// FreeFunc returns a zero-copy receive buffer to the driver once the engine
// is done with it (virtqueue variant only; the ring variant copies in).
type FreeFunc func()

// Driver is the external NIC driver collaborator: dev_read, dev_write,
// get_mac_address, plus notify_send for the virtqueue variant.
type Driver interface {
	// DevRead pulls the next frame into buf. framesRemaining tells the
	// caller how many more frames are queued after this one.
	DevRead(buf []byte) (n int, framesRemaining int, err error)
	DevWrite(buf []byte) (n int, err error)
	GetMACAddress() ([6]byte, error)
}

// VirtqueueDriver additionally exposes the notify-send doorbell the
// virtqueue variant uses after posting a tx descriptor.
type VirtqueueDriver interface {
	Driver
	NotifySend()
}

// NotifyingDriver is a Driver that can signal the pump when a frame becomes
// available, instead of requiring the pump to poll on a plain timer tick.
// A driver that doesn't implement this just gets drained on every clock
// tick.
type NotifyingDriver interface {
	Driver
	DataReady() <-chan struct{}
}

// Sentinel errors translated at the NIC/engine boundary (TRY_AGAIN,
// NO_DATA are internal-only codes).
var (
	ErrTryAgain = errkind.TryAgain.Err()
	ErrNoData   = errkind.NoData.Err()
	ErrNotInitialized = errkind.NotInitialized.Err()

	// ErrNotImplemented is returned by a Driver that does not support the
	// pull-based DevRead interface; the ring transport treats this as a
	// one-time signal to fall back to legacy ring-polling, never as a
	// generic failure.
	ErrNotImplemented = errors.New("nic: driver does not implement pull receive")
)
