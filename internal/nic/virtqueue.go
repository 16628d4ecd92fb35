package nic

import (
	"errors"
	"sync"
)

// Descriptor id/offset widths for the encoded virtqueue DMA address.
const (
	dmaIDBits     = 8
	dmaOffsetBits = 24
	dmaIDMax      = 1 << dmaIDBits
	dmaOffsetMax  = 1 << dmaOffsetBits

	// rxQueueCapacity is the fixed-capacity ring-object FIFO capacity.
	rxQueueCapacity = 256
)

// EncodeDMAAddress packs a buffer id and byte offset into the 32-bit
// virtqueue descriptor address (id<<24 | offset). Panics if either
// exceeds its bit width.
func EncodeDMAAddress(id, offset uint32) uint32 {
	if id >= dmaIDMax {
		panic("nic: virtqueue buffer id exceeds 8 bits")
	}
	if offset >= dmaOffsetMax {
		panic("nic: virtqueue offset exceeds 24 bits")
	}
	return (id << dmaOffsetBits) | offset
}

// DecodeDMAAddress reverses EncodeDMAAddress.
func DecodeDMAAddress(addr uint32) (id, offset uint32) {
	return addr >> dmaOffsetBits, addr & (dmaOffsetMax - 1)
}

// RingObject identifies one descriptor-chain buffer region by its decoded
// (id, offset) pair plus the backing bytes, standing in for the seL4
// virtqueue ring object.
type RingObject struct {
	ID     uint32
	Offset uint32
	Buf    []byte
}

// VirtqueuePair is the test/production abstraction over the device-role tx
// and rx virtqueues: AvailableTx/AvailableRx pop the next available
// descriptor, AddUsedTx/AddUsedRx return it to the used ring.
type VirtqueuePair interface {
	AvailableTx() (RingObject, bool)
	AddUsedTx(id uint32, writtenLen int)
	AvailableRx() (RingObject, bool)
	AddUsedRx(id uint32, writtenLen int)
}

// VirtqueueTransport implements the virtqueue transport variant:
// DMA-addressed ring objects over a tx/rx virtqueue pair, zero-copy
// receive via a bounded internal FIFO of ring objects awaiting their
// free-callback.
type VirtqueueTransport struct {
	vq     VirtqueuePair
	driver Driver

	mu       sync.Mutex
	rxFIFO   []RingObject
}

func NewVirtqueueTransport(vq VirtqueuePair, driver Driver) *VirtqueueTransport {
	return &VirtqueueTransport{vq: vq, driver: driver}
}

// SendFrame pops an available tx ring object, range-checks the payload
// against its buffer length, copies the payload in, and signals the
// driver.
func (t *VirtqueueTransport) SendFrame(buf []byte) (int, error) {
	ro, ok := t.vq.AvailableTx()
	if !ok {
		return 0, ErrTryAgain
	}
	if len(buf) > len(ro.Buf) {
		return -1, errors.New("nic: virtqueue tx buffer too small for frame")
	}
	n := copy(ro.Buf, buf)
	t.vq.AddUsedTx(ro.ID, n)
	if vd, ok := t.driver.(VirtqueueDriver); ok {
		vd.NotifySend()
	}
	return n, nil
}

// PollReceive drains available rx ring objects bounded by loopScore (each
// already carries its decoded id/offset), enqueueing each in the internal
// FIFO, and
// handing the buffer to deliver with a free-callback that dequeues the
// oldest entry and returns it to the used ring. Queue overflow is fatal to
// the current pump pass.
func (t *VirtqueueTransport) PollReceive(loopScore int, deliver func([]byte, FreeFunc)) (int, error) {
	delivered := 0
	for loopScore > 0 {
		ro, ok := t.vq.AvailableRx()
		if !ok {
			break
		}

		t.mu.Lock()
		if len(t.rxFIFO) >= rxQueueCapacity {
			t.mu.Unlock()
			return delivered, errors.New("nic: receive ring object queue is full")
		}
		t.rxFIFO = append(t.rxFIFO, ro)
		t.mu.Unlock()

		free := func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if len(t.rxFIFO) == 0 {
				return
			}
			oldest := t.rxFIFO[0]
			t.rxFIFO = t.rxFIFO[1:]
			t.vq.AddUsedRx(oldest.ID, 0)
		}

		deliver(ro.Buf, free)
		delivered++
		loopScore--
	}
	return delivered, nil
}
