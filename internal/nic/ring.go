package nic

import (
	"errors"
	"sync"
)

// RxBuffer mirrors the from-NIC ring-buffer slot layout: len==0 means the
// slot is empty.
type RxBuffer struct {
	Len  int
	Data []byte
}

// RingTransport implements the ring-buffer transport variant: two
// fixed-layout shared dataports, a pull RPC with legacy ring-polling
// fallback on the receive side; on the send side each frame is handed
// straight to the driver's DevWrite.
type RingTransport struct {
	driver Driver
	ring   []RxBuffer
	pos    int

	mu               sync.Mutex
	pullDetected     bool
	pullFailed       bool
	legacyPermanent  bool
}

// NewRingTransport constructs a ring transport over ringLen from-NIC slots.
func NewRingTransport(driver Driver, ringLen int) *RingTransport {
	return &RingTransport{
		driver: driver,
		ring:   make([]RxBuffer, ringLen),
	}
}

// DeliverLegacyFrame lets a test (or the real driver, in legacy mode) place
// a frame directly into the ring at the given slot index (taken modulo the
// ring length) -- this models the driver writing into the shared from-NIC
// dataport out of band.
func (t *RingTransport) DeliverLegacyFrame(slot int, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ring[slot%len(t.ring)] = RxBuffer{Len: len(data), Data: data}
}

// SendFrame passes buf to dev_write (the driver's DevWrite).
// TRY_AGAIN is translated to "0 frames sent" (engine retries); anything else
// from the driver is fatal for this frame.
func (t *RingTransport) SendFrame(buf []byte) (int, error) {
	n, err := t.driver.DevWrite(buf)
	if err != nil {
		if errors.Is(err, ErrTryAgain) {
			return 0, nil
		}
		return -1, err
	}
	if n < len(buf) {
		return n, errors.New("nic: short write to NIC driver")
	}
	return n, nil
}

// PollReceive drains the NIC receive path into deliver, bounded by
// loopScore. It first attempts the pull RPC; on ErrNotImplemented before
// any successful pull, it permanently falls back to legacy ring-polling. An
// ErrNotImplemented after the pull interface was already in use is fatal.
func (t *RingTransport) PollReceive(loopScore int, deliver func([]byte, FreeFunc)) (int, error) {
	t.mu.Lock()
	legacy := t.legacyPermanent
	t.mu.Unlock()

	if legacy {
		return t.pollLegacy(loopScore, deliver)
	}
	return t.pollPull(loopScore, deliver)
}

func (t *RingTransport) pollPull(loopScore int, deliver func([]byte, FreeFunc)) (int, error) {
	delivered := 0
	framesRemaining := 1
	buf := make([]byte, 65536)

	for loopScore > 0 && framesRemaining > 0 {
		n, remaining, err := t.driver.DevRead(buf)
		if err != nil {
			if errors.Is(err, ErrNotImplemented) {
				t.mu.Lock()
				detected := t.pullDetected
				t.legacyPermanent = true
				t.mu.Unlock()
				if detected {
					return delivered, errors.New("nic: driver returned NOT_IMPLEMENTED after pull detection, fatal")
				}
				// first-ever call: fall back permanently and retry via legacy.
				return t.pollLegacy(loopScore, deliver)
			}
			if errors.Is(err, ErrNoData) || errors.Is(err, ErrNotInitialized) {
				break
			}
			return delivered, err
		}

		t.mu.Lock()
		t.pullDetected = true
		t.mu.Unlock()

		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			deliver(frame, func() {})
			delivered++
			loopScore--
		}
		framesRemaining = remaining
	}
	return delivered, nil
}

func (t *RingTransport) pollLegacy(loopScore int, deliver func([]byte, FreeFunc)) (int, error) {
	delivered := 0
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.ring)
	for loopScore > 0 {
		slot := &t.ring[t.pos]
		if slot.Len == 0 {
			break
		}
		frame := make([]byte, slot.Len)
		copy(frame, slot.Data[:slot.Len])
		slot.Len = 0
		slot.Data = nil
		t.pos = (t.pos + 1) % n
		deliver(frame, func() {})
		delivered++
		loopScore--
	}
	return delivered, nil
}
