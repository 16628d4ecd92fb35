// Package events defines the per-socket event mask and the fixed ABI of the
// event record the client-driven harvest (getPendingEvents) emits.
package events

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bitset"

	"github.com/hensoldt-cyber/networkstackd/internal/errkind"
)

// Bit positions within a socket's event mask. Matches the OS_Sock_Evt
// layout.
const (
	BitRead = iota
	BitWrite
	BitConnEst
	BitConnAcpt
	BitClosed
	BitError
	numBits
)

// SelfDescribing bits are cleared the moment getPendingEvents observes them.
var selfDescribing = []uint{BitConnEst, BitWrite, BitError}

// Sticky bits persist until the corresponding data-plane RPC consumes the
// condition (read/accept/close).
var sticky = []uint{BitRead, BitConnAcpt, BitClosed}

// Mask is a socket's event-mask field, backed by a bitset rather than a bare
// uint16 so the self-describing/sticky clear logic reads as set operations.
type Mask struct {
	bits *bitset.BitSet
}

func NewMask() Mask {
	return Mask{bits: bitset.New(numBits)}
}

func (m *Mask) Set(bit uint) {
	if m.bits == nil {
		m.bits = bitset.New(numBits)
	}
	m.bits.Set(bit)
}

func (m *Mask) Clear(bit uint) {
	if m.bits == nil {
		return
	}
	m.bits.Clear(bit)
}

func (m Mask) IsSet(bit uint) bool {
	return m.bits != nil && m.bits.Test(bit)
}

// Any reports whether any bit is set.
func (m Mask) Any() bool {
	return m.bits != nil && m.bits.Any()
}

// ClearSelfDescribing clears the CONN_EST/WRITE/ERROR bits, leaving sticky
// bits untouched.
func (m *Mask) ClearSelfDescribing() {
	for _, b := range selfDescribing {
		m.Clear(b)
	}
}

// Reset clears every bit, used when a slot returns to FREE.
func (m *Mask) Reset() {
	if m.bits == nil {
		return
	}
	m.bits.ClearAll()
}

// Uint16 packs the mask into the wire representation used by Record.
func (m Mask) Uint16() uint16 {
	if m.bits == nil {
		return 0
	}
	var v uint16
	for b := uint(0); b < numBits; b++ {
		if m.bits.Test(b) {
			v |= 1 << b
		}
	}
	return v
}

// Record is the fixed little-endian ABI event record clients read out of
// their dataport.
type Record struct {
	Mask         uint16
	SocketHandle int32
	ParentHandle int32
	CurrentError int32
}

// RecordSize is the on-wire size in bytes; must be at least 14.
const RecordSize = 2 + 4 + 4 + 4

// Encode writes the record little-endian into buf, which must be at least
// RecordSize bytes.
func (r Record) Encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], r.Mask)
	binary.LittleEndian.PutUint32(buf[2:6], uint32(r.SocketHandle))
	binary.LittleEndian.PutUint32(buf[6:10], uint32(r.ParentHandle))
	binary.LittleEndian.PutUint32(buf[10:14], uint32(r.CurrentError))
}

// NewRecord builds a Record snapshot from slot state, translating the
// errkind.Code into its wire int32 form.
func NewRecord(mask Mask, handle, parent int32, currentError errkind.Code) Record {
	return Record{
		Mask:         mask.Uint16(),
		SocketHandle: handle,
		ParentHandle: parent,
		CurrentError: int32(currentError),
	}
}
