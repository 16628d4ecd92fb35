// Package socktable implements the socket-handle multiplexer: a fixed,
// pre-allocated pool of socket slots shared among clients under
// per-client quotas, with handle reservation, ownership checks, and
// parent/child links for accepted connections.
package socktable

import (
	"sync"

	"github.com/hensoldt-cyber/networkstackd/internal/errkind"
	"github.com/hensoldt-cyber/networkstackd/internal/events"
)

// ClientID is the raw kernel-issued badge value.
type ClientID int32

// Handle is a small non-negative index into the socket table. Deliberately
// an arena-plus-index design: do not replace with pointers.
type Handle int32

// NoHandle is the sentinel for "no parent" / "not found".
const NoHandle Handle = -1

// NoClient is the sentinel owner for a FREE slot.
const NoClient ClientID = -1

type Status int

const (
	Free Status = iota
	InUse
)

type SocketType int

const (
	Unspec SocketType = iota
	Stream
	Dgram
)

// Slot is one entry of the fixed socket pool.
type Slot struct {
	Status             Status
	OwnerClientID      ClientID
	ParentHandle       Handle
	SocketType         SocketType
	Connected          bool
	PendingConnections int
	EventMask          events.Mask
	CurrentError       errkind.Code
	EngineSocket       interface{} // opaque handle into the protocol engine
	IOBuffer           []byte      // view into the owning client's dataport; never owned
}

func freshSlot() Slot {
	return Slot{
		Status:        Free,
		OwnerClientID: NoClient,
		ParentHandle:  NoHandle,
		SocketType:    Unspec,
		EventMask:     events.NewMask(),
		CurrentError:  errkind.Success,
	}
}

// Client is one per connected badge, populated at startup and never
// destroyed.
type Client struct {
	ClientID            ClientID
	InUse               bool
	SocketQuota         int
	CurrentSocketsInUse int
	NeedsToBeNotified   bool
	Head, Tail          int
}

// Table is the shared socket pool plus the client registry, guarded by a
// single mutex realizing the socket_cb_lock.
type Table struct {
	mu      sync.Mutex
	slots   []Slot
	clients []Client
}

// New allocates a Table with numSockets slots and the given client quotas,
// in client-index order (badge identity is carried in Client.ClientID).
func New(numSockets int, clients []Client) *Table {
	t := &Table{
		slots:   make([]Slot, numSockets),
		clients: make([]Client, len(clients)),
	}
	for i := range t.slots {
		t.slots[i] = freshSlot()
	}
	copy(t.clients, clients)
	return t
}

func (t *Table) clientIndexLocked(id ClientID) int {
	for i := range t.clients {
		if t.clients[i].InUse && t.clients[i].ClientID == id {
			return i
		}
	}
	return -1
}

// ClientIndex returns the position of id in the configured client list, or
// -1 if unknown/not in use.
func (t *Table) ClientIndex(id ClientID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clientIndexLocked(id)
}

// ReserveHandle allocates the lowest-index FREE slot for client id, storing
// engineSocket and socketType, and increments the client's in-use counter.
// Fails if the client is unknown or the quota is exhausted.
func (t *Table) ReserveHandle(id ClientID, socketType SocketType, engineSocket interface{}) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ci := t.clientIndexLocked(id)
	if ci < 0 {
		return NoHandle, errkind.InvalidHandle.Err()
	}
	c := &t.clients[ci]
	if c.CurrentSocketsInUse >= c.SocketQuota {
		return NoHandle, errkind.OutOfBounds.Err()
	}

	for i := range t.slots {
		if t.slots[i].Status == Free {
			t.slots[i] = freshSlot()
			t.slots[i].Status = InUse
			t.slots[i].OwnerClientID = id
			t.slots[i].SocketType = socketType
			t.slots[i].EngineSocket = engineSocket
			c.CurrentSocketsInUse++
			return Handle(i), nil
		}
	}
	return NoHandle, errkind.OutOfBounds.Err()
}

// FreeHandle releases handle, requiring it to be IN_USE and owned by id.
func (t *Table) FreeHandle(h Handle, id ClientID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, err := t.getOwnedLocked(h, id)
	if err != nil {
		return err
	}

	ci := t.clientIndexLocked(id)
	if ci >= 0 && t.clients[ci].CurrentSocketsInUse > 0 {
		t.clients[ci].CurrentSocketsInUse--
	}
	_ = s
	t.slots[h] = freshSlot()
	return nil
}

// SetParentHandle records parent on the child slot and copies the parent's
// owner onto it, used immediately after accept produces a new engine
// socket.
func (t *Table) SetParentHandle(child, parent Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.inRangeLocked(parent) || t.slots[parent].Status != InUse {
		return errkind.InvalidHandle.Err()
	}
	if !t.inRangeLocked(child) || t.slots[child].Status != InUse {
		return errkind.InvalidHandle.Err()
	}
	t.slots[child].ParentHandle = parent
	t.slots[child].OwnerClientID = t.slots[parent].OwnerClientID
	return nil
}

func (t *Table) inRangeLocked(h Handle) bool {
	return h >= 0 && int(h) < len(t.slots)
}

func (t *Table) getOwnedLocked(h Handle, id ClientID) (*Slot, error) {
	if !t.inRangeLocked(h) {
		return nil, errkind.InvalidHandle.Err()
	}
	s := &t.slots[h]
	if s.Status != InUse || s.OwnerClientID != id {
		return nil, errkind.InvalidHandle.Err()
	}
	return s, nil
}

// Lookup returns a copy of the slot owned by id at handle h, or
// InvalidHandle if out of range, FREE, or owned by someone else.
func (t *Table) Lookup(h Handle, id ClientID) (Slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.getOwnedLocked(h, id)
	if err != nil {
		return Slot{}, err
	}
	return *s, nil
}

// Mutate runs fn against the slot owned by id at handle h while holding the
// table lock, and writes fn's changes back. Used by the RPC surface so
// connect/accept/write/read/recvfrom can update slot fields atomically with
// the ownership check.
func (t *Table) Mutate(h Handle, id ClientID, fn func(*Slot) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.getOwnedLocked(h, id)
	if err != nil {
		return err
	}
	return fn(s)
}

// MutateByEngineSocket locates the slot referencing engineSocket (linear
// scan) and mutates it without an ownership check; used by engine
// callbacks running on the pump thread, which do not carry a caller
// client_id.
func (t *Table) MutateByEngineSocket(engineSocket interface{}, fn func(Handle, *Slot)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i].Status == InUse && t.slots[i].EngineSocket == engineSocket {
			fn(Handle(i), &t.slots[i])
			return true
		}
	}
	return false
}

// ForEachOwnedByClient runs fn over every IN_USE slot owned by id, starting
// at handle `start` and wrapping modulo the table size, stopping when fn
// returns false or the scan returns to `start`. Table.Harvest does its own
// walk and does not use it.
func (t *Table) ForEachOwnedByClient(id ClientID, start int, fn func(h Handle, s *Slot) (cont bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.slots)
	if n == 0 {
		return
	}
	i := start % n
	for {
		if t.slots[i].Status == InUse && t.slots[i].OwnerClientID == id {
			if !fn(Handle(i), &t.slots[i]) {
				return
			}
		}
		i = (i + 1) % n
		if i == start%n {
			return
		}
	}
}

// NumSockets returns the configured pool size.
func (t *Table) NumSockets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Client returns a copy of the client record at index ci.
func (t *Table) Client(ci int) (Client, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ci < 0 || ci >= len(t.clients) {
		return Client{}, false
	}
	return t.clients[ci], true
}

// MutateClient runs fn against the client record at index ci while holding
// the table lock. NotifyCandidates and Harvest update needs_to_be_notified
// and head/tail directly under the lock and do not go through it.
func (t *Table) MutateClient(ci int, fn func(*Client)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ci < 0 || ci >= len(t.clients) {
		return false
	}
	fn(&t.clients[ci])
	return true
}

// NumClients returns the configured client count.
func (t *Table) NumClients() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}
