// Package engine adapts an embedded TCP/UDP protocol engine (picoTCP, or
// any equivalent engine exposing the same device-send / stack-receive /
// per-socket-event contract) into the core's event model. Engine is the
// interface a real binding would satisfy; Adapter is the core-side glue
// that turns its callbacks into socket-table mutations.
package engine

import (
	"sync"
	"time"

	"github.com/hensoldt-cyber/networkstackd/internal/events"
	"github.com/hensoldt-cyber/networkstackd/internal/socktable"
)

// Socket is the opaque engine-side socket identity, stored verbatim in
// socktable.Slot.EngineSocket.
type Socket interface{}

// Device is what the NIC transport registers with the engine: a send
// path, a bounded poll, and teardown.
type Device interface {
	SendFrame(buf []byte) (int, error)
	// Poll drains up to loopScore frames, invoking deliver for each with a
	// free callback the engine calls once it is done with the buffer (a
	// no-op for copy-in transports, meaningful for the zero-copy virtqueue
	// variant).
	Poll(loopScore int, deliver func(frame []byte, free func())) (delivered int, err error)
	Destroy()
}

// Engine is the protocol-engine contract the core depends on. A real
// implementation wraps picoTCP (or any equivalent TCP/UDP stack); the
// in-memory fake in engine/fake backs the unit and scenario tests.
type Engine interface {
	RegisterDevice(dev Device) error
	CreateSocket(t socktable.SocketType) (Socket, error)
	Connect(s Socket, addr string) error
	Bind(s Socket, addr string) error
	Listen(s Socket, backlog int) error
	Accept(s Socket) (Socket, string, error)
	Write(s Socket, data []byte) (int, error)
	Read(s Socket, buf []byte) (int, error)
	SendTo(s Socket, data []byte, addr string) (int, error)
	RecvFrom(s Socket, buf []byte) (int, string, error)
	Close(s Socket) error
	Tick(loopScore int) error

	// SetOption applies TCPOptions to a STREAM socket. UDP sockets never
	// call this; implementations may treat a non-stream socket as a no-op.
	SetOption(s Socket, opts TCPOptions) error
}

// TCPOptions are the socket options applied at TCP creation time: Nagle
// off, keepalive with the given probe/retry parameters.
type TCPOptions struct {
	NoDelay            bool
	KeepAliveProbe     time.Duration
	KeepAliveRetry     time.Duration
	KeepAliveRetryNum  int
}

// DefaultTCPOptions sets NODELAY on, keepalive probe 30s, retry 5s,
// count 5.
func DefaultTCPOptions() TCPOptions {
	return TCPOptions{
		NoDelay:           true,
		KeepAliveProbe:    30 * time.Second,
		KeepAliveRetry:    5 * time.Second,
		KeepAliveRetryNum: 5,
	}
}

// Adapter plumbs per-socket engine callbacks into the socket table: each
// fires a handler that looks up the handle by engine socket and sets the
// corresponding bit in event_mask, updating current_error on errors. For
// accept-ready it additionally bumps pending_connections on the listening
// slot. Guards the engine entry points with nwstack_lock (never nested with
// socket_cb_lock, which socktable.Table owns internally). allocatorLock
// stands for allocator_lock; no Adapter method takes it.
type Adapter struct {
	Table   *socktable.Table
	Engine  Engine
	TCPOpts TCPOptions

	allocatorLock sync.Mutex
	nwstackLock   sync.Mutex
}

func NewAdapter(table *socktable.Table, eng Engine) *Adapter {
	return &Adapter{Table: table, Engine: eng, TCPOpts: DefaultTCPOptions()}
}

// CreateSocket mirrors socket_create: allocates an engine socket, applies
// the configured TCP options for STREAM sockets, then reserves a handle
// referencing it.
func (a *Adapter) CreateSocket(clientID socktable.ClientID, t socktable.SocketType) (socktable.Handle, error) {
	a.nwstackLock.Lock()
	sock, err := a.Engine.CreateSocket(t)
	if err == nil && t == socktable.Stream {
		if optErr := a.Engine.SetOption(sock, a.TCPOpts); optErr != nil {
			_ = a.Engine.Close(sock)
			err = optErr
		}
	}
	a.nwstackLock.Unlock()
	if err != nil {
		return socktable.NoHandle, err
	}

	h, err := a.Table.ReserveHandle(clientID, t, sock)
	if err != nil {
		a.nwstackLock.Lock()
		_ = a.Engine.Close(sock)
		a.nwstackLock.Unlock()
		return socktable.NoHandle, err
	}
	return h, nil
}

// CloseSocket mirrors socket_close: dissociate and close the engine socket
// first, then free the handle.
func (a *Adapter) CloseSocket(h socktable.Handle, clientID socktable.ClientID) error {
	slot, err := a.Table.Lookup(h, clientID)
	if err != nil {
		return err
	}
	a.nwstackLock.Lock()
	_ = a.Engine.Close(slot.EngineSocket)
	a.nwstackLock.Unlock()
	return a.Table.FreeHandle(h, clientID)
}

// AcceptSocket wraps the engine-yielded new socket via ReserveHandle under
// the parent's client_id, then links it with SetParentHandle.
func (a *Adapter) AcceptSocket(parent socktable.Handle, clientID socktable.ClientID) (socktable.Handle, string, error) {
	slot, err := a.Table.Lookup(parent, clientID)
	if err != nil {
		return socktable.NoHandle, "", err
	}

	a.nwstackLock.Lock()
	childSock, peerAddr, err := a.Engine.Accept(slot.EngineSocket)
	a.nwstackLock.Unlock()
	if err != nil {
		return socktable.NoHandle, "", err
	}

	child, err := a.Table.ReserveHandle(clientID, socktable.Stream, childSock)
	if err != nil {
		return socktable.NoHandle, "", err
	}
	if err := a.Table.SetParentHandle(child, parent); err != nil {
		return socktable.NoHandle, "", err
	}
	_ = a.Table.Mutate(parent, clientID, func(s *socktable.Slot) error {
		if s.PendingConnections > 0 {
			s.PendingConnections--
		}
		return nil
	})
	_ = a.Table.Mutate(child, clientID, func(s *socktable.Slot) error {
		s.Connected = true
		return nil
	})
	return child, peerAddr, nil
}

// OnConnected, OnReadable, OnWritable, OnClosed, OnAcceptReady, OnError are
// the per-socket engine callbacks. They run synchronously
// during Engine.Tick, under the pump's own stack_ts_lock (owned by the
// caller, pump.Pump), so they must not attempt to re-acquire it themselves
// -- they mutate slot state directly via the table's engine-socket lookup.
func (a *Adapter) OnConnected(sock Socket) {
	a.Table.MutateByEngineSocket(sock, func(_ socktable.Handle, s *socktable.Slot) {
		s.Connected = true
		s.EventMask.Set(events.BitConnEst)
	})
}

func (a *Adapter) OnReadable(sock Socket) {
	a.Table.MutateByEngineSocket(sock, func(_ socktable.Handle, s *socktable.Slot) {
		s.EventMask.Set(events.BitRead)
	})
}

func (a *Adapter) OnWritable(sock Socket) {
	a.Table.MutateByEngineSocket(sock, func(_ socktable.Handle, s *socktable.Slot) {
		s.EventMask.Set(events.BitWrite)
	})
}

func (a *Adapter) OnClosed(sock Socket) {
	a.Table.MutateByEngineSocket(sock, func(_ socktable.Handle, s *socktable.Slot) {
		s.Connected = false
		s.EventMask.Set(events.BitClosed)
	})
}

func (a *Adapter) OnAcceptReady(listenSock Socket) {
	a.Table.MutateByEngineSocket(listenSock, func(_ socktable.Handle, s *socktable.Slot) {
		s.PendingConnections++
		s.EventMask.Set(events.BitConnAcpt)
	})
}

func (a *Adapter) OnError(sock Socket, code int32) {
	a.Table.MutateByEngineSocket(sock, func(_ socktable.Handle, s *socktable.Slot) {
		s.CurrentError = errKindFromEngine(code)
		s.EventMask.Set(events.BitError)
	})
}
