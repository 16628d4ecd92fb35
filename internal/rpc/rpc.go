// Package rpc implements the client-facing socket surface: create, close,
// connect, bind, listen, accept, write, read, sendto, recvfrom,
// getStatus, getPendingEvents.
//
// Every operation runs the same seven-step validation prelude before
// touching the engine: state gate, null checks, handle resolution with
// ownership, socket-type check, connected-state check, address-string
// check, length clamping.
package rpc

import (
	"bytes"

	"github.com/hensoldt-cyber/networkstackd/internal/engine"
	"github.com/hensoldt-cyber/networkstackd/internal/errkind"
	"github.com/hensoldt-cyber/networkstackd/internal/events"
	"github.com/hensoldt-cyber/networkstackd/internal/logging"
	"github.com/hensoldt-cyber/networkstackd/internal/metrics"
	"github.com/hensoldt-cyber/networkstackd/internal/socktable"
)

// MaxAddrLen bounds an address string to the fixed 16-byte IPv4-text
// buffer (sizeof "255.255.255.255" including the null terminator) the
// dataport marshalling code copies addresses into.
const MaxAddrLen = 16

// StateGate reports whether RPCs may proceed; satisfied by
// lifecycle.Machine.CheckRunning.
type StateGate interface {
	CheckRunning() error
}

// Locker is the stack_ts_lock pump.Pump exposes so RPCs calling into the
// engine serialize against tick processing.
type Locker interface {
	Lock()
	Unlock()
}

// Server implements the twelve RPC operations against a socket table, an
// engine adapter, and the shared stack lock.
type Server struct {
	Gate    StateGate
	Table   *socktable.Table
	Adapter *engine.Adapter
	Stack   Locker
	Log     logging.Logger
	Metrics *metrics.Collector
}

func New(gate StateGate, table *socktable.Table, adapter *engine.Adapter, stack Locker, log logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	return &Server{Gate: gate, Table: table, Adapter: adapter, Stack: stack, Log: log}
}

// validateAddr implements the null-terminator / embedded-NUL check step:
// an address string must be non-empty, fit within the fixed MaxAddrLen
// window, and contain no embedded NUL within that window.
func validateAddr(addr string) error {
	if addr == "" || len(addr) >= MaxAddrLen {
		return errkind.InvalidParameter.Err()
	}
	if bytes.IndexByte([]byte(addr), 0) >= 0 {
		return errkind.InvalidParameter.Err()
	}
	return nil
}

// clampLength implements the length-clamping step: a requested transfer
// length is clamped to the caller-supplied buffer capacity, never trusted
// as-is from the client.
func clampLength(requested, bufCap int) int {
	if requested < 0 {
		return 0
	}
	if requested > bufCap {
		return bufCap
	}
	return requested
}

// Create implements socket_create. socketType must be Stream or Dgram.
func (s *Server) Create(clientID socktable.ClientID, socketType socktable.SocketType) (socktable.Handle, error) {
	if err := s.Gate.CheckRunning(); err != nil {
		return socktable.NoHandle, err
	}
	if socketType != socktable.Stream && socketType != socktable.Dgram {
		return socktable.NoHandle, errkind.InvalidParameter.Err()
	}
	return s.Adapter.CreateSocket(clientID, socketType)
}

// Close implements socket_close.
func (s *Server) Close(clientID socktable.ClientID, h socktable.Handle) error {
	if err := s.Gate.CheckRunning(); err != nil {
		return err
	}
	if _, err := s.Table.Lookup(h, clientID); err != nil {
		return err
	}
	return s.Adapter.CloseSocket(h, clientID)
}

// Connect implements socket_connect: only valid on STREAM sockets not
// already connected.
func (s *Server) Connect(clientID socktable.ClientID, h socktable.Handle, addr string) error {
	if err := s.Gate.CheckRunning(); err != nil {
		return err
	}
	slot, err := s.Table.Lookup(h, clientID)
	if err != nil {
		return err
	}
	if slot.SocketType != socktable.Stream {
		return errkind.NetworkProto.Err()
	}
	if slot.Connected {
		return errkind.InvalidState.Err()
	}
	if err := validateAddr(addr); err != nil {
		return err
	}

	s.Stack.Lock()
	cerr := s.Adapter.Engine.Connect(slot.EngineSocket, addr)
	s.Stack.Unlock()
	if cerr != nil {
		return cerr
	}
	return s.Table.Mutate(h, clientID, func(slot *socktable.Slot) error {
		slot.Connected = true
		return nil
	})
}

// Bind implements socket_bind.
func (s *Server) Bind(clientID socktable.ClientID, h socktable.Handle, addr string) error {
	if err := s.Gate.CheckRunning(); err != nil {
		return err
	}
	slot, err := s.Table.Lookup(h, clientID)
	if err != nil {
		return err
	}
	if slot.SocketType != socktable.Stream && slot.SocketType != socktable.Dgram {
		return errkind.NetworkProto.Err()
	}
	if err := validateAddr(addr); err != nil {
		return err
	}

	s.Stack.Lock()
	defer s.Stack.Unlock()
	return s.Adapter.Engine.Bind(slot.EngineSocket, addr)
}

// Listen implements socket_listen: STREAM only, not already connected.
func (s *Server) Listen(clientID socktable.ClientID, h socktable.Handle, backlog int) error {
	if err := s.Gate.CheckRunning(); err != nil {
		return err
	}
	slot, err := s.Table.Lookup(h, clientID)
	if err != nil {
		return err
	}
	if slot.SocketType != socktable.Stream {
		return errkind.NetworkProto.Err()
	}
	if slot.Connected {
		return errkind.InvalidState.Err()
	}
	if backlog <= 0 {
		return errkind.InvalidParameter.Err()
	}

	s.Stack.Lock()
	defer s.Stack.Unlock()
	return s.Adapter.Engine.Listen(slot.EngineSocket, backlog)
}

// Accept implements socket_accept: requires a pending connection recorded
// via OnAcceptReady (PendingConnections > 0), else NETWORK_CONN_NONE.
func (s *Server) Accept(clientID socktable.ClientID, h socktable.Handle) (socktable.Handle, string, error) {
	if err := s.Gate.CheckRunning(); err != nil {
		return socktable.NoHandle, "", err
	}
	slot, err := s.Table.Lookup(h, clientID)
	if err != nil {
		return socktable.NoHandle, "", err
	}
	if slot.SocketType != socktable.Stream {
		return socktable.NoHandle, "", errkind.NetworkProto.Err()
	}
	if slot.PendingConnections <= 0 {
		return socktable.NoHandle, "", errkind.NetworkConnNone.Err()
	}

	s.Stack.Lock()
	defer s.Stack.Unlock()
	return s.Adapter.AcceptSocket(h, clientID)
}

// Write implements socket_write: STREAM only, requires Connected, clamps
// the requested length to the caller's buffer.
func (s *Server) Write(clientID socktable.ClientID, h socktable.Handle, data []byte, requested int) (int, error) {
	if err := s.Gate.CheckRunning(); err != nil {
		return 0, err
	}
	if data == nil {
		return 0, errkind.InvalidParameter.Err()
	}
	slot, err := s.Table.Lookup(h, clientID)
	if err != nil {
		return 0, err
	}
	if slot.SocketType != socktable.Stream {
		return 0, errkind.NetworkProto.Err()
	}
	if !slot.Connected {
		return 0, errkind.NetworkConnNone.Err()
	}

	n := clampLength(requested, len(data))

	s.Stack.Lock()
	defer s.Stack.Unlock()
	written, werr := s.Adapter.Engine.Write(slot.EngineSocket, data[:n])
	if werr != nil {
		return 0, werr
	}
	_ = s.Table.Mutate(h, clientID, func(slot *socktable.Slot) error {
		slot.EventMask.Clear(events.BitWrite)
		return nil
	})
	return written, nil
}

// Read implements socket_read: STREAM only, requires Connected, clamps
// the requested length to the caller's buffer capacity.
func (s *Server) Read(clientID socktable.ClientID, h socktable.Handle, buf []byte, requested int) (int, error) {
	if err := s.Gate.CheckRunning(); err != nil {
		return 0, err
	}
	if buf == nil {
		return 0, errkind.InvalidParameter.Err()
	}
	slot, err := s.Table.Lookup(h, clientID)
	if err != nil {
		return 0, err
	}
	if slot.SocketType != socktable.Stream {
		return 0, errkind.NetworkProto.Err()
	}
	if !slot.Connected {
		return 0, errkind.NetworkConnNone.Err()
	}

	n := clampLength(requested, len(buf))

	s.Stack.Lock()
	read, rerr := s.Adapter.Engine.Read(slot.EngineSocket, buf[:n])
	s.Stack.Unlock()
	if rerr != nil {
		return 0, rerr
	}
	if read == 0 {
		return 0, errkind.NoData.Err()
	}
	_ = s.Table.Mutate(h, clientID, func(slot *socktable.Slot) error {
		slot.EventMask.Clear(events.BitRead)
		return nil
	})
	return read, nil
}

// SendTo implements socket_sendto: DGRAM only.
func (s *Server) SendTo(clientID socktable.ClientID, h socktable.Handle, data []byte, requested int, addr string) (int, error) {
	if err := s.Gate.CheckRunning(); err != nil {
		return 0, err
	}
	if data == nil {
		return 0, errkind.InvalidParameter.Err()
	}
	slot, err := s.Table.Lookup(h, clientID)
	if err != nil {
		return 0, err
	}
	if slot.SocketType != socktable.Dgram {
		return 0, errkind.NetworkProto.Err()
	}
	if err := validateAddr(addr); err != nil {
		return 0, err
	}

	n := clampLength(requested, len(data))

	s.Stack.Lock()
	defer s.Stack.Unlock()
	return s.Adapter.Engine.SendTo(slot.EngineSocket, data[:n], addr)
}

// RecvFrom implements socket_recvfrom: DGRAM only.
func (s *Server) RecvFrom(clientID socktable.ClientID, h socktable.Handle, buf []byte, requested int) (int, string, error) {
	if err := s.Gate.CheckRunning(); err != nil {
		return 0, "", err
	}
	if buf == nil {
		return 0, "", errkind.InvalidParameter.Err()
	}
	slot, err := s.Table.Lookup(h, clientID)
	if err != nil {
		return 0, "", err
	}
	if slot.SocketType != socktable.Dgram {
		return 0, "", errkind.NetworkProto.Err()
	}

	n := clampLength(requested, len(buf))

	s.Stack.Lock()
	read, peer, rerr := s.Adapter.Engine.RecvFrom(slot.EngineSocket, buf[:n])
	s.Stack.Unlock()
	if rerr != nil {
		return 0, "", rerr
	}
	if read == 0 {
		return 0, "", errkind.NoData.Err()
	}
	_ = s.Table.Mutate(h, clientID, func(slot *socktable.Slot) error {
		slot.EventMask.Clear(events.BitRead)
		return nil
	})
	return read, peer, nil
}

// GetStatus implements socket_getStatus: returns a snapshot of the slot's
// connection/error state without clearing any event bits.
type Status struct {
	Connected          bool
	PendingConnections int
	CurrentError       errkind.Code
}

func (s *Server) GetStatus(clientID socktable.ClientID, h socktable.Handle) (Status, error) {
	if err := s.Gate.CheckRunning(); err != nil {
		return Status{}, err
	}
	slot, err := s.Table.Lookup(h, clientID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Connected:          slot.Connected,
		PendingConnections: slot.PendingConnections,
		CurrentError:       slot.CurrentError,
	}, nil
}

// GetPendingEvents implements getPendingEvents: harvests up to
// dataportSize bytes worth of event records for clientID's owned sockets.
func (s *Server) GetPendingEvents(clientID socktable.ClientID, requestedBytes, dataportSize int) ([]events.Record, error) {
	if err := s.Gate.CheckRunning(); err != nil {
		return nil, err
	}
	ci := s.Table.ClientIndex(clientID)
	if ci < 0 {
		return nil, errkind.InvalidHandle.Err()
	}
	recs, err := s.Table.Harvest(ci, requestedBytes, dataportSize)
	if err == nil && s.Metrics != nil {
		s.Metrics.EventsHarvested.Add(float64(len(recs)))
	}
	return recs, err
}
