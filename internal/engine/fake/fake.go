// Package fake provides a deterministic in-memory Engine implementation.
// It backs the end-to-end scenario tests without requiring a real
// picoTCP binding.
package fake

import (
	"fmt"
	"sync"

	"github.com/hensoldt-cyber/networkstackd/internal/engine"
	"github.com/hensoldt-cyber/networkstackd/internal/socktable"
)

type socketState struct {
	typ       socktable.SocketType
	localAddr string
	peerAddr  string
	listening bool
	backlog   []inboundConn
	rxQueue   [][]byte
	closed    bool
	tcpOpts   engine.TCPOptions
}

type inboundConn struct {
	peerAddr string
	payload  []byte
}

// Engine is the fake protocol-engine implementation. It is safe for
// concurrent use; all mutation happens under mu.
type Engine struct {
	mu      sync.Mutex
	sockets map[*socketState]struct{}
	device  engine.Device
	nextID  int64

	// Callbacks, wired by the adapter via SetCallbacks; Tick delivers
	// queued inbound data/connections through them.
	onReadable func(engine.Socket)
	onAccept   func(engine.Socket)
}

func New() *Engine {
	return &Engine{sockets: make(map[*socketState]struct{})}
}

// SetCallbacks wires the adapter's per-socket notification hooks. The daemon
// wires them once at startup in config.NetworkStack.Start.
func (e *Engine) SetCallbacks(onReadable, onAccept func(engine.Socket)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onReadable = onReadable
	e.onAccept = onAccept
}

func (e *Engine) RegisterDevice(dev engine.Device) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.device = dev
	return nil
}

func (e *Engine) CreateSocket(t socktable.SocketType) (engine.Socket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := &socketState{typ: t}
	e.sockets[s] = struct{}{}
	e.nextID++
	return s, nil
}

// SetOption stores opts on the socket for inspection by tests; the fake
// engine has no real TCP stack to configure.
func (e *Engine) SetOption(s engine.Socket, opts engine.TCPOptions) error {
	ss := s.(*socketState)
	e.mu.Lock()
	defer e.mu.Unlock()
	ss.tcpOpts = opts
	return nil
}

func (e *Engine) Bind(s engine.Socket, addr string) error {
	ss := s.(*socketState)
	e.mu.Lock()
	defer e.mu.Unlock()
	ss.localAddr = addr
	return nil
}

func (e *Engine) Connect(s engine.Socket, addr string) error {
	ss := s.(*socketState)
	e.mu.Lock()
	defer e.mu.Unlock()
	ss.peerAddr = addr
	return nil
}

func (e *Engine) Listen(s engine.Socket, backlog int) error {
	ss := s.(*socketState)
	e.mu.Lock()
	defer e.mu.Unlock()
	ss.listening = true
	return nil
}

func (e *Engine) Accept(s engine.Socket) (engine.Socket, string, error) {
	ss := s.(*socketState)
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(ss.backlog) == 0 {
		return nil, "", fmt.Errorf("fake engine: no pending connection")
	}
	conn := ss.backlog[0]
	ss.backlog = ss.backlog[1:]

	child := &socketState{typ: socktable.Stream, peerAddr: conn.peerAddr}
	if len(conn.payload) > 0 {
		child.rxQueue = append(child.rxQueue, conn.payload)
	}
	e.sockets[child] = struct{}{}
	return child, conn.peerAddr, nil
}

func (e *Engine) Write(s engine.Socket, data []byte) (int, error) {
	ss := s.(*socketState)
	e.mu.Lock()
	dev := e.device
	e.mu.Unlock()
	if dev == nil {
		return 0, fmt.Errorf("fake engine: no device registered")
	}
	_ = ss
	return dev.SendFrame(data)
}

func (e *Engine) Read(s engine.Socket, buf []byte) (int, error) {
	ss := s.(*socketState)
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(ss.rxQueue) == 0 {
		return 0, nil
	}
	frame := ss.rxQueue[0]
	ss.rxQueue = ss.rxQueue[1:]
	n := copy(buf, frame)
	return n, nil
}

func (e *Engine) SendTo(s engine.Socket, data []byte, addr string) (int, error) {
	return e.Write(s, data)
}

func (e *Engine) RecvFrom(s engine.Socket, buf []byte) (int, string, error) {
	ss := s.(*socketState)
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(ss.rxQueue) == 0 {
		return 0, "", nil
	}
	frame := ss.rxQueue[0]
	ss.rxQueue = ss.rxQueue[1:]
	n := copy(buf, frame)
	return n, ss.peerAddr, nil
}

func (e *Engine) Close(s engine.Socket) error {
	ss := s.(*socketState)
	e.mu.Lock()
	defer e.mu.Unlock()
	ss.closed = true
	delete(e.sockets, ss)
	return nil
}

// Tick drains the registered device's receive path, the only thing a real
// stack_tick does from the adapter's point of view in this fake.
func (e *Engine) Tick(loopScore int) error {
	e.mu.Lock()
	dev := e.device
	e.mu.Unlock()
	if dev == nil {
		return nil
	}
	_, err := dev.Poll(loopScore, func(frame []byte, free func()) {
		e.deliverFrame(frame)
		if free != nil {
			free()
		}
	})
	return err
}

// deliverFrame is the test harness's injection point: it treats any
// delivered frame as addressed to one bound datagram socket or listening
// stream socket, taken in map iteration order; when several such sockets
// exist, which one receives the frame is not defined. This is sufficient
// for the scenario tests, which have one such socket, and drive this fake
// directly rather than through a real IP/UDP parser.
func (e *Engine) deliverFrame(frame []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for s := range e.sockets {
		if s.typ == socktable.Dgram && s.localAddr != "" {
			s.rxQueue = append(s.rxQueue, frame)
			if e.onReadable != nil {
				e.onReadable(s)
			}
			return
		}
		if s.typ == socktable.Stream && s.listening {
			s.backlog = append(s.backlog, inboundConn{payload: nil})
			if e.onAccept != nil {
				e.onAccept(s)
			}
			return
		}
	}
}
