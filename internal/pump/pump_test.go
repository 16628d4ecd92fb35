package pump_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hensoldt-cyber/networkstackd/internal/engine"
	"github.com/hensoldt-cyber/networkstackd/internal/events"
	"github.com/hensoldt-cyber/networkstackd/internal/pump"
	"github.com/hensoldt-cyber/networkstackd/internal/socktable"
)

// stubEngine implements engine.Engine, recording Tick calls only; every
// other operation is a no-op since the pump never calls them directly.
type stubEngine struct {
	mu      sync.Mutex
	ticks   int
	tickErr error
}

func (s *stubEngine) RegisterDevice(d engine.Device) error { return nil }

func (s *stubEngine) Tick(loopScore int) error {
	s.mu.Lock()
	s.ticks++
	s.mu.Unlock()
	return s.tickErr
}

func (s *stubEngine) CreateSocket(t socktable.SocketType) (engine.Socket, error) { return nil, nil }
func (s *stubEngine) Connect(engine.Socket, string) error                       { return nil }
func (s *stubEngine) Bind(engine.Socket, string) error                          { return nil }
func (s *stubEngine) Listen(engine.Socket, int) error                          { return nil }
func (s *stubEngine) Accept(engine.Socket) (engine.Socket, string, error)       { return nil, "", nil }
func (s *stubEngine) Write(engine.Socket, []byte) (int, error)                 { return 0, nil }
func (s *stubEngine) Read(engine.Socket, []byte) (int, error)                  { return 0, nil }
func (s *stubEngine) SendTo(engine.Socket, []byte, string) (int, error)        { return 0, nil }
func (s *stubEngine) RecvFrom(engine.Socket, []byte) (int, string, error)      { return 0, "", nil }
func (s *stubEngine) Close(engine.Socket) error                                { return nil }
func (s *stubEngine) SetOption(engine.Socket, engine.TCPOptions) error         { return nil }

func newTable() *socktable.Table {
	return socktable.New(4, []socktable.Client{
		{ClientID: 1, InUse: true, SocketQuota: 4},
	})
}

func TestPumpTicksOnSignalAndFansOut(t *testing.T) {
	table := newTable()
	h, err := table.ReserveHandle(1, socktable.Dgram, "sock")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	_ = table.Mutate(h, 1, func(s *socktable.Slot) error {
		s.EventMask.Set(events.BitRead)
		return nil
	})

	var notified []int
	var mu sync.Mutex
	notifier := pump.NotifierFunc(func(idx int) {
		mu.Lock()
		notified = append(notified, idx)
		mu.Unlock()
	})

	eng := &stubEngine{}
	p := pump.New(eng, table, notifier, 8, nil)

	signal := make(chan struct{}, 1)
	signal <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = p.Run(ctx, signal)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notified) == 0 {
		t.Fatal("expected at least one notification")
	}
}

func TestPumpGracefulExitIsError(t *testing.T) {
	table := newTable()
	eng := &stubEngine{}
	p := pump.New(eng, table, nil, 8, nil)

	signal := make(chan struct{})
	close(signal)

	err := p.Run(context.Background(), signal)
	if err == nil {
		t.Fatal("expected graceful signal closure to be treated as an error")
	}
}

func TestPumpPropagatesEngineError(t *testing.T) {
	table := newTable()
	boom := errors.New("boom")
	eng := &stubEngine{tickErr: boom}
	p := pump.New(eng, table, nil, 8, nil)

	signal := make(chan struct{}, 1)
	signal <- struct{}{}

	err := p.Run(context.Background(), signal)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
