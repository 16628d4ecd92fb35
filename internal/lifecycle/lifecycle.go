// Package lifecycle implements the component state machine and the
// runtime IP-configuration handshake: the
// {UNINITIALIZED -> INITIALIZED -> RUNNING -> FATAL_ERROR} states that
// gate every RPC.
package lifecycle

import (
	"context"
	"net"
	"sync"

	"github.com/hensoldt-cyber/networkstackd/internal/errkind"
	"github.com/hensoldt-cyber/networkstackd/internal/logging"
	"github.com/hensoldt-cyber/networkstackd/internal/socktable"
)

type State int

const (
	Uninitialized State = iota
	Initialized
	Running
	FatalError
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Initialized:
		return "INITIALIZED"
	case Running:
		return "RUNNING"
	case FatalError:
		return "FATAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// IPConfig is the IPv4 textual triple validated by ConfigureIP.
type IPConfig struct {
	DevAddr     string
	GatewayAddr string
	SubnetMask  string
}

func isValidIPv4(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

// Validate returns InvalidParameter unless all three fields parse as
// dotted-quad IPv4.
func (c IPConfig) Validate() error {
	if !isValidIPv4(c.DevAddr) || !isValidIPv4(c.GatewayAddr) || !isValidIPv4(c.SubnetMask) {
		return errkind.InvalidParameter.Err()
	}
	return nil
}

// InitFunc performs stack + NIC initialization once IP config is ready.
// Supplied by the owning component (lifecycle knows nothing about engine
// or nic package internals, keeping the dependency direction one-way).
type InitFunc func(cfg IPConfig) error

// Machine owns the component state and the IP-config gate.
type Machine struct {
	log logging.Logger

	mu          sync.Mutex
	state       State
	hardcoded   bool
	ipConfig    *IPConfig
	ready       chan struct{}
	readyClosed bool

	maxClients int
}

// New creates a Machine. If hardcoded is true, ConfigureIP is rejected
// (OperationDenied) and the caller must supply cfg to PreloadHardcoded
// before Start, matching the compile-time-baked alternative to the
// runtime handshake.
func New(log logging.Logger, maxClients int, hardcoded bool) *Machine {
	if log == nil {
		log = logging.Nop()
	}
	return &Machine{
		log:        log,
		state:      Uninitialized,
		hardcoded:  hardcoded,
		maxClients: maxClients,
		ready:      make(chan struct{}),
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CheckRunning implements the RPC surface's state gate: RUNNING passes,
// FATAL_ERROR is ABORTED, anything else is NOT_INITIALIZED.
func (m *Machine) CheckRunning() error {
	switch m.State() {
	case Running:
		return nil
	case FatalError:
		return errkind.Aborted.Err()
	default:
		return errkind.NotInitialized.Err()
	}
}

// ConfigureIP validates and freezes the IP configuration. Only legal in
// UNINITIALIZED; rejected outside that state (InvalidState), or always
// when the component was built with a hardcoded IP (OperationDenied).
func (m *Machine) ConfigureIP(cfg IPConfig) error {
	if m.hardcoded {
		return errkind.OperationDenied.Err()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Uninitialized {
		return errkind.InvalidState.Err()
	}
	m.ipConfig = &cfg
	if !m.readyClosed {
		close(m.ready)
		m.readyClosed = true
	}
	return nil
}

// PreloadHardcoded installs a build-baked IP config, skipping the
// configure-then-yield phase entirely.
func (m *Machine) PreloadHardcoded(cfg IPConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ipConfig = &cfg
	if !m.readyClosed {
		close(m.ready)
		m.readyClosed = true
	}
}

// RegisterClients bounds-checks the connected-client count against both
// maxClients and the length of the static configuration array.
func (m *Machine) RegisterClients(ids []socktable.ClientID, configuredLen int) error {
	if len(ids) > m.maxClients {
		return errkind.OutOfBounds.Err()
	}
	if len(ids) > configuredLen {
		return errkind.OutOfBounds.Err()
	}
	for _, id := range ids {
		m.log.Info("client connected", logging.F("client_id", int32(id)))
	}
	return nil
}

// Start blocks until IP configuration is available (joined here with ctx
// cancellation via golang.org/x/sync/errgroup at the call site), then runs
// init, transitioning INITIALIZED -> RUNNING on success or FATAL_ERROR on
// failure.
func (m *Machine) Start(ctx context.Context, init InitFunc) error {
	select {
	case <-m.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	cfg := *m.ipConfig
	m.mu.Unlock()

	m.log.Info("starting network stack",
		logging.F("dev_addr", cfg.DevAddr),
		logging.F("gateway_addr", cfg.GatewayAddr),
		logging.F("subnet_mask", cfg.SubnetMask),
	)

	if err := init(cfg); err != nil {
		m.transition(FatalError)
		m.log.Error("network stack init failed", logging.F("error", err.Error()))
		return err
	}

	m.transition(Initialized)
	m.transition(Running)
	return nil
}

// Abort forces the machine into FATAL_ERROR, used by the pump when a fatal
// internal invariant (queue overflow, unexpected driver behavior) is hit.
func (m *Machine) Abort(reason error) {
	m.transition(FatalError)
	if reason != nil {
		m.log.Error("network stack aborted", logging.F("reason", reason.Error()))
	}
}

func (m *Machine) transition(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}
