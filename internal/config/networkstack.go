package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hensoldt-cyber/networkstackd/internal/clock"
	"github.com/hensoldt-cyber/networkstackd/internal/engine"
	enginefake "github.com/hensoldt-cyber/networkstackd/internal/engine/fake"
	"github.com/hensoldt-cyber/networkstackd/internal/lifecycle"
	"github.com/hensoldt-cyber/networkstackd/internal/logging"
	"github.com/hensoldt-cyber/networkstackd/internal/metrics"
	"github.com/hensoldt-cyber/networkstackd/internal/nic"
	nicfake "github.com/hensoldt-cyber/networkstackd/internal/nic/fake"
	"github.com/hensoldt-cyber/networkstackd/internal/pump"
	"github.com/hensoldt-cyber/networkstackd/internal/rpc"
	"github.com/hensoldt-cyber/networkstackd/internal/socktable"

	"golang.org/x/sync/errgroup"
)

var _ Component = (*NetworkStack)(nil)

// ClientConfig is one entry of the statically configured client table,
// decoded from viper via mapstructure.
type ClientConfig struct {
	ClientID    int32 `mapstructure:"client_id"`
	SocketQuota int   `mapstructure:"socket_quota"`
}

// Settings is the decoded configuration tree for the network stack
// component: pool sizing, ring length, hardcoded IP alternative, and the
// client quota table.
type Settings struct {
	NumSockets     int            `mapstructure:"num_sockets"`
	RingLength     int            `mapstructure:"ring_length"`
	LoopScore      int            `mapstructure:"loop_score"`
	DataportSize   int            `mapstructure:"dataport_size"`
	HardcodedIP    bool           `mapstructure:"hardcoded_ip"`
	DevAddr        string         `mapstructure:"dev_addr"`
	GatewayAddr    string         `mapstructure:"gateway_addr"`
	SubnetMask     string         `mapstructure:"subnet_mask"`
	Clients        []ClientConfig `mapstructure:"clients"`
}

func DefaultSettings() Settings {
	return Settings{
		NumSockets:   32,
		RingLength:   16,
		LoopScore:    16,
		DataportSize: 4096,
	}
}

// NetworkStack wires socktable, engine adapter, NIC transport, pump, rpc
// server and lifecycle machine together as a single config.Component:
// Init/Start/Reload/Stop around a settings struct decoded from viper.
type NetworkStack struct {
	key string
	log logging.FuncLog
	vpr FuncViper

	mu       sync.Mutex
	started  bool
	settings Settings

	table     *socktable.Table
	adapter   *engine.Adapter
	machine   *lifecycle.Machine
	pump      *pump.Pump
	rpcServer *rpc.Server
	metrics   *metrics.Collector
	notifier  *pump.ChannelNotifier
	clock     clock.Source

	cancel     context.CancelFunc
	group      *errgroup.Group
	machineErr error
	pumpErr    error

	beforeStart, afterStart   FuncCptEvent
	beforeReload, afterReload FuncCptEvent
}

func NewNetworkStack() *NetworkStack {
	return &NetworkStack{}
}

func (n *NetworkStack) Type() string { return "networkstack" }

func (n *NetworkStack) Init(key string, ctx context.Context, get FuncCptGet, vpr FuncViper, log logging.FuncLog) {
	n.key = key
	n.vpr = vpr
	n.log = log
}

func (n *NetworkStack) RegisterFuncStart(before, after FuncCptEvent) {
	n.beforeStart, n.afterStart = before, after
}

func (n *NetworkStack) RegisterFuncReload(before, after FuncCptEvent) {
	n.beforeReload, n.afterReload = before, after
}

func (n *NetworkStack) RegisterFlag(cmd *cobra.Command) error {
	cmd.PersistentFlags().Int("num-sockets", 32, "size of the fixed socket slot pool")
	cmd.PersistentFlags().String("dev-addr", "", "static device IPv4 address (skips the runtime configuration handshake)")
	cmd.PersistentFlags().String("gateway-addr", "", "static gateway IPv4 address")
	cmd.PersistentFlags().String("subnet-mask", "", "static subnet mask")
	return nil
}

func (n *NetworkStack) IsStarted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started
}

func (n *NetworkStack) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started && n.machine != nil && n.machine.State() == lifecycle.Running
}

func (n *NetworkStack) DefaultConfig() interface{} {
	d := DefaultSettings()
	return &d
}

func (n *NetworkStack) Dependencies() []string { return nil }

// Server returns the RPC surface, once Start has completed.
func (n *NetworkStack) Server() *rpc.Server {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rpcServer
}

// Metrics returns the Prometheus collector, once Start has completed.
func (n *NetworkStack) Metrics() *metrics.Collector {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.metrics
}

// Notifier returns the per-client wakeup dispatcher, once Start has
// completed. A transport layer can Register a client index to obtain its
// wakeup channel.
func (n *NetworkStack) Notifier() *pump.ChannelNotifier {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.notifier
}

func (n *NetworkStack) decodeSettings() (Settings, error) {
	s := DefaultSettings()
	if n.vpr == nil {
		return s, nil
	}
	v := n.vpr()
	if v == nil {
		return s, nil
	}
	sub := v.Sub(n.key)
	if sub == nil {
		return s, nil
	}
	var out Settings
	if err := mapstructure.Decode(sub.AllSettings(), &out); err != nil {
		return s, fmt.Errorf("decode networkstack config: %w", err)
	}
	if out.NumSockets == 0 {
		out.NumSockets = s.NumSockets
	}
	if out.RingLength == 0 {
		out.RingLength = s.RingLength
	}
	if out.LoopScore == 0 {
		out.LoopScore = s.LoopScore
	}
	if out.DataportSize == 0 {
		out.DataportSize = s.DataportSize
	}
	return out, nil
}

func (n *NetworkStack) Start() error {
	if n.beforeStart != nil {
		if err := n.beforeStart(); err != nil {
			return err
		}
	}

	settings, err := n.decodeSettings()
	if err != nil {
		return err
	}

	log := logging.Nop()
	if n.log != nil {
		log = n.log()
	}

	clients := make([]socktable.Client, 0, len(settings.Clients))
	for _, c := range settings.Clients {
		clients = append(clients, socktable.Client{
			ClientID:    socktable.ClientID(c.ClientID),
			InUse:       true,
			SocketQuota: c.SocketQuota,
		})
	}

	table := socktable.New(settings.NumSockets, clients)
	eng := enginefake.New()
	adapter := engine.NewAdapter(table, eng)
	eng.SetCallbacks(adapter.OnReadable, adapter.OnAcceptReady)

	drv := nicfake.New()
	ring := nic.NewRingTransport(drv, settings.RingLength)
	dev := nic.NewDeviceAdapter(ring)
	if err := eng.RegisterDevice(dev); err != nil {
		return err
	}

	mc := metrics.New()

	hardcoded := settings.HardcodedIP
	machine := lifecycle.New(log, len(clients), hardcoded)
	if hardcoded {
		machine.PreloadHardcoded(lifecycle.IPConfig{
			DevAddr:     settings.DevAddr,
			GatewayAddr: settings.GatewayAddr,
			SubnetMask:  settings.SubnetMask,
		})
	}

	notifier := pump.NewChannelNotifier()
	for _, c := range clients {
		notifier.Register(table.ClientIndex(c.ClientID))
	}

	pmp := pump.New(eng, table, notifier, settings.LoopScore, log)
	pmp.Metrics = mc
	srv := rpc.New(machine, table, adapter, pmp, log)
	srv.Metrics = mc

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := machine.Start(gctx, func(cfg lifecycle.IPConfig) error {
			if err := machine.RegisterClients(clientIDs(clients), len(clients)); err != nil {
				return err
			}
			log.Info("network stack initialized",
				logging.F("dev_addr", cfg.DevAddr),
				logging.F("num_sockets", settings.NumSockets),
			)
			return nil
		})
		n.recordExit(&n.machineErr, err)
		return err
	})

	clk := clock.NewReal()
	tick := make(chan struct{}, 1)

	forwardClockTick := func() {
		for {
			select {
			case <-gctx.Done():
				return
			case _, ok := <-clk.Tick():
				if !ok {
					return
				}
				select {
				case tick <- struct{}{}:
				default:
				}
			}
		}
	}
	forwardSignal := func(in <-chan struct{}) {
		for {
			select {
			case <-gctx.Done():
				return
			case _, ok := <-in:
				if !ok {
					return
				}
				select {
				case tick <- struct{}{}:
				default:
				}
			}
		}
	}

	go forwardClockTick()
	if nd, ok := any(drv).(nic.NotifyingDriver); ok {
		go forwardSignal(nd.DataReady())
	}

	group.Go(func() error {
		err := pmp.Run(gctx, tick)
		if err != nil && !errors.Is(err, context.Canceled) {
			machine.Abort(err)
		}
		n.recordExit(&n.pumpErr, err)
		return err
	})

	n.mu.Lock()
	n.settings = settings
	n.table = table
	n.adapter = adapter
	n.machine = machine
	n.pump = pmp
	n.rpcServer = srv
	n.metrics = mc
	n.notifier = notifier
	n.clock = clk
	n.cancel = cancel
	n.group = group
	n.started = true
	n.mu.Unlock()

	if n.afterStart != nil {
		return n.afterStart()
	}
	return nil
}

// recordExit stashes the exit error of a supervised goroutine under the
// component lock, so Stop can aggregate both without racing Start's
// writer goroutines.
func (n *NetworkStack) recordExit(dst *error, err error) {
	n.mu.Lock()
	*dst = err
	n.mu.Unlock()
}

func clientIDs(clients []socktable.Client) []socktable.ClientID {
	out := make([]socktable.ClientID, len(clients))
	for i, c := range clients {
		out[i] = c.ClientID
	}
	return out
}

func (n *NetworkStack) Reload() error {
	if n.beforeReload != nil {
		if err := n.beforeReload(); err != nil {
			return err
		}
	}
	if n.afterReload != nil {
		return n.afterReload()
	}
	return nil
}

// Stop cancels both supervised goroutines (lifecycle machine and pump),
// waits for both, and logs whichever of their exit errors are not plain
// context cancellation, aggregated via go-multierror so a single shutdown
// spanning two independent failures is reported as one event instead of
// only the first error errgroup happened to observe.
func (n *NetworkStack) Stop() {
	n.mu.Lock()
	cancel := n.cancel
	group := n.group
	clk := n.clock
	n.started = false
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if group != nil {
		_ = group.Wait()
	}
	if clk != nil {
		clk.Stop()
	}

	n.mu.Lock()
	log := n.log
	var result *multierror.Error
	for _, err := range []error{n.machineErr, n.pumpErr} {
		if err != nil && !errors.Is(err, context.Canceled) {
			result = multierror.Append(result, err)
		}
	}
	n.mu.Unlock()

	if err := result.ErrorOrNil(); err != nil {
		l := logging.Nop()
		if log != nil {
			l = log()
		}
		l.Error("network stack shutdown reported errors", logging.F("error", err.Error()))
	}
}
