// Package config defines the component lifecycle contract used to wire the
// network stack into a cobra/viper-driven daemon.
package config

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hensoldt-cyber/networkstackd/internal/logging"
)

// FuncCptGet resolves another registered component by key.
type FuncCptGet func(key string) Component

// FuncViper returns the shared viper instance.
type FuncViper func() *viper.Viper

// FuncCptEvent is a before/after lifecycle hook.
type FuncCptEvent func() error

// Component is the contract every top-level daemon component implements:
// type identity, dependency wiring, start/reload/stop, and flag/config
// registration.
type Component interface {
	Type() string

	Init(key string, ctx context.Context, get FuncCptGet, vpr FuncViper, log logging.FuncLog)

	RegisterFuncStart(before, after FuncCptEvent)
	RegisterFuncReload(before, after FuncCptEvent)
	RegisterFlag(cmd *cobra.Command) error

	IsStarted() bool
	IsRunning() bool

	Start() error
	Reload() error
	Stop()

	DefaultConfig() interface{}
	Dependencies() []string
}
