// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tabrecord/cmd/tabrecord/cli"
	"github.com/bureau-foundation/tabrecord/lib/bus"
	"github.com/bureau-foundation/tabrecord/lib/config"
	"github.com/bureau-foundation/tabrecord/lib/settings"
	"github.com/bureau-foundation/tabrecord/lib/transfer"
)

// globalFlags are accepted by every command that touches the bus.
type globalFlags struct {
	configPath string
	verbose    bool
}

func (g *globalFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&g.configPath, "config", "", "config file (default $"+config.EnvironmentVariable+", then built-in defaults)")
	flagSet.BoolVarP(&g.verbose, "verbose", "v", false, "log at debug level")
}

// environment is the loaded config plus the bus it names.
type environment struct {
	config *config.Config
	logger *slog.Logger
	bus    *bus.Socket
}

func (g *globalFlags) load(command string) (*environment, error) {
	logger := cli.NewCommandLogger(g.verbose).With("command", command)

	cfg, err := config.Resolve(g.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	socket, err := bus.NewSocket(bus.SocketOptions{
		Directory:      cfg.Bus.SocketDirectory,
		Timeout:        cfg.Bus.RequestTimeoutDuration(),
		MaxMessageSize: cfg.Bus.MaxMessageSize,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	return &environment{config: cfg, logger: logger, bus: socket}, nil
}

// settingsStore opens the configured preference store. The returned
// function releases it.
func (e *environment) settingsStore() (settings.Store, func() error) {
	if e.config.Settings.RedisAddress == "" {
		return settings.NewFileStore(e.config.Settings.File), func() error { return nil }
	}
	client := redis.NewClient(&redis.Options{Addr: e.config.Settings.RedisAddress})
	e.logger.Info("using redis settings store", "address", e.config.Settings.RedisAddress, "key", e.config.Settings.RedisKey)
	return settings.NewRedisStore(client, e.config.Settings.RedisKey), client.Close
}

func (e *environment) senderOptions() (transfer.SenderOptions, error) {
	compression, err := transfer.ParseCompression(e.config.Transfer.Compression)
	if err != nil {
		return transfer.SenderOptions{}, err
	}
	backoff := e.config.Transfer.RetryBackoffDuration()
	return transfer.SenderOptions{
		ChunkSize:          e.config.Transfer.ChunkSize,
		SingleMessageLimit: e.config.Transfer.SingleMessageLimit,
		AckTimeout:         e.config.Transfer.AckTimeoutDuration(),
		Retry: transfer.RetryPolicy{
			MaxAttempts:    e.config.Transfer.RetryAttempts,
			InitialBackoff: backoff,
			MaxBackoff:     8 * backoff,
		},
		Compression: compression,
		Logger:      e.logger,
	}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
