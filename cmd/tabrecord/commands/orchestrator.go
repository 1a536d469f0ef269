// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tabrecord/cmd/tabrecord/cli"
	"github.com/bureau-foundation/tabrecord/lib/clock"
	"github.com/bureau-foundation/tabrecord/lib/config"
	"github.com/bureau-foundation/tabrecord/lib/host"
	"github.com/bureau-foundation/tabrecord/lib/host/hostbus"
	"github.com/bureau-foundation/tabrecord/lib/orchestrator"
	"github.com/bureau-foundation/tabrecord/lib/persist"
	"github.com/bureau-foundation/tabrecord/lib/settings"
	"github.com/bureau-foundation/tabrecord/lib/transfer"
)

func orchestratorCommand() *cli.Command {
	var flags globalFlags
	return &cli.Command{
		Name:    "orchestrator",
		Summary: "Run the recording orchestrator",
		Description: `Run the recording orchestrator until interrupted.

The orchestrator owns the recording state, starts capture agents
through the page host, reassembles delivered recordings, and writes
them to the configured directory. Exactly one orchestrator may run per
socket directory.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("orchestrator", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			env, err := flags.load("orchestrator")
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return runOrchestrator(ctx, env)
		},
	}
}

func runOrchestrator(ctx context.Context, env *environment) error {
	store, closeStore := env.settingsStore()
	defer closeStore()

	saver, err := persist.NewDirectorySaver(persist.DirectorySaverOptions{
		Directory: env.config.Persist.Directory,
		Override: func(ctx context.Context) string {
			preferences, err := settings.Load(ctx, store)
			if err != nil {
				return ""
			}
			return preferences.SaveDirectory
		},
		Recipients: env.config.Persist.Recipients,
		Logger:     env.logger,
	})
	if err != nil {
		return err
	}

	hostClient, err := hostbus.Dial(env.bus)
	if err != nil {
		return fmt.Errorf("connecting to page host: %w", err)
	}
	defer hostClient.Close()

	sources := make([]host.SourceKind, 0, len(env.config.Orchestrator.Sources))
	for _, source := range env.config.Orchestrator.Sources {
		sources = append(sources, host.SourceKind(source))
	}

	instance, err := orchestrator.Attach(ctx, env.bus, orchestrator.Options{
		Host:               hostClient,
		Persister:          persist.NewPersister(saver, clock.Real(), env.logger),
		Settings:           store,
		Sources:            sources,
		RestrictedPrefixes: env.config.Orchestrator.RestrictedPrefixes,
		InjectSettle:       env.config.Orchestrator.InjectSettleDuration(),
		MimeType:           env.config.Orchestrator.MimeType,
		FlushInterval:      env.config.Orchestrator.FlushIntervalDuration(),
		Receiver: transfer.ReceiverOptions{
			StaleAfter:   env.config.Transfer.StaleAfterDuration(),
			MaxTotalSize: env.config.Transfer.MaxTotalSize,
			MaxChunkSize: env.config.Bus.MaxMessageSize - config.EnvelopeHeadroom,
		},
		Logger: env.logger,
	})
	if err != nil {
		return err
	}

	env.logger.Info("orchestrator running",
		"socket_directory", env.config.Bus.SocketDirectory,
		"persist_directory", env.config.Persist.Directory,
		"encrypted", len(env.config.Persist.Recipients) > 0,
	)
	<-ctx.Done()
	env.logger.Info("orchestrator shutting down")
	return instance.Close()
}
