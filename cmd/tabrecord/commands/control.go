// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tabrecord/cmd/tabrecord/cli"
	"github.com/bureau-foundation/tabrecord/lib/control"
	"github.com/bureau-foundation/tabrecord/lib/protocol"
)

// withMirror loads the environment, opens a control surface, and runs
// fn with it.
func withMirror(flags *globalFlags, command string, fn func(ctx context.Context, mirror *control.Mirror) error) error {
	env, err := flags.load(command)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	mirror, err := control.Open(ctx, env.bus, control.Options{Logger: env.logger})
	if err != nil {
		return fmt.Errorf("contacting orchestrator (is 'tabrecord orchestrator' running?): %w", err)
	}
	defer mirror.Close()
	return fn(ctx, mirror)
}

func noArgs(run func() error) func(args []string) error {
	return func(args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unexpected argument: %s", args[0])
		}
		return run()
	}
}

func startCommand() *cli.Command {
	var flags globalFlags
	return &cli.Command{
		Name:    "start",
		Summary: "Start recording the active page",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("start", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: noArgs(func() error {
			return withMirror(&flags, "start", func(ctx context.Context, mirror *control.Mirror) error {
				result, err := mirror.Start(ctx)
				if err != nil {
					return err
				}
				if result.Cancelled {
					fmt.Fprintln(os.Stdout, "capture prompt dismissed; not recording")
					return &cli.ExitError{Code: 2}
				}
				if !result.State.Recording {
					return fmt.Errorf("recording on %s ended as soon as it started", result.PageID)
				}
				fmt.Fprintf(os.Stdout, "recording %s\n", result.PageID)
				return nil
			})
		}),
	}
}

func stopCommand() *cli.Command {
	var flags globalFlags
	return &cli.Command{
		Name:    "stop",
		Summary: "Stop recording and save the result",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("stop", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: noArgs(func() error {
			return withMirror(&flags, "stop", func(ctx context.Context, mirror *control.Mirror) error {
				if !mirror.Recording() {
					fmt.Fprintln(os.Stdout, "not recording")
					return nil
				}
				if err := mirror.Stop(ctx); err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, "stopped")
				return nil
			})
		}),
	}
}

func statusCommand() *cli.Command {
	var (
		flags      globalFlags
		watch      bool
		jsonOutput bool
	)
	return &cli.Command{
		Name:    "status",
		Summary: "Show whether a recording is in progress",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.BoolVarP(&watch, "watch", "w", false, "print every state change until interrupted")
			flagSet.BoolVar(&jsonOutput, "json", false, "print states as JSON lines")
			return flagSet
		},
		Run: noArgs(func() error {
			return withMirror(&flags, "status", func(ctx context.Context, mirror *control.Mirror) error {
				if err := printState(os.Stdout, mirror.State(), jsonOutput); err != nil {
					return err
				}
				if !watch {
					return nil
				}
				changes := mirror.Changes()
				for {
					select {
					case <-ctx.Done():
						return nil
					case state, ok := <-changes:
						if !ok {
							return nil
						}
						if err := printState(os.Stdout, state, jsonOutput); err != nil {
							return err
						}
					}
				}
			})
		}),
	}
}

func printState(w io.Writer, state protocol.RecordingState, jsonOutput bool) error {
	if jsonOutput {
		return json.NewEncoder(w).Encode(state)
	}
	if state.Recording {
		_, err := fmt.Fprintf(w, "recording %s (generation %d)\n", state.PageID, state.Generation)
		return err
	}
	_, err := fmt.Fprintf(w, "idle (generation %d)\n", state.Generation)
	return err
}
