// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tabrecord/cmd/tabrecord/cli"
	"github.com/bureau-foundation/tabrecord/lib/control"
	"github.com/bureau-foundation/tabrecord/lib/settings"
)

func settingsCommand() *cli.Command {
	var showFlags, setFlags globalFlags
	return &cli.Command{
		Name:    "settings",
		Summary: "Show or change recording preferences",
		Subcommands: []*cli.Command{
			{
				Name:    "show",
				Summary: "Print the current preferences",
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
					showFlags.register(flagSet)
					return flagSet
				},
				Run: noArgs(func() error {
					return withMirror(&showFlags, "settings/show", func(ctx context.Context, mirror *control.Mirror) error {
						current, err := mirror.Settings(ctx)
						if err != nil {
							return err
						}
						return printSettings(os.Stdout, current)
					})
				}),
			},
			{
				Name:    "set",
				Summary: "Change one or more preferences",
				Usage:   "tabrecord settings set KEY=VALUE... [flags]",
				Description: "Change preferences. Known keys: " + strings.Join(settings.Keys, ", ") + ".\n" +
					"Boolean keys accept true or false.",
				Examples: []cli.Example{
					{Description: "Record at low quality without audio", Command: "tabrecord settings set video_quality=low audio_enabled=false"},
				},
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("set", pflag.ContinueOnError)
					setFlags.register(flagSet)
					return flagSet
				},
				Run: func(args []string) error {
					patch, err := parseAssignments(args)
					if err != nil {
						return err
					}
					return withMirror(&setFlags, "settings/set", func(ctx context.Context, mirror *control.Mirror) error {
						updated, err := mirror.UpdateSettings(ctx, patch)
						if err != nil {
							return err
						}
						return printSettings(os.Stdout, updated)
					})
				},
			},
		},
	}
}

var booleanKeys = []string{settings.KeyShowStatusBar, settings.KeyAudioEnabled}

// parseAssignments turns KEY=VALUE arguments into a settings patch.
func parseAssignments(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, errors.New("at least one KEY=VALUE is required")
	}
	patch := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", arg)
		}
		if !slices.Contains(booleanKeys, key) {
			patch[key] = value
			continue
		}
		flag, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a boolean", key, value)
		}
		patch[key] = flag
	}
	return patch, nil
}

func printSettings(w io.Writer, current settings.Settings) error {
	values := current.Values()
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	for _, key := range slices.Sorted(maps.Keys(values)) {
		fmt.Fprintf(tw, "%s\t%v\n", key, values[key])
	}
	return tw.Flush()
}
