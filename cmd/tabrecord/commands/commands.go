// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands assembles the tabrecord command tree.
package commands

import (
	"fmt"
	"os"

	"github.com/bureau-foundation/tabrecord/cmd/tabrecord/cli"
	"github.com/bureau-foundation/tabrecord/lib/version"
)

// Root returns the top-level command.
func Root() *cli.Command {
	return &cli.Command{
		Name: "tabrecord",
		Description: `tabrecord records a page to a WebM file.

An orchestrator process owns the recording state. A page host serves
the page and runs its capture agent. The start, stop, and status
commands are control surfaces that talk to the orchestrator over the
socket bus.`,
		Examples: []cli.Example{
			{Description: "Run the orchestrator", Command: "tabrecord orchestrator"},
			{Description: "Serve a page backed by the X11 display", Command: "tabrecord host --url https://example.com"},
			{Description: "Record until stopped", Command: "tabrecord start && sleep 30 && tabrecord stop"},
		},
		Subcommands: []*cli.Command{
			orchestratorCommand(),
			hostCommand(),
			startCommand(),
			stopCommand(),
			statusCommand(),
			settingsCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: noArgs(func() error {
					fmt.Fprintln(os.Stdout, version.Full())
					return nil
				}),
			},
		},
	}
}
