// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command tabrecord records pages to WebM files. See "tabrecord --help".
package main

import (
	"os"

	"github.com/bureau-foundation/tabrecord/cmd/tabrecord/commands"
	"github.com/bureau-foundation/tabrecord/lib/process"
)

func main() {
	process.Exit(run())
}

func run() error {
	return commands.Root().Execute(os.Args[1:])
}
