// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the tabrecord
// binary: a tree of [Command] values with pflag flag sets, structured
// help, and typo suggestions for unknown commands and flags.
//
// Commands return errors. An [ExitError] carries a non-zero exit code
// for commands that have already written their own output.
package cli
