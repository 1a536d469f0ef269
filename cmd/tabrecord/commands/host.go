// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tabrecord/cmd/tabrecord/cli"
	"github.com/bureau-foundation/tabrecord/lib/agent"
	"github.com/bureau-foundation/tabrecord/lib/host"
	"github.com/bureau-foundation/tabrecord/lib/host/hostbus"
	"github.com/bureau-foundation/tabrecord/lib/host/statichost"
	"github.com/bureau-foundation/tabrecord/lib/media/ffmpeg"
)

type hostFlags struct {
	globalFlags
	url    string
	pageID string
	title  string
	input  string
}

func hostCommand() *cli.Command {
	var flags hostFlags
	return &cli.Command{
		Name:    "host",
		Summary: "Serve one capturable page backed by ffmpeg",
		Description: `Serve a single page to the orchestrator and run its capture agent.

Every capture prompt is granted the configured ffmpeg input (or
--input), so "start" records that input without interaction. Alerts,
notifications, and the recording indicator are printed to stderr.`,
		Usage: "tabrecord host --url URL [--input FORMAT:INPUT] [flags]",
		Examples: []cli.Example{
			{
				Description: "Record the X11 display as if it were a web page",
				Command:     "tabrecord host --url https://example.com --input x11grab::0.0",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("host", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVar(&flags.url, "url", "", "URL reported for the page (required)")
			flagSet.StringVar(&flags.pageID, "page-id", "page", "page identifier on the bus")
			flagSet.StringVar(&flags.title, "title", "", "page title")
			flagSet.StringVar(&flags.input, "input", "", "ffmpeg input spec (default from config)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if flags.url == "" {
				return errors.New("--url is required")
			}
			env, err := flags.load("host")
			if err != nil {
				return err
			}
			if flags.input != "" {
				env.config.FFmpeg.Input = flags.input
			}
			ctx, cancel := signalContext()
			defer cancel()
			return runHost(ctx, env, host.Page{ID: flags.pageID, URL: flags.url, Title: flags.title})
		},
	}
}

func runHost(ctx context.Context, env *environment, page host.Page) error {
	if _, err := ffmpeg.ParseInput(env.config.FFmpeg.Input); err != nil {
		return fmt.Errorf("ffmpeg input: %w", err)
	}
	media, err := ffmpeg.New(ffmpeg.Options{
		Binary:     env.config.FFmpeg.Binary,
		AudioInput: env.config.FFmpeg.AudioInput,
		KillAfter:  env.config.FFmpeg.KillAfterDuration(),
		Logger:     env.logger,
	})
	if err != nil {
		return err
	}
	senderOptions, err := env.senderOptions()
	if err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		current *agent.Agent
		pages   *statichost.Host
	)
	inject := func(ctx context.Context, pageID string) error {
		mu.Lock()
		defer mu.Unlock()
		instance, err := agent.Attach(env.bus, agent.Options{
			PageID:    pageID,
			Media:     media,
			Alerter:   pages,
			Indicator: pages,
			Transfer:  senderOptions,
			Logger:    env.logger,
		})
		if err != nil {
			return err
		}
		if current != nil {
			current.Close()
		}
		current = instance
		return nil
	}

	pages, err = statichost.New(statichost.Options{
		Page:   page,
		Input:  env.config.FFmpeg.Input,
		Inject: inject,
		Output: os.Stderr,
		Logger: env.logger,
	})
	if err != nil {
		return err
	}

	conn, err := hostbus.Serve(env.bus, pages, env.logger)
	if err != nil {
		return fmt.Errorf("serving page host: %w", err)
	}
	defer conn.Close()

	if err := pages.InjectAgent(ctx, page.ID, false); err != nil && !errors.Is(err, host.ErrAgentPresent) {
		return err
	}
	env.logger.Info("page host running", "page_id", page.ID, "url", page.URL, "input", env.config.FFmpeg.Input)

	<-ctx.Done()
	env.logger.Info("page host shutting down")

	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		// Delivers an in-progress recording before detaching.
		return current.Close()
	}
	return nil
}
