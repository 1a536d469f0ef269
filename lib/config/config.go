// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "TABRECORD_CONFIG"

// EnvelopeHeadroom is the part of bus.max_message_size reserved for
// the envelope and chunk fields around a transfer payload.
const EnvelopeHeadroom = 4096

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the master configuration for tabrecord.
type Config struct {
	Environment Environment `yaml:"environment"`

	Bus          BusConfig          `yaml:"bus"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Transfer     TransferConfig     `yaml:"transfer"`
	Persist      PersistConfig      `yaml:"persist"`
	Settings     SettingsConfig     `yaml:"settings"`
	FFmpeg       FFmpegConfig       `yaml:"ffmpeg"`

	// Per-environment sections, decoded over the base config when
	// Environment matches.
	Development yaml.Node `yaml:"development,omitempty"`
	Staging     yaml.Node `yaml:"staging,omitempty"`
	Production  yaml.Node `yaml:"production,omitempty"`
}

// BusConfig configures the unix-socket message bus.
type BusConfig struct {
	// SocketDirectory holds one socket per bus address.
	// Default: ${XDG_RUNTIME_DIR:-/tmp}/tabrecord
	SocketDirectory string `yaml:"socket_directory"`

	// RequestTimeout bounds every request without its own deadline.
	// Default: 30s
	RequestTimeout string `yaml:"request_timeout"`

	// MaxMessageSize limits one encoded envelope, in bytes.
	// Default: 1048576
	MaxMessageSize int `yaml:"max_message_size"`
}

// OrchestratorConfig configures session initiation.
type OrchestratorConfig struct {
	// InjectSettle is the wait between a forced agent injection and
	// the retried start_capture. Default: 500ms
	InjectSettle string `yaml:"inject_settle"`

	// RestrictedPrefixes are URL prefixes that can never be recorded.
	RestrictedPrefixes []string `yaml:"restricted_prefixes"`

	// Sources are offered in the capture prompt: tab, screen, window,
	// audio.
	Sources []string `yaml:"sources"`

	// MimeType is requested from the recorder.
	MimeType string `yaml:"mime_type"`

	// FlushInterval is how often the recorder emits a segment.
	// Default: 100ms
	FlushInterval string `yaml:"flush_interval"`
}

// TransferConfig configures chunked delivery from agent to
// orchestrator.
type TransferConfig struct {
	ChunkSize          int `yaml:"chunk_size"`
	SingleMessageLimit int `yaml:"single_message_limit"`

	// AckTimeout bounds each acknowledgment. Default: 30s
	AckTimeout string `yaml:"ack_timeout"`

	// RetryAttempts counts the first send; 1 disables retry.
	RetryAttempts int    `yaml:"retry_attempts"`
	RetryBackoff  string `yaml:"retry_backoff"`

	// Compression is none, lz4, zstd, or auto.
	Compression string `yaml:"compression"`

	// StaleAfter is the idle time after which a new begin may evict
	// an unfinished transfer. Default: 2m
	StaleAfter string `yaml:"stale_after"`

	// MaxTotalSize rejects larger recordings, in bytes. Recordings are
	// reassembled in memory, so this bounds the orchestrator's memory.
	// Default: 2147483648 (2 GiB)
	MaxTotalSize int64 `yaml:"max_total_size"`
}

// PersistConfig configures where recordings are written.
type PersistConfig struct {
	// Directory receives recordings. Default: ${HOME}/Videos
	Directory string `yaml:"directory"`

	// Recipients are age public keys; when set, recordings are
	// encrypted to all of them.
	Recipients []string `yaml:"recipients"`
}

// SettingsConfig selects the user preference store. RedisAddress wins
// over File when both are set.
type SettingsConfig struct {
	// File is a JSONC settings file.
	// Default: ${HOME}/.config/tabrecord/settings.jsonc
	File string `yaml:"file"`

	RedisAddress string `yaml:"redis_address"`

	// RedisKey is the hash holding the settings. Default: tabrecord:settings
	RedisKey string `yaml:"redis_key"`
}

// FFmpegConfig configures the ffmpeg-backed capture used by the
// single-page host.
type FFmpegConfig struct {
	// Binary is the ffmpeg executable. Default: ffmpeg
	Binary string `yaml:"binary"`

	// Input is the video input spec granted by the capture prompt,
	// "<format>:<input>". Default: x11grab::0.0
	Input string `yaml:"input"`

	// AudioInput is the audio input spec. Empty records video only.
	AudioInput string `yaml:"audio_input"`

	// KillAfter is how long a stopped ffmpeg gets to exit before it
	// is killed. Default: 10s
	KillAfter string `yaml:"kill_after"`
}

// Default returns the default configuration. It is the base every
// file is decoded over, and the whole configuration when no file is
// named.
func Default() *Config {
	return &Config{
		Environment: Development,
		Bus: BusConfig{
			SocketDirectory: "${XDG_RUNTIME_DIR:-/tmp}/tabrecord",
			RequestTimeout:  "30s",
			MaxMessageSize:  1 << 20,
		},
		Orchestrator: OrchestratorConfig{
			InjectSettle:       "500ms",
			RestrictedPrefixes: []string{"chrome://", "edge://", "about:", "chrome-extension://"},
			Sources:            []string{"tab", "audio"},
			MimeType:           "video/webm;codecs=vp8,opus",
			FlushInterval:      "100ms",
		},
		Transfer: TransferConfig{
			ChunkSize:          512 * 1024,
			SingleMessageLimit: 512 * 1024,
			AckTimeout:         "30s",
			RetryAttempts:      1,
			RetryBackoff:       "1s",
			Compression:        "none",
			StaleAfter:         "2m",
			MaxTotalSize:       2 << 30,
		},
		Persist: PersistConfig{
			Directory: "${HOME}/Videos",
		},
		Settings: SettingsConfig{
			File:     "${HOME}/.config/tabrecord/settings.jsonc",
			RedisKey: "tabrecord:settings",
		},
		FFmpeg: FFmpegConfig{
			Binary:    "ffmpeg",
			Input:     "x11grab::0.0",
			KillAfter: "10s",
		},
	}
}

// Load loads configuration from the file named by TABRECORD_CONFIG.
// It fails when the variable is not set.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your tabrecord.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// Resolve loads path if non-empty, else the file named by
// TABRECORD_CONFIG, else the expanded defaults.
func Resolve(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	if os.Getenv(EnvironmentVariable) != "" {
		return Load()
	}
	cfg := Default()
	cfg.expandVariables()
	return cfg, nil
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.applyEnvironmentOverrides(); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides decodes the section matching Environment
// over the base values.
func (c *Config) applyEnvironmentOverrides() error {
	var section yaml.Node
	switch c.Environment {
	case Development:
		section = c.Development
	case Staging:
		section = c.Staging
	case Production:
		section = c.Production
	}
	if section.Kind == 0 {
		return nil
	}

	environment := c.Environment
	if err := section.Decode(c); err != nil {
		return fmt.Errorf("%s section: %w", environment, err)
	}
	// A section cannot move the config to another environment.
	c.Environment = environment
	return nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Bus.SocketDirectory = expandVars(c.Bus.SocketDirectory, vars)
	c.Persist.Directory = expandVars(c.Persist.Directory, vars)
	c.Settings.File = expandVars(c.Settings.File, vars)
	c.FFmpeg.Binary = expandVars(c.FFmpeg.Binary, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, consulting
// vars before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var (
	validSources     = []string{"tab", "screen", "window", "audio"}
	validCompression = []string{"none", "lz4", "zstd", "auto"}
)

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Bus.SocketDirectory == "" {
		errs = append(errs, errors.New("bus.socket_directory is required"))
	}
	if c.Bus.MaxMessageSize < 2*EnvelopeHeadroom {
		errs = append(errs, fmt.Errorf("bus.max_message_size must be at least %d, got %d", 2*EnvelopeHeadroom, c.Bus.MaxMessageSize))
	}

	durations := []struct {
		name, value string
	}{
		{"bus.request_timeout", c.Bus.RequestTimeout},
		{"orchestrator.inject_settle", c.Orchestrator.InjectSettle},
		{"orchestrator.flush_interval", c.Orchestrator.FlushInterval},
		{"transfer.ack_timeout", c.Transfer.AckTimeout},
		{"transfer.retry_backoff", c.Transfer.RetryBackoff},
		{"transfer.stale_after", c.Transfer.StaleAfter},
		{"ffmpeg.kill_after", c.FFmpeg.KillAfter},
	}
	for _, d := range durations {
		if _, err := parseDuration(d.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
		}
	}

	for _, source := range c.Orchestrator.Sources {
		if !slices.Contains(validSources, source) {
			errs = append(errs, fmt.Errorf("orchestrator.sources: %q must be one of: %v", source, validSources))
		}
	}

	if c.Transfer.ChunkSize <= 0 {
		errs = append(errs, errors.New("transfer.chunk_size must be positive"))
	}
	payloadLimit := c.Bus.MaxMessageSize - EnvelopeHeadroom
	if c.Transfer.ChunkSize > payloadLimit {
		errs = append(errs, fmt.Errorf("transfer.chunk_size %d must leave %d bytes for the envelope within bus.max_message_size %d",
			c.Transfer.ChunkSize, EnvelopeHeadroom, c.Bus.MaxMessageSize))
	}
	if c.Transfer.SingleMessageLimit > payloadLimit {
		errs = append(errs, fmt.Errorf("transfer.single_message_limit %d must leave %d bytes for the envelope within bus.max_message_size %d",
			c.Transfer.SingleMessageLimit, EnvelopeHeadroom, c.Bus.MaxMessageSize))
	}
	if c.Transfer.MaxTotalSize <= 0 {
		errs = append(errs, errors.New("transfer.max_total_size must be positive"))
	}
	if c.Transfer.RetryAttempts < 0 {
		errs = append(errs, errors.New("transfer.retry_attempts must not be negative"))
	}
	if !slices.Contains(validCompression, c.Transfer.Compression) {
		errs = append(errs, fmt.Errorf("transfer.compression must be one of: %v", validCompression))
	}

	if c.Persist.Directory == "" {
		errs = append(errs, errors.New("persist.directory is required"))
	}
	if c.Environment == Production && len(c.Persist.Recipients) == 0 {
		errs = append(errs, errors.New("persist.recipients is required in production"))
	}

	if c.Settings.File == "" && c.Settings.RedisAddress == "" {
		errs = append(errs, errors.New("settings.file or settings.redis_address is required"))
	}

	if c.FFmpeg.Input == "" {
		errs = append(errs, errors.New("ffmpeg.input is required"))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the socket, recording, and settings directories.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Bus.SocketDirectory, c.Persist.Directory}
	if c.Settings.RedisAddress == "" && c.Settings.File != "" {
		paths = append(paths, filepath.Dir(c.Settings.File))
	}
	for _, path := range paths {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

// parseDuration accepts an empty string as zero, leaving the package
// default in force.
func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", value)
	}
	return d, nil
}

// mustDuration is for accessors on a validated config.
func mustDuration(value string) time.Duration {
	d, _ := parseDuration(value)
	return d
}

func (b BusConfig) RequestTimeoutDuration() time.Duration { return mustDuration(b.RequestTimeout) }

func (o OrchestratorConfig) InjectSettleDuration() time.Duration {
	return mustDuration(o.InjectSettle)
}

func (o OrchestratorConfig) FlushIntervalDuration() time.Duration {
	return mustDuration(o.FlushInterval)
}

func (t TransferConfig) AckTimeoutDuration() time.Duration   { return mustDuration(t.AckTimeout) }
func (t TransferConfig) RetryBackoffDuration() time.Duration { return mustDuration(t.RetryBackoff) }
func (t TransferConfig) StaleAfterDuration() time.Duration   { return mustDuration(t.StaleAfter) }

func (f FFmpegConfig) KillAfterDuration() time.Duration { return mustDuration(f.KillAfter) }
