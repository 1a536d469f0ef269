// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package settings holds the recorder's user preferences and the
// key-value stores that persist them across restarts.
//
// A [Store] is a flat map of setting keys to JSON-compatible values.
// [Load] and [Save] translate between a store and the typed
// [Settings]; [Apply] validates a partial update from a control
// surface before it is written.
package settings

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// Setting keys as stored.
const (
	KeyShortcut      = "shortcut"
	KeyShowStatusBar = "show_status_bar"
	KeySaveDirectory = "save_directory"
	KeyAudioEnabled  = "audio_enabled"
	KeyVideoQuality  = "video_quality"
)

// Keys lists every known setting key.
var Keys = []string{KeyShortcut, KeyShowStatusBar, KeySaveDirectory, KeyAudioEnabled, KeyVideoQuality}

// DefaultShortcut is the recording hotkey written on first run.
const DefaultShortcut = "Alt+Shift+X"

// Quality selects an encoder bitrate preset.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// Bitrates returns the video and audio bitrates for the preset.
// Unknown values fall back to high.
func (q Quality) Bitrates() (video, audio int) {
	switch q {
	case QualityMedium:
		return 1_200_000, 96_000
	case QualityLow:
		return 600_000, 64_000
	default:
		return 2_500_000, 128_000
	}
}

// Settings are the user's recording preferences.
type Settings struct {
	Shortcut      string  `json:"shortcut"`
	ShowStatusBar bool    `json:"show_status_bar"`
	SaveDirectory string  `json:"save_directory"`
	AudioEnabled  bool    `json:"audio_enabled"`
	VideoQuality  Quality `json:"video_quality"`
}

// Defaults returns the first-run settings.
func Defaults() Settings {
	return Settings{
		Shortcut:      DefaultShortcut,
		ShowStatusBar: true,
		AudioEnabled:  true,
		VideoQuality:  QualityHigh,
	}
}

// Values returns s as a store map.
func (s Settings) Values() map[string]any {
	return map[string]any{
		KeyShortcut:      s.Shortcut,
		KeyShowStatusBar: s.ShowStatusBar,
		KeySaveDirectory: s.SaveDirectory,
		KeyAudioEnabled:  s.AudioEnabled,
		KeyVideoQuality:  string(s.VideoQuality),
	}
}

// Store is a persistent key-value settings store. Get omits keys that
// have never been set.
type Store interface {
	Get(ctx context.Context, keys []string) (map[string]any, error)
	Set(ctx context.Context, values map[string]any) error
}

// Load reads every key from store over the defaults.
func Load(ctx context.Context, store Store) (Settings, error) {
	values, err := store.Get(ctx, Keys)
	if err != nil {
		return Settings{}, fmt.Errorf("loading settings: %w", err)
	}
	loaded, err := Apply(Defaults(), values)
	if err != nil {
		return Settings{}, fmt.Errorf("loading settings: %w", err)
	}
	return loaded, nil
}

// Save writes every key of s to store.
func Save(ctx context.Context, store Store, s Settings) error {
	if err := store.Set(ctx, s.Values()); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

// EnsureDefaults writes the default value of every key the store does
// not yet hold. Existing values are never overwritten.
func EnsureDefaults(ctx context.Context, store Store) error {
	present, err := store.Get(ctx, Keys)
	if err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}
	missing := Defaults().Values()
	maps.DeleteFunc(missing, func(key string, _ any) bool {
		_, exists := present[key]
		return exists
	})
	if len(missing) == 0 {
		return nil
	}
	if err := store.Set(ctx, missing); err != nil {
		return fmt.Errorf("writing default settings: %w", err)
	}
	return nil
}

// Apply returns current updated with patch. Unknown keys and values of
// the wrong type are rejected and current is returned unchanged.
func Apply(current Settings, patch map[string]any) (Settings, error) {
	next := current
	for _, key := range slices.Sorted(maps.Keys(patch)) {
		value := patch[key]
		switch key {
		case KeyShortcut:
			text, ok := value.(string)
			if !ok || text == "" {
				return current, fmt.Errorf("%s must be a non-empty string, got %v", key, value)
			}
			next.Shortcut = text
		case KeySaveDirectory:
			text, ok := value.(string)
			if !ok {
				return current, fmt.Errorf("%s must be a string, got %T", key, value)
			}
			next.SaveDirectory = text
		case KeyShowStatusBar, KeyAudioEnabled:
			flag, ok := value.(bool)
			if !ok {
				return current, fmt.Errorf("%s must be a boolean, got %T", key, value)
			}
			if key == KeyShowStatusBar {
				next.ShowStatusBar = flag
			} else {
				next.AudioEnabled = flag
			}
		case KeyVideoQuality:
			text, _ := value.(string)
			switch Quality(text) {
			case QualityHigh, QualityMedium, QualityLow:
				next.VideoQuality = Quality(text)
			default:
				return current, fmt.Errorf("%s must be high, medium, or low, got %v", key, value)
			}
		default:
			return current, fmt.Errorf("unknown setting %q", key)
		}
	}
	return next, nil
}
