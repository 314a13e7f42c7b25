// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 The web-extraction-agent authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/lsvishaal/web-extraction-agent/pkg/config/provider"
)

// Loader loads and watches serving settings from a Provider.
type Loader struct {
	provider provider.Provider
	onChange func(*Settings)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange sets a callback invoked when settings change.
func WithOnChange(fn func(*Settings)) LoaderOption {
	return func(l *Loader) {
		l.onChange = fn
	}
}

// NewLoader creates a Loader with the given provider.
func NewLoader(p provider.Provider, opts ...LoaderOption) *Loader {
	l := &Loader{
		provider: p,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads, parses, and processes the settings.
func (l *Loader) Load(ctx context.Context) (*Settings, error) {
	data, err := l.provider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	rawMap, err := parseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	expandedMap := expandEnvInMap(rawMap)

	settings := &Settings{}
	if err := decodeSettings(expandedMap, settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	settings.SetDefaults()

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("settings validation failed: %w", err)
	}

	return settings, nil
}

// Watch starts watching for settings changes.
// When changes are detected, the settings are reloaded and onChange is called.
// Blocks until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	changes, err := l.provider.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watching: %w", err)
	}

	if changes == nil {
		slog.Info("Settings watching not supported by provider", "type", l.provider.Type())
		<-ctx.Done()
		return ctx.Err()
	}

	slog.Info("Started watching for settings changes", "type", l.provider.Type())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-changes:
			if !ok {
				return nil
			}

			settings, err := l.Load(ctx)
			if err != nil {
				slog.Error("Failed to reload settings", "error", err)
				continue
			}

			slog.Info("Settings reloaded successfully")
			if l.onChange != nil {
				l.onChange(settings)
			}
		}
	}
}

// Close releases resources held by the loader.
func (l *Loader) Close() error {
	return l.provider.Close()
}

// Provider returns the underlying provider.
func (l *Loader) Provider() provider.Provider {
	return l.provider
}

// parseBytes parses raw bytes into a map.
// Supports YAML (primary) and JSON (fallback).
func parseBytes(data []byte) (map[string]any, error) {
	var result map[string]any

	// YAML is a superset of JSON, so try it first
	if err := yaml.Unmarshal(data, &result); err == nil {
		return result, nil
	}

	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse as YAML or JSON: %w", err)
	}

	return result, nil
}

// decodeSettings decodes a map into a Settings struct using mapstructure.
func decodeSettings(input map[string]any, output *Settings) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}

	return nil
}

// LoadSettings is a convenience function that creates a loader and loads
// settings from the configured provider.
func LoadSettings(ctx context.Context, opts provider.ProviderConfig) (*Settings, *Loader, error) {
	p, err := provider.New(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create provider: %w", err)
	}

	loader := NewLoader(p)
	settings, err := loader.Load(ctx)
	if err != nil {
		p.Close()
		return nil, nil, err
	}

	return settings, loader, nil
}

// LoadSettingsFile is a convenience function for loading from a file.
func LoadSettingsFile(ctx context.Context, path string) (*Settings, *Loader, error) {
	return LoadSettings(ctx, provider.ProviderConfig{
		Type: provider.TypeFile,
		Path: path,
	})
}

// DefaultSettings returns settings with all defaults applied, for running
// without a settings file.
func DefaultSettings() *Settings {
	settings := &Settings{}
	settings.SetDefaults()
	return settings
}
