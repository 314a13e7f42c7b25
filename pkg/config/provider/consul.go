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

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/consul/api"
)

// ConsulProvider loads settings from a Consul KV key and watches it with
// blocking queries.
type ConsulProvider struct {
	client *api.Client
	path   string
}

// NewConsulProvider creates a provider reading from a Consul KV key.
func NewConsulProvider(endpoints []string, path string) (*ConsulProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("consul key path is required")
	}

	cfg := api.DefaultConfig()
	if len(endpoints) > 0 {
		cfg.Address = endpoints[0]
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulProvider{
		client: client,
		path:   path,
	}, nil
}

// Type returns TypeConsul.
func (p *ConsulProvider) Type() Type {
	return TypeConsul
}

// Load reads the settings key from Consul.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	pair, _, err := p.client.KV().Get(p.path, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.path, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", p.path)
	}

	return pair.Value, nil
}

// Watch starts a blocking-query loop on the settings key.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	go p.watchLoop(ctx, ch)

	slog.Info("Watching consul key", "path", p.path)
	return ch, nil
}

func (p *ConsulProvider) watchLoop(ctx context.Context, ch chan<- struct{}) {
	defer close(ch)

	var lastIndex uint64

	for {
		if ctx.Err() != nil {
			return
		}

		opts := (&api.QueryOptions{
			WaitIndex: lastIndex,
			WaitTime:  5 * time.Minute,
		}).WithContext(ctx)

		pair, meta, err := p.client.KV().Get(p.path, opts)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Consul blocking query failed", "path", p.path, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		// Index went backwards: Consul restarted or the KV was wiped.
		if meta.LastIndex < lastIndex {
			lastIndex = 0
			continue
		}

		if meta.LastIndex == lastIndex {
			// Wait timeout, nothing changed
			continue
		}

		first := lastIndex == 0
		lastIndex = meta.LastIndex

		if pair == nil {
			slog.Warn("Consul key was deleted", "path", p.path)
			continue
		}

		// The first query establishes the baseline, not a change.
		if first {
			continue
		}

		select {
		case ch <- struct{}{}:
			slog.Debug("Consul key changed", "path", p.path)
		default:
		}
	}
}

// Close releases resources. The Consul client holds no persistent
// connections, so this is a no-op.
func (p *ConsulProvider) Close() error {
	return nil
}

var _ Provider = (*ConsulProvider)(nil)
