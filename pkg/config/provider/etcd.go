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

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdProvider loads settings from an etcd key and watches it.
type EtcdProvider struct {
	client *clientv3.Client
	path   string
}

// NewEtcdProvider creates a provider reading from an etcd key.
func NewEtcdProvider(endpoints []string, path string) (*EtcdProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("etcd key path is required")
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	return &EtcdProvider{
		client: client,
		path:   path,
	}, nil
}

// Type returns TypeEtcd.
func (p *EtcdProvider) Type() Type {
	return TypeEtcd
}

// Load reads the settings key from etcd.
func (p *EtcdProvider) Load(ctx context.Context) ([]byte, error) {
	resp, err := p.client.Get(ctx, p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read etcd key %s: %w", p.path, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcd key %s not found", p.path)
	}

	return resp.Kvs[0].Value, nil
}

// Watch subscribes to changes of the settings key.
func (p *EtcdProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	watchChan := p.client.Watch(ctx, p.path)

	go func() {
		defer close(ch)

		for resp := range watchChan {
			if err := resp.Err(); err != nil {
				slog.Error("Etcd watch error", "path", p.path, "error", err)
				continue
			}

			changed := false
			for _, ev := range resp.Events {
				switch ev.Type {
				case clientv3.EventTypePut:
					changed = true
				case clientv3.EventTypeDelete:
					slog.Warn("Etcd key was deleted", "path", p.path)
				}
			}
			if !changed {
				continue
			}

			select {
			case ch <- struct{}{}:
				slog.Debug("Etcd key changed", "path", p.path)
			default:
			}
		}
	}()

	slog.Info("Watching etcd key", "path", p.path)
	return ch, nil
}

// Close closes the etcd client connection.
func (p *EtcdProvider) Close() error {
	return p.client.Close()
}

var _ Provider = (*EtcdProvider)(nil)
