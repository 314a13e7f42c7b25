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

// Package ratelimit throttles requests per client on the serving layer.
//
// Counting is fixed-window and in-process: each identifier gets a
// counter that resets when its window expires. Agent runs are expensive
// (every request fans out to the model and tool subprocesses), so the
// limiter's job is protecting the host from a single noisy client, not
// accounting across replicas.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures a Limiter.
type Config struct {
	// Requests allowed per window per identifier.
	Requests int64

	// Window is the counting period. Defaults to one minute.
	Window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64

	// Reset is when the identifier's current window ends.
	Reset time.Time

	// RetryAfter is how long a denied caller should wait.
	RetryAfter time.Duration
}

type window struct {
	count int64
	end   time.Time
}

// Limiter counts requests per identifier in fixed windows.
type Limiter struct {
	limit  int64
	period time.Duration
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	nextSweep time.Time
}

// New creates a limiter. A non-positive request count disables limiting:
// Allow always permits.
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	return &Limiter{
		limit:   cfg.Requests,
		period:  cfg.Window,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow records one request for the identifier and decides whether it
// may proceed. Counting is record-then-check, so denied requests still
// consume their slot and keep a flooding client denied.
// Nil-safe: a nil limiter permits everything.
func (l *Limiter) Allow(identifier string) Decision {
	if l == nil || l.limit <= 0 {
		return Decision{Allowed: true}
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)

	w, ok := l.windows[identifier]
	if !ok || !w.end.After(now) {
		w = &window{end: now.Add(l.period)}
		l.windows[identifier] = w
	}
	w.count++

	remaining := l.limit - w.count
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Allowed:   w.count <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		Reset:     w.end,
	}
	if !d.Allowed {
		d.RetryAfter = w.end.Sub(now)
	}
	return d
}

// sweepLocked drops expired windows so idle identifiers do not
// accumulate. Runs at most once per period.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	l.nextSweep = now.Add(l.period)

	for id, w := range l.windows {
		if !w.end.After(now) {
			delete(l.windows, id)
		}
	}
}
