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

package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/lsvishaal/web-extraction-agent/pkg/auth"
)

// IdentifierFunc derives the rate-limit identity of a request.
type IdentifierFunc func(r *http.Request) string

// DefaultIdentifier keys on the authenticated subject when the request
// carries validated claims, the client address otherwise.
func DefaultIdentifier(r *http.Request) string {
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil && claims.Subject != "" {
		return "sub:" + claims.Subject
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Middleware throttles requests through the limiter. Denied requests get
// 429 with Retry-After; every response carries the X-RateLimit headers.
func Middleware(l *Limiter, identify IdentifierFunc) func(http.Handler) http.Handler {
	if identify == nil {
		identify = DefaultIdentifier
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Allow(identify(r))
			if d.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
			}

			if !d.Allowed {
				retry := int64(d.RetryAfter.Seconds()) + 1
				w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error": "rate limit exceeded, retry in %ds"}`, retry)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
