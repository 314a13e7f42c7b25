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

package auth

import (
	"context"

	"github.com/a2aproject/a2a-go/a2asrv"
)

// Interceptor bridges validated Claims into a2a-go's CallContext.
//
// The flow: the HTTP middleware validates the JWT and stores Claims in the
// request context; the a2a-go handler invokes Before, which copies the
// Claims onto CallContext.User. JWT validation stays in plain HTTP
// middleware; a2a-go only ever sees the result.
type Interceptor struct {
	// RequireAuth rejects calls with no claims in context. That only
	// happens when the HTTP middleware was bypassed or misconfigured.
	RequireAuth bool
}

// NewInterceptor creates a call interceptor.
func NewInterceptor(requireAuth bool) *Interceptor {
	return &Interceptor{RequireAuth: requireAuth}
}

// Before runs ahead of each a2a-go request handler method.
func (i *Interceptor) Before(ctx context.Context, callCtx *a2asrv.CallContext, req *a2asrv.Request) (context.Context, error) {
	claims := ClaimsFromContext(ctx)
	if claims != nil {
		callCtx.User = &AuthenticatedUser{claims: claims}
	} else if i.RequireAuth {
		return ctx, ErrUnauthorized
	}
	return ctx, nil
}

// After runs after each a2a-go request handler method.
func (i *Interceptor) After(ctx context.Context, callCtx *a2asrv.CallContext, resp *a2asrv.Response) error {
	return nil
}

var _ a2asrv.CallInterceptor = (*Interceptor)(nil)

// AuthenticatedUser adapts Claims to the a2asrv.User interface.
type AuthenticatedUser struct {
	claims *Claims
}

// Name returns the token subject.
func (u *AuthenticatedUser) Name() string {
	if u.claims == nil {
		return ""
	}
	return u.claims.Subject
}

// Authenticated reports that this is a validated caller.
func (u *AuthenticatedUser) Authenticated() bool {
	return true
}

// Claims returns the full claim set.
func (u *AuthenticatedUser) Claims() *Claims {
	return u.claims
}

var _ a2asrv.User = (*AuthenticatedUser)(nil)

// ClaimsFromCallContext extracts Claims from an a2a-go CallContext.
// Returns nil for unauthenticated calls.
func ClaimsFromCallContext(callCtx *a2asrv.CallContext) *Claims {
	if callCtx == nil || callCtx.User == nil {
		return nil
	}
	if user, ok := callCtx.User.(*AuthenticatedUser); ok {
		return user.Claims()
	}
	return nil
}
