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

// Package server exposes the web extraction agent over the A2A protocol.
//
// The package implements a2asrv.AgentExecutor on top of the application
// container and serves it through a2a-go's native JSON-RPC and gRPC
// handlers, together with an HTTP layer for the agent card, discovery,
// health, configuration schema, and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"

	"github.com/lsvishaal/web-extraction-agent/pkg/app"
	"github.com/lsvishaal/web-extraction-agent/pkg/observability"
)

// Executor bridges the lazily initialized application to A2A task requests.
//
// Event translation:
//   - New task: TaskStatusUpdateEvent with TaskStateSubmitted
//   - Before the agent run: TaskStateWorking
//   - Agent reply: one artifact event carrying the reply parts, LastChunk set
//   - On success: TaskStateCompleted, Final
//   - On failure: TaskStateFailed, Final, the error text as an agent message
type Executor struct {
	app *app.App
}

// NewExecutor creates an A2A executor backed by the application container.
func NewExecutor(application *app.App) *Executor {
	return &Executor{app: application}
}

// Execute implements a2asrv.AgentExecutor.
//
// Initialization happens here, not at server startup: the first request
// pays for configuration load, tool connection, and agent construction,
// and every later request reuses the result.
func (e *Executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	msg := reqCtx.Message
	if msg == nil {
		slog.Error("Execute: message not provided")
		return fmt.Errorf("message not provided")
	}

	if reqCtx.StoredTask == nil {
		event := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateSubmitted, nil)
		if err := queue.Write(ctx, event); err != nil {
			return fmt.Errorf("failed to write submitted event: %w", err)
		}
	}

	if err := e.app.EnsureReady(ctx); err != nil {
		slog.Error("Execute: initialization failed", "error", err)
		return writeFailed(ctx, queue, reqCtx, fmt.Errorf("agent initialization failed: %w", err))
	}

	agent := e.app.Agent()
	tracer := observability.GlobalTracer()
	metrics := observability.GlobalMetrics()

	ctx, span := tracer.StartAgentRun(ctx, agent.Name(), agent.Model(), string(reqCtx.TaskID))
	defer span.End()
	metrics.IncAgentActiveRuns(ctx, agent.Name())
	defer metrics.DecAgentActiveRuns(ctx, agent.Name())

	working := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateWorking, nil)
	if err := queue.Write(ctx, working); err != nil {
		return fmt.Errorf("failed to write working event: %w", err)
	}

	start := time.Now()
	reply, err := agent.Run(ctx, conversationHistory(reqCtx))
	metrics.RecordAgentRun(ctx, agent.Name(), time.Since(start), err)
	if err != nil {
		tracer.RecordError(span, err)
		return writeFailed(ctx, queue, reqCtx, fmt.Errorf("agent run failed: %w", err))
	}

	artifact := a2a.NewArtifactEvent(reqCtx, reply.Parts...)
	artifact.LastChunk = true
	if err := queue.Write(ctx, artifact); err != nil {
		return fmt.Errorf("failed to write artifact event: %w", err)
	}

	done := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCompleted, nil)
	done.Final = true
	if err := queue.Write(ctx, done); err != nil {
		return fmt.Errorf("failed to write completed event: %w", err)
	}
	metrics.RecordTaskState(ctx, string(a2a.TaskStateCompleted))

	return nil
}

// Cancel implements a2asrv.AgentExecutor.
func (e *Executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	observability.GlobalMetrics().RecordTaskState(ctx, string(a2a.TaskStateCanceled))
	event := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
	event.Final = true
	return queue.Write(ctx, event)
}

// writeFailed reports cause through the task channel. The error travels as
// a Failed status event rather than a return value, so the task reaches a
// terminal state instead of surfacing a transport error.
func writeFailed(ctx context.Context, queue eventqueue.Queue, reqCtx *a2asrv.RequestContext, cause error) error {
	observability.GlobalMetrics().RecordTaskState(ctx, string(a2a.TaskStateFailed))
	msg := a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: cause.Error()})
	event := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateFailed, msg)
	event.Final = true
	if err := queue.Write(ctx, event); err != nil {
		return fmt.Errorf("failed to write failed event: %w (original: %w)", err, cause)
	}
	return nil
}

// conversationHistory assembles the message list for an agent run: the
// stored task history with the inbound message as the final element. The
// stored history may or may not already contain the inbound message, so it
// is appended only when missing.
func conversationHistory(reqCtx *a2asrv.RequestContext) []*a2a.Message {
	var history []*a2a.Message
	if t := reqCtx.StoredTask; t != nil {
		history = append(history, t.History...)
	}

	msg := reqCtx.Message
	for _, m := range history {
		if m == msg || (msg.ID != "" && m.ID == msg.ID) {
			return history
		}
	}
	return append(history, msg)
}

var _ a2asrv.AgentExecutor = (*Executor)(nil)
