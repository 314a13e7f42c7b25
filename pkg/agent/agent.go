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

// Package agent implements the conversational agent runtime: one model,
// an ordered list of toolsets, and a tool-call loop.
//
// Run drives the loop: send the conversation with the available tool
// definitions, execute whatever tool calls come back, append the results,
// repeat until the model answers without calling tools. The iteration cap
// is a safety valve, not the primary termination control. Before each
// model call the history is trimmed to a token budget, evicting oldest
// messages first; the system instruction is carried outside the history
// and is always sent.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/lsvishaal/web-extraction-agent/pkg/model"
	"github.com/lsvishaal/web-extraction-agent/pkg/observability"
	"github.com/lsvishaal/web-extraction-agent/pkg/tool"
)

const (
	// DefaultName is used when no agent name is configured.
	DefaultName = "web-extraction-agent"

	// DefaultMaxIterations caps the tool-call loop.
	DefaultMaxIterations = 100

	// DefaultHistoryTokens is the conversation token budget. Sized to
	// keep a full web extraction result plus the surrounding
	// conversation resident.
	DefaultHistoryTokens = 32000
)

// Config configures an Agent.
type Config struct {
	// Name identifies the agent. Defaults to DefaultName.
	Name string

	// Model is the language model client. Required.
	Model model.LLM

	// Toolsets are consulted in order when building the tool catalog.
	// On name collisions the earlier toolset wins.
	Toolsets []tool.Toolset

	// Instruction is the system instruction.
	Instruction string

	// Markdown asks the model to format responses as Markdown.
	Markdown bool

	// AddDatetime appends the current date and time to the system
	// instruction.
	AddDatetime bool

	// MaxIterations caps the tool-call loop. Defaults to
	// DefaultMaxIterations.
	MaxIterations int

	// HistoryTokens is the conversation token budget. Defaults to
	// DefaultHistoryTokens.
	HistoryTokens int

	// Generate is the generation configuration applied to every model
	// call. Optional.
	Generate *model.GenerateConfig
}

// Agent is a conversational agent bound to one model and a fixed set of
// toolsets.
type Agent struct {
	name          string
	model         model.LLM
	toolsets      []tool.Toolset
	instruction   string
	markdown      bool
	addDatetime   bool
	maxIterations int
	historyTokens int
	generate      *model.GenerateConfig
	counter       *TokenCounter

	now func() time.Time
}

// New creates an agent from the config.
func New(cfg Config) (*Agent, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.HistoryTokens <= 0 {
		cfg.HistoryTokens = DefaultHistoryTokens
	}

	counter, err := NewTokenCounter(cfg.Model.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to create token counter: %w", err)
	}

	return &Agent{
		name:          cfg.Name,
		model:         cfg.Model,
		toolsets:      cfg.Toolsets,
		instruction:   cfg.Instruction,
		markdown:      cfg.Markdown,
		addDatetime:   cfg.AddDatetime,
		maxIterations: cfg.MaxIterations,
		historyTokens: cfg.HistoryTokens,
		generate:      cfg.Generate,
		counter:       counter,
		now:           time.Now,
	}, nil
}

// Name returns the agent's name.
func (a *Agent) Name() string {
	return a.name
}

// Model returns the model id the agent runs on.
func (a *Agent) Model() string {
	return a.model.Name()
}

// Run executes the tool-call loop over the given conversation and returns
// the final agent message.
func (a *Agent) Run(ctx context.Context, messages []*a2a.Message) (*a2a.Message, error) {
	tools, defs := a.collectTools(ctx)

	history := append([]*a2a.Message(nil), messages...)
	var lastMessage *a2a.Message

	for iteration := 1; iteration <= a.maxIterations; iteration++ {
		req := &model.Request{
			Messages:          a.counter.FitWithinLimit(history, a.historyTokens),
			Tools:             defs,
			Config:            a.generate.Clone(),
			SystemInstruction: a.systemInstruction(),
		}

		resp, err := a.generateOnce(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("model call failed: %w", err)
		}

		msg := resp.ToMessage()
		if msg != nil {
			history = append(history, msg)
			lastMessage = msg
		}

		if !resp.HasToolCalls() {
			if msg == nil {
				return nil, fmt.Errorf("model returned an empty response")
			}
			return msg, nil
		}

		slog.Debug("Model requested tool calls",
			"agent", a.name, "iteration", iteration, "calls", len(resp.ToolCalls))
		history = append(history, a.executeToolCalls(ctx, tools, resp.ToolCalls)...)
	}

	slog.Warn("Tool-call loop hit iteration cap", "agent", a.name, "iterations", a.maxIterations)
	if lastMessage == nil {
		return nil, fmt.Errorf("model produced no content in %d iterations", a.maxIterations)
	}
	return lastMessage, nil
}

// generateOnce performs one non-streaming model call, records its span and
// metrics, and returns the complete response. Token figures are tiktoken
// estimates, not provider-reported usage.
func (a *Agent) generateOnce(ctx context.Context, req *model.Request) (*model.Response, error) {
	tracer := observability.GlobalTracer()
	ctx, span := tracer.StartLLMCall(ctx, a.model.Name())
	defer span.End()

	if n := len(req.Messages); n > 0 {
		tracer.AddPayload(span, observability.AttrLLMPrompt, flattenMessage(req.Messages[n-1]))
	}

	inputTokens := a.counter.CountMessages(req.Messages)
	start := time.Now()

	record := func(outputTokens int, err error) {
		tracer.RecordError(span, err)
		tracer.AddLLMUsage(span, inputTokens, outputTokens)
		observability.GlobalMetrics().RecordLLMCall(ctx, a.model.Name(), time.Since(start), inputTokens, outputTokens, err)
	}

	var final *model.Response
	for resp, err := range a.model.GenerateContent(ctx, req, false) {
		if err != nil {
			record(0, err)
			return nil, err
		}
		if resp != nil && !resp.Partial {
			final = resp
		}
	}
	if final == nil {
		err := fmt.Errorf("model yielded no response")
		record(0, err)
		return nil, err
	}

	msg := final.ToMessage()
	tracer.AddPayload(span, observability.AttrLLMResponse, flattenMessage(msg))
	record(a.counter.CountMessage(msg), nil)
	return final, nil
}

// collectTools builds the tool catalog from the toolsets, in order. A
// failing toolset degrades the catalog instead of failing the run.
func (a *Agent) collectTools(ctx context.Context) (map[string]tool.Tool, []tool.Definition) {
	byName := make(map[string]tool.Tool)
	var defs []tool.Definition

	for _, ts := range a.toolsets {
		list, err := ts.Tools(ctx)
		if err != nil {
			slog.Warn("Toolset unavailable, continuing without it",
				"toolset", ts.Name(), "error", err)
			continue
		}
		for _, t := range list {
			if _, exists := byName[t.Name()]; exists {
				slog.Warn("Duplicate tool name across toolsets, keeping first",
					"tool", t.Name(), "toolset", ts.Name())
				continue
			}
			byName[t.Name()] = t
			defs = append(defs, tool.ToDefinition(t))
		}
	}

	return byName, defs
}

// executeToolCalls runs the requested tool calls sequentially and returns
// one tool-result message per call. Every call gets a result message even
// after cancellation, so the tool-calling round trip stays well formed.
func (a *Agent) executeToolCalls(ctx context.Context, tools map[string]tool.Tool, calls []tool.ToolCall) []*a2a.Message {
	tracer := observability.GlobalTracer()
	results := make([]*a2a.Message, 0, len(calls))
	for _, call := range calls {
		start := time.Now()
		tctx, span := tracer.StartToolExecution(ctx, call.Name)
		if encoded, err := json.Marshal(call.Args); err == nil {
			tracer.AddPayload(span, observability.AttrToolArguments, string(encoded))
		}

		content, err := a.executeToolCall(tctx, tools, call)
		duration := time.Since(start)

		tracer.RecordError(span, err)
		span.End()
		observability.GlobalMetrics().RecordToolExecution(ctx, call.Name, duration, err)

		if err != nil {
			content = fmt.Sprintf("Error: %v", err)
		}
		slog.Info("Tool call finished",
			"tool", call.Name, "duration", duration.Round(time.Millisecond))

		results = append(results, toolResultMessage(call.ID, content))
	}
	return results
}

func (a *Agent) executeToolCall(ctx context.Context, tools map[string]tool.Tool, call tool.ToolCall) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t, ok := tools[call.Name]
	if !ok {
		slog.Warn("Model requested unknown tool", "tool", call.Name)
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}

	result, err := t.Call(ctx, call.Args)
	if err != nil {
		slog.Warn("Tool call failed", "tool", call.Name, "error", err)
		return "", err
	}
	if result == nil {
		return "", nil
	}
	if result.Error != "" {
		return "", fmt.Errorf("%s", result.Error)
	}
	return result.Content, nil
}

// systemInstruction assembles the system instruction with the
// presentation flags applied.
func (a *Agent) systemInstruction() string {
	var parts []string
	if a.instruction != "" {
		parts = append(parts, a.instruction)
	}
	if a.markdown {
		parts = append(parts, "Format your responses using Markdown.")
	}
	if a.addDatetime {
		parts = append(parts, "Current date and time: "+a.now().Format("2006-01-02 15:04:05 MST"))
	}
	return strings.Join(parts, "\n\n")
}

// toolResultMessage wraps a tool result so message conversion threads it
// back as a role-"tool" entry.
func toolResultMessage(callID, content string) *a2a.Message {
	return a2a.NewMessage(a2a.MessageRoleUser, a2a.DataPart{
		Data: map[string]any{
			"type":         "tool_result",
			"tool_call_id": callID,
			"content":      content,
		},
	})
}
