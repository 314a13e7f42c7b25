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

// Package openrouter implements model.LLM against OpenRouter's
// OpenAI-compatible chat completions API.
//
// OpenRouter fronts many upstream providers behind one endpoint, so model
// names carry a provider prefix ("openai/gpt-5", "anthropic/claude-3.5").
// The wire format is standard chat completions: SSE streaming with
// incremental deltas, tool calls assembled across chunks by index, and a
// terminating [DONE] sentinel.
package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/lsvishaal/web-extraction-agent/pkg/httpclient"
	"github.com/lsvishaal/web-extraction-agent/pkg/model"
	"github.com/lsvishaal/web-extraction-agent/pkg/tool"
)

const (
	defaultBaseURL   = "https://openrouter.ai/api/v1"
	defaultModel     = "openai/gpt-5"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second

	// Reasoning effort thresholds, in thinking budget tokens.
	reasoningEffortLowThreshold    = 1024
	reasoningEffortMediumThreshold = 8192

	// Max inline image size accepted upstream.
	maxImageSize = 20 * 1024 * 1024
)

// Config configures the OpenRouter client.
type Config struct {
	APIKey          string
	Model           string
	MaxTokens       int
	Temperature     *float64
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      int
	EnableReasoning bool
	ReasoningBudget int

	// Referer and Title populate OpenRouter's optional attribution
	// headers (HTTP-Referer, X-Title).
	Referer string
	Title   string
}

// Option configures the OpenRouter client.
type Option func(*Config)

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithMaxTokens sets the maximum output tokens.
func WithMaxTokens(maxTokens int) Option {
	return func(c *Config) {
		c.MaxTokens = maxTokens
	}
}

// WithTemperature sets the temperature.
func WithTemperature(temp float64) Option {
	return func(c *Config) {
		c.Temperature = &temp
	}
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithReasoning enables reasoning with the given budget.
func WithReasoning(budget int) Option {
	return func(c *Config) {
		c.EnableReasoning = true
		c.ReasoningBudget = budget
	}
}

// WithAttribution sets OpenRouter's app attribution headers.
func WithAttribution(referer, title string) Option {
	return func(c *Config) {
		c.Referer = referer
		c.Title = title
	}
}

// Client is an OpenRouter chat completions client implementing model.LLM.
type Client struct {
	httpClient      *httpclient.Client
	apiKey          string
	baseURL         string
	modelName       string
	maxTokens       int
	temperature     *float64
	enableReasoning bool
	reasoningBudget int
	referer         string
	title           string
}

// New creates a new OpenRouter client.
func New(cfg Config, opts ...Option) (*Client, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(maxRetries),
		httpclient.WithHeaderParser(httpclient.ParseOpenRouterHeaders),
	)

	reasoningBudget := cfg.ReasoningBudget
	if reasoningBudget == 0 {
		reasoningBudget = 8192
	}

	return &Client{
		httpClient:      httpClient,
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		modelName:       modelName,
		maxTokens:       maxTokens,
		temperature:     cfg.Temperature,
		enableReasoning: cfg.EnableReasoning,
		reasoningBudget: reasoningBudget,
		referer:         cfg.Referer,
		title:           cfg.Title,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.modelName
}

// Provider returns the provider type.
func (c *Client) Provider() model.Provider {
	return model.ProviderOpenRouter
}

// GenerateContent produces responses for the given request.
//
// When stream=false it yields exactly one complete Response. When
// stream=true it yields partial Responses per delta, then the aggregated
// Response with Partial=false.
func (c *Client) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	if stream {
		return c.generateStream(ctx, req)
	}

	return func(yield func(*model.Response, error) bool) {
		resp, err := c.generate(ctx, req)
		yield(resp, err)
	}
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

// generate performs non-streaming generation.
func (c *Client) generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	apiReq := c.buildRequest(req, false)

	resp, err := c.postCompletions(ctx, apiReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return c.parseResponse(&apiResp)
}

// postCompletions sends a chat completions request and returns the raw
// response with a 200 status. Error bodies are folded into the returned
// error.
func (c *Client) postCompletions(ctx context.Context, apiReq *chatRequest) (*http.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.completionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Lets the retrying client replay the body.
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if resp != nil && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		if apiErr := parseErrorBody(bodyBytes); apiErr != nil {
			return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			bodyBytes, _ := io.ReadAll(resp.Body)
			if len(bodyBytes) > 0 {
				return nil, fmt.Errorf("request failed: %w - response: %s", err, string(bodyBytes))
			}
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("request failed: no response received")
	}

	return resp, nil
}

// streamState accumulates tool calls across SSE chunks. Chat completions
// deltas carry a fragment of one call per chunk, addressed by index.
type streamState struct {
	toolCalls   map[int]*chatToolCall
	lastIndex   int
	usage       *model.Usage
	finish      string
	emittedCall map[int]bool
}

func newStreamState() *streamState {
	return &streamState{
		toolCalls:   make(map[int]*chatToolCall),
		lastIndex:   -1,
		emittedCall: make(map[int]bool),
	}
}

// generateStream performs streaming generation through the aggregator.
func (c *Client) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	aggregator := model.NewStreamingAggregator()

	return func(yield func(*model.Response, error) bool) {
		apiReq := c.buildRequest(req, true)

		resp, err := c.postCompletions(ctx, apiReq)
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		state := newStreamState()

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				yield(nil, fmt.Errorf("stream read error: %w", err))
				return
			}

			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}

			// OpenRouter interleaves ": OPENROUTER PROCESSING" keepalive
			// comments; anything that is not a data line is skipped.
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			line = line[6:]

			if bytes.Equal(line, []byte("[DONE]")) {
				break
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}

			if chunk.Error != nil {
				yield(nil, fmt.Errorf("API error: %s", chunk.Error.Message))
				return
			}

			for resp, err := range c.processChunk(&chunk, state, aggregator) {
				if !yield(resp, err) {
					return
				}
			}
		}

		// Flush any calls the stream never closed with a finish_reason.
		for resp, err := range c.emitPendingToolCalls(state, aggregator) {
			if !yield(resp, err) {
				return
			}
		}

		if state.usage != nil {
			aggregator.SetUsage(state.usage)
		}
		if state.finish != "" {
			aggregator.SetFinishReason(mapFinishReason(state.finish, len(state.emittedCall) > 0))
		}

		if final := aggregator.Close(); final != nil {
			yield(final, nil)
		}
	}
}

// processChunk folds one SSE chunk into the aggregator.
func (c *Client) processChunk(
	chunk *chatStreamChunk,
	state *streamState,
	agg *model.StreamingAggregator,
) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		// With include_usage the final chunk has no choices, only usage.
		if chunk.Usage != nil {
			state.usage = &model.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
				ThinkingTokens:   chunk.Usage.reasoningTokens(),
			}
		}

		if len(chunk.Choices) == 0 {
			return
		}
		choice := chunk.Choices[0]

		if choice.Delta.Reasoning != "" {
			for resp, err := range agg.ProcessThinkingDelta(choice.Delta.Reasoning) {
				if !yield(resp, err) {
					return
				}
			}
		}

		if choice.Delta.Content != "" {
			for resp, err := range agg.ProcessTextDelta(choice.Delta.Content) {
				if !yield(resp, err) {
					return
				}
			}
		}

		for _, deltaCall := range choice.Delta.ToolCalls {
			idx := state.lastIndex
			if deltaCall.Index != nil {
				idx = *deltaCall.Index
			} else if deltaCall.ID != "" {
				idx++
			}
			state.lastIndex = idx

			existing, ok := state.toolCalls[idx]
			if !ok {
				existing = &chatToolCall{}
				state.toolCalls[idx] = existing
			}
			if deltaCall.ID != "" {
				existing.ID = deltaCall.ID
			}
			if deltaCall.Function.Name != "" {
				existing.Function.Name = deltaCall.Function.Name
			}
			existing.Function.Arguments += deltaCall.Function.Arguments
		}

		if choice.FinishReason != "" {
			state.finish = choice.FinishReason
			for resp, err := range c.emitPendingToolCalls(state, agg) {
				if !yield(resp, err) {
					return
				}
			}
		}
	}
}

// emitPendingToolCalls pushes accumulated, not-yet-emitted tool calls
// through the aggregator in index order.
func (c *Client) emitPendingToolCalls(state *streamState, agg *model.StreamingAggregator) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		for i := 0; i <= state.lastIndex; i++ {
			call, ok := state.toolCalls[i]
			if !ok || state.emittedCall[i] || call.Function.Name == "" {
				continue
			}

			args := make(map[string]any)
			if call.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
					args = make(map[string]any)
				}
			}

			state.emittedCall[i] = true
			tc := tool.ToolCall{
				ID:   call.ID,
				Name: call.Function.Name,
				Args: args,
			}
			for resp, err := range agg.ProcessToolCall(tc) {
				if !yield(resp, err) {
					return
				}
			}
		}
	}
}

// completionsURL returns the chat completions endpoint.
func (c *Client) completionsURL() string {
	return c.baseURL + "/chat/completions"
}

// setHeaders sets the required HTTP headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}
}

// buildRequest creates a chat completions request from model.Request.
func (c *Client) buildRequest(req *model.Request, stream bool) *chatRequest {
	enableReasoning := c.enableReasoning || (req.Config != nil && req.Config.EnableThinking)

	apiReq := &chatRequest{
		Model:  c.modelName,
		Stream: stream,
	}

	if stream {
		// Without this the usage never arrives on streamed responses.
		apiReq.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	maxTokens := c.maxTokens
	if req.Config != nil && req.Config.MaxTokens != nil {
		maxTokens = *req.Config.MaxTokens
	}
	if maxTokens > 0 {
		apiReq.MaxTokens = &maxTokens
	}

	// Reasoning models only accept their default temperature.
	if !enableReasoning && !c.isReasoningModel() {
		temperature := c.temperature
		if req.Config != nil && req.Config.Temperature != nil {
			temperature = req.Config.Temperature
		}
		apiReq.Temperature = temperature

		if req.Config != nil && req.Config.TopP != nil {
			apiReq.TopP = req.Config.TopP
		}
	}

	if req.Config != nil && len(req.Config.StopSequences) > 0 {
		apiReq.Stop = req.Config.StopSequences
	}

	if enableReasoning && c.isReasoningModel() {
		budget := c.reasoningBudget
		if req.Config != nil && req.Config.ThinkingBudget > 0 {
			budget = req.Config.ThinkingBudget
		}
		apiReq.Reasoning = &reasoningConfig{
			Effort: c.mapBudgetToEffort(budget),
		}
	}

	messages := c.convertMessages(req.Messages)
	if req.SystemInstruction != "" {
		messages = append([]chatMessage{{
			Role:    "system",
			Content: req.SystemInstruction,
		}}, messages...)
	}
	apiReq.Messages = messages

	if len(req.Tools) > 0 {
		apiReq.Tools = c.convertTools(req.Tools)
		apiReq.ToolChoice = "auto"
	}

	if req.Config != nil && req.Config.ResponseSchema != nil {
		schemaName := req.Config.ResponseSchemaName
		if schemaName == "" {
			schemaName = "response"
		}
		strict := true
		if req.Config.ResponseSchemaStrict != nil {
			strict = *req.Config.ResponseSchemaStrict
		}

		apiReq.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:   schemaName,
				Strict: strict,
				Schema: req.Config.ResponseSchema,
			},
		}
	}

	return apiReq
}

// convertMessages converts a2a messages into chat completions messages.
func (c *Client) convertMessages(messages []*a2a.Message) []chatMessage {
	var out []chatMessage

	for _, msg := range messages {
		if msg == nil {
			continue
		}

		// Tool results become role-"tool" messages.
		toolResults := c.extractToolResults(msg)
		if len(toolResults) > 0 {
			for _, tr := range toolResults {
				out = append(out, chatMessage{
					Role:       "tool",
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
			continue
		}

		role := "user"
		if msg.Role == a2a.MessageRoleAgent {
			role = "assistant"
		}

		// Agent turns with tool calls put the calls on the assistant
		// message alongside any text.
		toolCalls := c.extractToolCalls(msg)
		if role == "assistant" && len(toolCalls) > 0 {
			cm := chatMessage{Role: role}
			if text := c.extractText(msg); text != "" {
				cm.Content = text
			}
			cm.ToolCalls = make([]chatToolCall, len(toolCalls))
			for i, tc := range toolCalls {
				argsJSON, _ := json.Marshal(tc.Args)
				cm.ToolCalls[i] = chatToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: chatFunctionCall{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				}
			}
			out = append(out, cm)
			continue
		}

		content := c.buildContent(msg)
		if content == nil {
			continue
		}
		out = append(out, chatMessage{
			Role:    role,
			Content: content,
		})
	}

	return out
}

// buildContent renders message parts as a plain string when text-only, or
// a multimodal parts array when images are present.
func (c *Client) buildContent(msg *a2a.Message) any {
	var text strings.Builder
	var parts []contentPart

	for _, part := range msg.Parts {
		switch p := part.(type) {
		case a2a.TextPart:
			if p.Text != "" {
				text.WriteString(p.Text)
				parts = append(parts, contentPart{Type: "text", Text: p.Text})
			}

		case a2a.FilePart:
			switch f := p.File.(type) {
			case a2a.FileBytes:
				if strings.HasPrefix(f.MimeType, "image/") && len(f.Bytes) <= maxImageSize {
					base64Data := base64.StdEncoding.EncodeToString([]byte(f.Bytes))
					url := fmt.Sprintf("data:%s;base64,%s", f.MimeType, base64Data)
					parts = append(parts, contentPart{
						Type:     "image_url",
						ImageURL: &imageURL{URL: url},
					})
				}
			case a2a.FileURI:
				if strings.HasPrefix(f.MimeType, "image/") {
					parts = append(parts, contentPart{
						Type:     "image_url",
						ImageURL: &imageURL{URL: f.URI},
					})
				}
			}
		}
	}

	hasImage := false
	for _, p := range parts {
		if p.Type == "image_url" {
			hasImage = true
			break
		}
	}

	if hasImage {
		return parts
	}
	if text.Len() > 0 {
		return text.String()
	}
	return nil
}

// extractText extracts text content from a message.
func (c *Client) extractText(msg *a2a.Message) string {
	var text strings.Builder
	for _, part := range msg.Parts {
		if tp, ok := part.(a2a.TextPart); ok && tp.Text != "" {
			text.WriteString(tp.Text)
		}
	}
	return text.String()
}

// extractToolCalls extracts tool calls from a message.
func (c *Client) extractToolCalls(msg *a2a.Message) []tool.ToolCall {
	var calls []tool.ToolCall
	for _, part := range msg.Parts {
		if dp, ok := part.(a2a.DataPart); ok {
			if dataType, ok := dp.Data["type"].(string); ok && dataType == "tool_use" {
				tc := tool.ToolCall{
					ID: getString(dp.Data, "id"),
				}
				if name, ok := dp.Data["name"].(string); ok {
					tc.Name = name
				}
				if args, ok := dp.Data["arguments"].(map[string]any); ok {
					tc.Args = args
				}
				calls = append(calls, tc)
			}
		}
	}
	return calls
}

// extractToolResults extracts tool results from a message.
func (c *Client) extractToolResults(msg *a2a.Message) []tool.ToolResult {
	var results []tool.ToolResult
	for _, part := range msg.Parts {
		if dp, ok := part.(a2a.DataPart); ok {
			if dataType, ok := dp.Data["type"].(string); ok && dataType == "tool_result" {
				tr := tool.ToolResult{
					ToolCallID: getString(dp.Data, "tool_call_id"),
					Content:    getString(dp.Data, "content"),
				}
				results = append(results, tr)
			}
		}
	}
	return results
}

// convertTools converts tool definitions to chat completions format.
func (c *Client) convertTools(tools []tool.Definition) []chatTool {
	result := make([]chatTool, len(tools))
	for i, t := range tools {
		result[i] = chatTool{
			Type: "function",
			Function: chatToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return result
}

// parseResponse converts an API response to model.Response.
func (c *Client) parseResponse(resp *chatResponse) (*model.Response, error) {
	if resp.Error != nil {
		return nil, fmt.Errorf("API error: %s", resp.Error.Message)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := resp.Choices[0]

	result := &model.Response{
		Partial:      false,
		TurnComplete: true,
		FinishReason: mapFinishReason(choice.FinishReason, len(choice.Message.ToolCalls) > 0),
	}

	if resp.Usage != nil {
		result.Usage = &model.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			ThinkingTokens:   resp.Usage.reasoningTokens(),
		}
	}

	if choice.Message.Reasoning != "" {
		result.Thinking = &model.ThinkingBlock{
			Content: choice.Message.Reasoning,
		}
	}

	var parts []a2a.Part

	if text := messageText(choice.Message.Content); text != "" {
		parts = append(parts, a2a.TextPart{Text: text})
	}

	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]any)
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
			}
		}

		call := tool.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		}
		result.ToolCalls = append(result.ToolCalls, call)
		parts = append(parts, a2a.DataPart{
			Data: map[string]any{
				"type":      "tool_use",
				"id":        call.ID,
				"name":      call.Name,
				"arguments": call.Args,
			},
		})
	}

	if len(parts) > 0 {
		result.Content = &model.Content{
			Parts: parts,
			Role:  a2a.MessageRoleAgent,
		}
	}

	return result, nil
}

// messageText extracts text from a chat completions content value, which
// is either a string or an array of typed parts.
func messageText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var text strings.Builder
		for _, part := range v {
			pm, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if pt, _ := pm["type"].(string); pt == "text" {
				if t, ok := pm["text"].(string); ok {
					text.WriteString(t)
				}
			}
		}
		return text.String()
	}
	return ""
}

// mapFinishReason converts a chat completions finish_reason.
func mapFinishReason(reason string, hasToolCalls bool) model.FinishReason {
	switch reason {
	case "stop":
		if hasToolCalls {
			return model.FinishReasonToolCalls
		}
		return model.FinishReasonStop
	case "length":
		return model.FinishReasonLength
	case "tool_calls":
		return model.FinishReasonToolCalls
	case "content_filter":
		return model.FinishReasonContent
	case "error":
		return model.FinishReasonError
	default:
		if hasToolCalls {
			return model.FinishReasonToolCalls
		}
		return model.FinishReasonStop
	}
}

// isReasoningModel reports whether the configured model supports the
// reasoning parameter. OpenRouter slugs carry a provider prefix.
func (c *Client) isReasoningModel() bool {
	name := strings.ToLower(c.modelName)
	if slash := strings.LastIndex(name, "/"); slash >= 0 {
		name = name[slash+1:]
	}

	if name == "o1" || name == "o3" || name == "o4" || name == "gpt-5" {
		return true
	}

	reasoningPrefixes := []string{"o1-", "o3-", "o4-", "gpt-5-"}
	for _, prefix := range reasoningPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	return false
}

// mapBudgetToEffort maps thinking budget tokens to reasoning effort.
func (c *Client) mapBudgetToEffort(budget int) string {
	if budget <= reasoningEffortLowThreshold {
		return "low"
	}
	if budget <= reasoningEffortMediumThreshold {
		return "medium"
	}
	return "high"
}

// parseErrorBody extracts the error envelope from a non-200 body.
func parseErrorBody(body []byte) *apiError {
	if len(body) == 0 {
		return nil
	}
	var envelope struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return &envelope.Error
	}
	return nil
}

// getString safely extracts a string from a map.
func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// API types

type chatRequest struct {
	Model          string           `json:"model"`
	Messages       []chatMessage    `json:"messages"`
	MaxTokens      *int             `json:"max_tokens,omitempty"`
	Temperature    *float64         `json:"temperature,omitempty"`
	TopP           *float64         `json:"top_p,omitempty"`
	Stop           []string         `json:"stop,omitempty"`
	Stream         bool             `json:"stream,omitempty"`
	StreamOptions  *streamOptions   `json:"stream_options,omitempty"`
	Tools          []chatTool       `json:"tools,omitempty"`
	ToolChoice     any              `json:"tool_choice,omitempty"`
	ResponseFormat *responseFormat  `json:"response_format,omitempty"`
	Reasoning      *reasoningConfig `json:"reasoning,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type reasoningConfig struct {
	Effort string `json:"effort,omitempty"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type jsonSchemaFormat struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatTool struct {
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatToolCall struct {
	// Index addresses the call during streaming accumulation.
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
	Error   *apiError    `json:"error,omitempty"`
}

type chatChoice struct {
	Index        int                 `json:"index"`
	Message      chatMessageResponse `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type chatMessageResponse struct {
	Role      string         `json:"role"`
	Content   any            `json:"content"`
	Reasoning string         `json:"reasoning,omitempty"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
}

type chatStreamChunk struct {
	ID      string             `json:"id"`
	Choices []chatStreamChoice `json:"choices"`
	Usage   *chatUsage         `json:"usage,omitempty"`
	Error   *apiError          `json:"error,omitempty"`
}

type chatStreamChoice struct {
	Index        int       `json:"index"`
	Delta        chatDelta `json:"delta"`
	FinishReason string    `json:"finish_reason"`
}

type chatDelta struct {
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
}

type chatUsage struct {
	PromptTokens            int                      `json:"prompt_tokens"`
	CompletionTokens        int                      `json:"completion_tokens"`
	TotalTokens             int                      `json:"total_tokens"`
	CompletionTokensDetails *completionTokensDetails `json:"completion_tokens_details,omitempty"`
}

func (u *chatUsage) reasoningTokens() int {
	if u == nil || u.CompletionTokensDetails == nil {
		return 0
	}
	return u.CompletionTokensDetails.ReasoningTokens
}

type completionTokensDetails struct {
	ReasoningTokens int `json:"reasoning_tokens"`
}

// OpenRouter error codes arrive as numbers, OpenAI-style ones as strings.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    any    `json:"code,omitempty"`
}

// Ensure Client implements model.LLM
var _ model.LLM = (*Client)(nil)
