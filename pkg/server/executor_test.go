package server

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsvishaal/web-extraction-agent/pkg/app"
	"github.com/lsvishaal/web-extraction-agent/pkg/config"
	"github.com/lsvishaal/web-extraction-agent/pkg/lifecycle"
	"github.com/lsvishaal/web-extraction-agent/pkg/model"
	"github.com/lsvishaal/web-extraction-agent/pkg/tool"
	"github.com/lsvishaal/web-extraction-agent/pkg/tool/mcp"
)

// ==== TEST FAKES ====

// captureQueue records the events the executor writes. The embedded Queue
// covers the rest of the interface and is never invoked.
type captureQueue struct {
	eventqueue.Queue
	events []a2a.Event
}

func (q *captureQueue) Write(ctx context.Context, event a2a.Event) error {
	q.events = append(q.events, event)
	return nil
}

type fakeConnector struct{}

func (fakeConnector) Name() string { return "mcp" }

func (fakeConnector) Tools(ctx context.Context) ([]tool.Tool, error) { return nil, nil }

func (fakeConnector) Connect(ctx context.Context) error { return nil }

func (fakeConnector) Close() error { return nil }

// cannedLLM answers every call with a fixed text response, or fails with
// err when set.
type cannedLLM struct {
	text string
	err  error
}

func (c *cannedLLM) Name() string { return "openai/gpt-5" }

func (c *cannedLLM) Provider() model.Provider { return model.ProviderOpenRouter }

func (c *cannedLLM) Close() error { return nil }

func (c *cannedLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		if c.err != nil {
			yield(nil, c.err)
			return
		}
		yield(&model.Response{
			Content: &model.Content{
				Parts: []a2a.Part{a2a.TextPart{Text: c.text}},
				Role:  a2a.MessageRoleAgent,
			},
			TurnComplete: true,
			FinishReason: model.FinishReasonStop,
		}, nil)
	}
}

func newTestApp(t *testing.T, llm model.LLM) *app.App {
	t.Helper()

	dir := t.TempDir()
	a, err := app.New(app.Config{
		ConfigPath:       filepath.Join(dir, "config.json"),
		OpenRouterAPIKey: "sk-or-test",
		MemoryPath:       filepath.Join(dir, "memory"),
		Capabilities:     config.CapabilityMap{},
		BaseEnv:          map[string]string{},
		NewModel: func(app.Config) (model.LLM, error) {
			return llm, nil
		},
		Multiplexer: func(mcp.Config) (lifecycle.MCPConnector, error) {
			return fakeConnector{}, nil
		},
	})
	require.NoError(t, err)
	return a
}

func requestContext(msg *a2a.Message) *a2asrv.RequestContext {
	return &a2asrv.RequestContext{
		TaskID:    a2a.TaskID("task-1"),
		ContextID: "ctx-1",
		Message:   msg,
	}
}

func asStatus(t *testing.T, event a2a.Event) *a2a.TaskStatusUpdateEvent {
	t.Helper()
	ev, ok := event.(*a2a.TaskStatusUpdateEvent)
	require.True(t, ok, "expected status event, got %T", event)
	return ev
}

func asArtifact(t *testing.T, event a2a.Event) *a2a.TaskArtifactUpdateEvent {
	t.Helper()
	ev, ok := event.(*a2a.TaskArtifactUpdateEvent)
	require.True(t, ok, "expected artifact event, got %T", event)
	return ev
}

func textOf(parts []a2a.Part) string {
	var sb strings.Builder
	for _, p := range parts {
		if tp, ok := p.(a2a.TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

// ==== EXECUTE ====

func TestExecutor_NewTaskLifecycle(t *testing.T) {
	exec := NewExecutor(newTestApp(t, &cannedLLM{text: "Here is the article summary."}))
	queue := &captureQueue{}

	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "Summarize https://example.com/post"})
	err := exec.Execute(context.Background(), requestContext(msg), queue)
	require.NoError(t, err)

	require.Len(t, queue.events, 4)

	submitted := asStatus(t, queue.events[0])
	assert.Equal(t, a2a.TaskStateSubmitted, submitted.Status.State)
	assert.False(t, submitted.Final)

	working := asStatus(t, queue.events[1])
	assert.Equal(t, a2a.TaskStateWorking, working.Status.State)

	artifact := asArtifact(t, queue.events[2])
	assert.True(t, artifact.LastChunk)
	assert.Equal(t, "Here is the article summary.", textOf(artifact.Artifact.Parts))

	done := asStatus(t, queue.events[3])
	assert.Equal(t, a2a.TaskStateCompleted, done.Status.State)
	assert.True(t, done.Final)
}

func TestExecutor_ExistingTaskSkipsSubmitted(t *testing.T) {
	exec := NewExecutor(newTestApp(t, &cannedLLM{text: "done"}))
	queue := &captureQueue{}

	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "and the second page?"})
	reqCtx := requestContext(msg)
	reqCtx.StoredTask = &a2a.Task{
		ID:        reqCtx.TaskID,
		ContextID: reqCtx.ContextID,
		History: []*a2a.Message{
			a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "Extract page one"}),
			a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "Page one extracted."}),
		},
	}

	err := exec.Execute(context.Background(), reqCtx, queue)
	require.NoError(t, err)

	require.NotEmpty(t, queue.events)
	first := asStatus(t, queue.events[0])
	assert.Equal(t, a2a.TaskStateWorking, first.Status.State)
	require.Len(t, queue.events, 3)
}

func TestExecutor_RunErrorBecomesFailedStatus(t *testing.T) {
	exec := NewExecutor(newTestApp(t, &cannedLLM{err: errors.New("model unavailable")}))
	queue := &captureQueue{}

	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "Extract something"})
	err := exec.Execute(context.Background(), requestContext(msg), queue)
	require.NoError(t, err, "run failures travel as events, not errors")

	require.Len(t, queue.events, 3)
	failed := asStatus(t, queue.events[2])
	assert.Equal(t, a2a.TaskStateFailed, failed.Status.State)
	assert.True(t, failed.Final)

	require.NotNil(t, failed.Status.Message)
	text := textOf(failed.Status.Message.Parts)
	assert.Contains(t, text, "agent run failed")
	assert.Contains(t, text, "model unavailable")
}

func TestExecutor_InitFailureBecomesFailedStatus(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0o644))

	a, err := app.New(app.Config{
		ConfigPath:       configPath,
		OpenRouterAPIKey: "sk-or-test",
		MemoryPath:       filepath.Join(dir, "memory"),
		Capabilities:     config.CapabilityMap{},
		NewModel: func(app.Config) (model.LLM, error) {
			return &cannedLLM{text: "unused"}, nil
		},
		Multiplexer: func(mcp.Config) (lifecycle.MCPConnector, error) {
			return fakeConnector{}, nil
		},
	})
	require.NoError(t, err)

	exec := NewExecutor(a)
	queue := &captureQueue{}

	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "hi"})
	err = exec.Execute(context.Background(), requestContext(msg), queue)
	require.NoError(t, err)

	require.Len(t, queue.events, 2)
	assert.Equal(t, a2a.TaskStateSubmitted, asStatus(t, queue.events[0]).Status.State)

	failed := asStatus(t, queue.events[1])
	assert.Equal(t, a2a.TaskStateFailed, failed.Status.State)
	assert.True(t, failed.Final)
	require.NotNil(t, failed.Status.Message)
	assert.Contains(t, textOf(failed.Status.Message.Parts), "agent initialization failed")
}

func TestExecutor_NilMessage(t *testing.T) {
	exec := NewExecutor(newTestApp(t, &cannedLLM{text: "unused"}))
	queue := &captureQueue{}

	err := exec.Execute(context.Background(), requestContext(nil), queue)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message not provided")
	assert.Empty(t, queue.events)
}

func TestExecutor_Cancel(t *testing.T) {
	exec := NewExecutor(newTestApp(t, &cannedLLM{text: "unused"}))
	queue := &captureQueue{}

	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "never mind"})
	err := exec.Cancel(context.Background(), requestContext(msg), queue)
	require.NoError(t, err)

	require.Len(t, queue.events, 1)
	canceled := asStatus(t, queue.events[0])
	assert.Equal(t, a2a.TaskStateCanceled, canceled.Status.State)
	assert.True(t, canceled.Final)
}

// ==== HISTORY ASSEMBLY ====

func TestConversationHistory(t *testing.T) {
	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "latest"})
	earlier := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "earlier"})

	t.Run("NoStoredTask", func(t *testing.T) {
		got := conversationHistory(requestContext(msg))
		require.Len(t, got, 1)
		assert.Same(t, msg, got[0])
	})

	t.Run("AppendsInboundMessage", func(t *testing.T) {
		reqCtx := requestContext(msg)
		reqCtx.StoredTask = &a2a.Task{History: []*a2a.Message{earlier}}

		got := conversationHistory(reqCtx)
		require.Len(t, got, 2)
		assert.Same(t, earlier, got[0])
		assert.Same(t, msg, got[1])
	})

	t.Run("SkipsWhenAlreadyStored", func(t *testing.T) {
		reqCtx := requestContext(msg)
		reqCtx.StoredTask = &a2a.Task{History: []*a2a.Message{earlier, msg}}

		got := conversationHistory(reqCtx)
		require.Len(t, got, 2)
	})

	t.Run("MatchesByID", func(t *testing.T) {
		stored := *msg
		reqCtx := requestContext(msg)
		reqCtx.StoredTask = &a2a.Task{History: []*a2a.Message{earlier, &stored}}

		got := conversationHistory(reqCtx)
		require.Len(t, got, 2)
	})
}
