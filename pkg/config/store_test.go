package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolDef(name string, enabled bool) ToolDefinition {
	return ToolDefinition{
		Name:        name,
		Command:     "npx -y " + name + "-mcp",
		Enabled:     BoolPtr(enabled),
		Description: name + " tool",
	}
}

// ============================================================================
// TOOL MUTATOR TESTS
// ============================================================================

func TestStore_AddTool_AppendsEnabledToActive(t *testing.T) {
	store := NewStore()

	store.AddTool(toolDef("firecrawl", true))

	assert.Equal(t, []string{"firecrawl"}, store.ActiveToolNames())

	active := store.ActiveTools()
	require.Len(t, active, 1)
	assert.Equal(t, "firecrawl", active[0].Name)
}

func TestStore_AddTool_DisabledStaysInactive(t *testing.T) {
	store := NewStore()

	store.AddTool(toolDef("firecrawl", false))

	assert.Empty(t, store.ActiveToolNames())
	assert.Empty(t, store.ActiveTools())

	_, ok := store.Tool("firecrawl")
	assert.True(t, ok, "definition should still be registered")
}

func TestStore_AddTool_ReAddIsIdempotent(t *testing.T) {
	store := NewStore()

	store.AddTool(toolDef("firecrawl", true))
	store.AddTool(toolDef("firecrawl", true))
	store.AddTool(toolDef("firecrawl", true))

	assert.Equal(t, []string{"firecrawl"}, store.ActiveToolNames())
}

func TestStore_MutatorSequences_NoDuplicatesNoStrays(t *testing.T) {
	store := NewStore()

	store.AddTool(toolDef("a", true))
	store.AddTool(toolDef("b", true))
	store.AddTool(toolDef("c", false))
	store.EnableTool("c")
	store.DisableTool("a")
	store.EnableTool("a")
	store.AddTool(toolDef("b", true))
	store.EnableTool("b")
	store.RemoveTool("c")
	store.EnableTool("missing")
	store.DisableTool("missing")

	names := store.ActiveToolNames()
	seen := map[string]int{}
	for _, name := range names {
		seen[name]++
		assert.LessOrEqual(t, seen[name], 1, "duplicate active entry %q", name)
		_, ok := store.Tool(name)
		assert.True(t, ok, "active entry %q has no definition", name)
	}
}

func TestStore_DisableEnable_AppendsAtEnd(t *testing.T) {
	store := NewStore()

	store.AddTool(toolDef("a", true))
	store.AddTool(toolDef("b", true))
	store.AddTool(toolDef("c", true))
	require.Equal(t, []string{"a", "b", "c"}, store.ActiveToolNames())

	store.DisableTool("a")
	assert.Equal(t, []string{"b", "c"}, store.ActiveToolNames())

	// Re-enabling appends; the original position is not restored.
	store.EnableTool("a")
	assert.Equal(t, []string{"b", "c", "a"}, store.ActiveToolNames())
}

func TestStore_DisableTool_KeepsDefinition(t *testing.T) {
	store := NewStore()

	store.AddTool(toolDef("firecrawl", true))
	store.DisableTool("firecrawl")

	def, ok := store.Tool("firecrawl")
	require.True(t, ok)
	assert.False(t, def.IsEnabled())
	assert.Empty(t, store.ActiveToolNames())
}

func TestStore_RemoveTool_EvictsFromActive(t *testing.T) {
	store := NewStore()

	store.AddTool(toolDef("a", true))
	store.AddTool(toolDef("b", true))

	store.RemoveTool("a")

	assert.Equal(t, []string{"b"}, store.ActiveToolNames())
	_, ok := store.Tool("a")
	assert.False(t, ok)
}

func TestStore_RemoveTool_UnknownIsNoOp(t *testing.T) {
	store := NewStore()
	store.AddTool(toolDef("a", true))

	assert.NotPanics(t, func() {
		store.RemoveTool("does-not-exist")
	})
	assert.Equal(t, []string{"a"}, store.ActiveToolNames())
}

func TestStore_EnableDisable_UnknownIsNoOp(t *testing.T) {
	store := NewStore()

	assert.NotPanics(t, func() {
		store.EnableTool("ghost")
		store.DisableTool("ghost")
	})
	assert.Empty(t, store.ActiveToolNames())
}

func TestStore_ActiveTools_FiltersStaleAndDisabled(t *testing.T) {
	store := NewStore()
	store.Restore(&Document{
		Tools: map[string]*ToolDefinition{
			"alive":    {Name: "alive", Command: "npx alive"},
			"disabled": {Name: "disabled", Command: "npx disabled", Enabled: BoolPtr(false)},
		},
		// "ghost" has no definition; "disabled" is listed but off.
		ActiveTools: []string{"alive", "ghost", "disabled"},
	})

	active := store.ActiveTools()
	require.Len(t, active, 1)
	assert.Equal(t, "alive", active[0].Name)

	// The raw list keeps the stale entry; only reads filter.
	assert.Equal(t, []string{"alive", "ghost", "disabled"}, store.ActiveToolNames())
}

// ============================================================================
// PROMPT TESTS
// ============================================================================

func TestStore_SetActivePrompt_UnknownIsNoOp(t *testing.T) {
	store := NewStore()
	store.AddPrompt(PromptDefinition{Name: "default", Template: "be helpful"})

	store.SetActivePrompt("missing")

	assert.Equal(t, "default", store.ActivePromptName())
}

func TestStore_ActivePrompt_SwitchesWhenKnown(t *testing.T) {
	store := NewStore()
	store.AddPrompt(PromptDefinition{Name: "default", Template: "be helpful"})
	store.AddPrompt(PromptDefinition{Name: "extraction", Template: "extract data"})

	store.SetActivePrompt("extraction")

	prompt, ok := store.ActivePrompt()
	require.True(t, ok)
	assert.Equal(t, "extraction", prompt.Name)
	assert.Equal(t, "extract data", prompt.Template)
}

func TestStore_ActivePrompt_DanglingReturnsNone(t *testing.T) {
	store := NewStore()
	store.Restore(&Document{
		ActivePrompt: "removed",
	})

	prompt, ok := store.ActivePrompt()
	assert.False(t, ok)
	assert.Zero(t, prompt)
}

func TestStore_ActivePrompt_EmptyStoreReturnsNone(t *testing.T) {
	store := NewStore()

	_, ok := store.ActivePrompt()
	assert.False(t, ok)
}

func TestStore_AddPrompt_OverwritesSameName(t *testing.T) {
	store := NewStore()
	store.AddPrompt(PromptDefinition{Name: "default", Template: "v1", Version: "1.0"})
	store.AddPrompt(PromptDefinition{Name: "default", Template: "v2", Version: "2.0"})

	prompt, ok := store.Prompt("default")
	require.True(t, ok)
	assert.Equal(t, "v2", prompt.Template)
	assert.Equal(t, "2.0", prompt.Version)
}

// ============================================================================
// SERIALIZATION TESTS
// ============================================================================

func TestStore_SerializeDeserialize_RoundTrip(t *testing.T) {
	store := NewStore()
	store.AddTool(ToolDefinition{
		Name:        "firecrawl",
		Command:     "npx -y firecrawl-mcp",
		Environment: map[string]string{"FIRECRAWL_API_KEY": "secret"},
		Timeout:     45,
		Description: "Web scraping",
	})
	store.AddTool(toolDef("maps", false))
	store.AddPrompt(PromptDefinition{
		Name:        "default",
		Template:    "be helpful",
		Version:     "2.1",
		Description: "main prompt",
	})
	store.SetActivePrompt("default")
	store.SetModelID("openai/gpt-5")
	store.SetDebug(true)

	data, err := store.Serialize()
	require.NoError(t, err)

	restored := NewStore()
	require.NoError(t, restored.Deserialize(data))

	assert.Equal(t, store.Snapshot(), restored.Snapshot())
}

func TestStore_Deserialize_MissingFieldsTakeDefaults(t *testing.T) {
	doc := []byte(`{
		"tools": {
			"firecrawl": {"name": "firecrawl", "command": "npx -y firecrawl-mcp"}
		},
		"prompts": {
			"default": {"name": "default", "template": "be helpful"}
		}
	}`)

	store := NewStore()
	require.NoError(t, store.Deserialize(doc))

	def, ok := store.Tool("firecrawl")
	require.True(t, ok)
	assert.True(t, def.IsEnabled())
	assert.Equal(t, 30, def.Timeout)
	assert.NotNil(t, def.Environment)
	assert.Empty(t, def.Description)

	prompt, ok := store.Prompt("default")
	require.True(t, ok)
	assert.True(t, prompt.IsEnabled())
	assert.Equal(t, "1.0", prompt.Version)

	assert.Equal(t, "default", store.ActivePromptName())
	assert.Equal(t, "openai/gpt-5", store.ModelID())
	assert.False(t, store.Debug())
}

func TestStore_Deserialize_UnknownKeysIgnored(t *testing.T) {
	doc := []byte(`{
		"tools": {},
		"prompts": {},
		"active_tools": [],
		"future_feature": {"nested": true},
		"another_unknown": 42
	}`)

	store := NewStore()
	assert.NoError(t, store.Deserialize(doc))
}

func TestStore_Deserialize_FillsNameFromKey(t *testing.T) {
	doc := []byte(`{
		"tools": {"firecrawl": {"command": "npx -y firecrawl-mcp"}}
	}`)

	store := NewStore()
	require.NoError(t, store.Deserialize(doc))

	def, ok := store.Tool("firecrawl")
	require.True(t, ok)
	assert.Equal(t, "firecrawl", def.Name)
}

func TestStore_Deserialize_DeduplicatesActiveList(t *testing.T) {
	doc := []byte(`{
		"tools": {"a": {"name": "a", "command": "npx a"}},
		"active_tools": ["a", "a", "a"]
	}`)

	store := NewStore()
	require.NoError(t, store.Deserialize(doc))

	assert.Equal(t, []string{"a"}, store.ActiveToolNames())
}

func TestStore_Deserialize_InvalidJSONFails(t *testing.T) {
	store := NewStore()
	assert.Error(t, store.Deserialize([]byte("{not json")))
}

// ============================================================================
// PERSISTENCE TESTS
// ============================================================================

func TestLoadOrDefault_CreatesAndPersistsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	store, err := LoadOrDefault(path, CapabilityMap{"FIRECRAWL_API_KEY": "key-123"})
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "default configuration should be persisted")

	def, ok := store.Tool("firecrawl")
	require.True(t, ok)
	assert.Equal(t, "key-123", def.Environment["FIRECRAWL_API_KEY"])
}

func TestLoadOrDefault_LoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	original := NewStore()
	original.AddTool(toolDef("custom", true))
	original.AddPrompt(PromptDefinition{Name: "default", Template: "custom template"})
	require.NoError(t, original.SaveToFile(path))

	loaded, err := LoadOrDefault(path, CapabilityMap{})
	require.NoError(t, err)

	_, ok := loaded.Tool("custom")
	assert.True(t, ok)
	// The default catalog must not overwrite a persisted document.
	_, ok = loaded.Tool("firecrawl")
	assert.False(t, ok)
}

func TestStore_SaveToFile_RoundTripsThroughDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	store := NewDefaultStore(CapabilityMap{"FIRECRAWL_API_KEY": "abc"})
	require.NoError(t, store.SaveToFile(path))

	loaded := NewStore()
	require.NoError(t, loaded.LoadFromFile(path))

	assert.Equal(t, store.Snapshot(), loaded.Snapshot())
}
