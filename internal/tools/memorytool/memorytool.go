// Package memorytool exposes long-term memory and notes as model-callable
// tools. Dedup and embedding live in the memory service; these tools are
// thin argument adapters over it.
package memorytool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/sidekick/internal/memory"
	"github.com/haasonsaas/sidekick/internal/store"
	"github.com/haasonsaas/sidekick/internal/tools"
	"github.com/haasonsaas/sidekick/pkg/models"
)

// AddMemoryArgs are the add_memory parameters.
type AddMemoryArgs struct {
	Content  string `json:"content" jsonschema:"description=The fact to remember, phrased as a standalone statement."`
	Category string `json:"category,omitempty" jsonschema:"description=Optional category, e.g. preference, project, personal."`
}

// SearchMemoryArgs are the search_memory parameters.
type SearchMemoryArgs struct {
	Query string `json:"query" jsonschema:"description=What to look for in long-term memory."`
}

// ForgetMemoryArgs are the forget_memory parameters.
type ForgetMemoryArgs struct {
	ID int64 `json:"id" jsonschema:"description=The id of the memory to deactivate."`
}

// AddNoteArgs are the add_note parameters.
type AddNoteArgs struct {
	Content string `json:"content" jsonschema:"description=The note text."`
	Project string `json:"project,omitempty" jsonschema:"description=Optional project the note belongs to."`
}

// SearchNotesArgs are the search_notes parameters.
type SearchNotesArgs struct {
	Query string `json:"query" jsonschema:"description=What to look for in notes."`
}

// Tools builds the memory tool surface.
func Tools(svc *memory.Service, embedder memory.Embedder, repo store.Repository, logger *slog.Logger) []tools.Tool {
	if logger == nil {
		logger = slog.Default()
	}
	m := &memoryTools{svc: svc, embedder: embedder, repo: repo,
		logger: logger.With("component", "memorytool")}
	return []tools.Tool{
		tools.NewFunc("add_memory",
			"Store a durable fact about the user in long-term memory.",
			tools.SchemaFor(&AddMemoryArgs{}), m.addMemory),
		tools.NewFunc("search_memory",
			"Search long-term memory for facts relevant to a query.",
			tools.SchemaFor(&SearchMemoryArgs{}), m.searchMemory),
		tools.NewFunc("list_memories",
			"List every active long-term memory with its id.",
			json.RawMessage(`{"type":"object","properties":{}}`), m.listMemories),
		tools.NewFunc("forget_memory",
			"Deactivate a long-term memory by id.",
			tools.SchemaFor(&ForgetMemoryArgs{}), m.forgetMemory),
		tools.NewFunc("add_note",
			"Store a free-form note, optionally tied to a project.",
			tools.SchemaFor(&AddNoteArgs{}), m.addNote),
		tools.NewFunc("search_notes",
			"Search notes semantically for a query.",
			tools.SchemaFor(&SearchNotesArgs{}), m.searchNotes),
	}
}

type memoryTools struct {
	svc      *memory.Service
	embedder memory.Embedder
	repo     store.Repository
	logger   *slog.Logger
}

func (m *memoryTools) addMemory(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args AddMemoryArgs
	if err := json.Unmarshal(input, &args); err != nil || strings.TrimSpace(args.Content) == "" {
		return &models.ToolResult{IsError: true, Content: "add_memory requires non-empty content"}, nil
	}
	if args.Category == "" {
		args.Category = "general"
	}
	id, err := m.svc.Add(ctx, args.Content, args.Category)
	if err != nil {
		return &models.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	if id == 0 {
		return &models.ToolResult{Content: "Already known; nothing stored."}, nil
	}
	return &models.ToolResult{Content: fmt.Sprintf("Remembered (id %d).", id)}, nil
}

func (m *memoryTools) searchMemory(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args SearchMemoryArgs
	if err := json.Unmarshal(input, &args); err != nil || strings.TrimSpace(args.Query) == "" {
		return &models.ToolResult{IsError: true, Content: "search_memory requires a query"}, nil
	}
	embedding, err := m.embedder.Embed(ctx, args.Query)
	if err != nil {
		return &models.ToolResult{IsError: true, Content: "embedding failed: " + err.Error()}, nil
	}
	hits, err := m.svc.SearchRelevant(ctx, embedding)
	if err != nil {
		return &models.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	if len(hits) == 0 {
		return &models.ToolResult{Content: "No relevant memories found."}, nil
	}
	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", h.ID, h.Category, h.Content)
	}
	return &models.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}

func (m *memoryTools) listMemories(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	memories, err := m.repo.GetActiveMemories(ctx)
	if err != nil {
		return &models.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	if len(memories) == 0 {
		return &models.ToolResult{Content: "No memories stored."}, nil
	}
	var b strings.Builder
	for _, mem := range memories {
		if mem.Category == models.CategorySelfCorrection {
			continue
		}
		fmt.Fprintf(&b, "[%d] (%s) %s\n", mem.ID, mem.Category, mem.Content)
	}
	out := strings.TrimRight(b.String(), "\n")
	if out == "" {
		out = "No memories stored."
	}
	return &models.ToolResult{Content: out}, nil
}

func (m *memoryTools) forgetMemory(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args ForgetMemoryArgs
	if err := json.Unmarshal(input, &args); err != nil || args.ID == 0 {
		return &models.ToolResult{IsError: true, Content: "forget_memory requires a memory id"}, nil
	}
	if err := m.repo.DeactivateMemory(ctx, args.ID); err != nil {
		return &models.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	return &models.ToolResult{Content: fmt.Sprintf("Memory %d forgotten.", args.ID)}, nil
}

func (m *memoryTools) addNote(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args AddNoteArgs
	if err := json.Unmarshal(input, &args); err != nil || strings.TrimSpace(args.Content) == "" {
		return &models.ToolResult{IsError: true, Content: "add_note requires non-empty content"}, nil
	}
	id, err := m.svc.AddNote(ctx, args.Content, args.Project)
	if err != nil {
		return &models.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	return &models.ToolResult{Content: fmt.Sprintf("Note saved (id %d).", id)}, nil
}

func (m *memoryTools) searchNotes(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var args SearchNotesArgs
	if err := json.Unmarshal(input, &args); err != nil || strings.TrimSpace(args.Query) == "" {
		return &models.ToolResult{IsError: true, Content: "search_notes requires a query"}, nil
	}
	embedding, err := m.embedder.Embed(ctx, args.Query)
	if err != nil {
		return &models.ToolResult{IsError: true, Content: "embedding failed: " + err.Error()}, nil
	}
	notes, err := m.svc.SearchNotes(ctx, embedding)
	if err != nil {
		return &models.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	if len(notes) == 0 {
		return &models.ToolResult{Content: "No matching notes."}, nil
	}
	var b strings.Builder
	for _, n := range notes {
		if n.Project != "" {
			fmt.Fprintf(&b, "[%d] (%s) %s\n", n.ID, n.Project, n.Content)
		} else {
			fmt.Fprintf(&b, "[%d] %s\n", n.ID, n.Content)
		}
	}
	return &models.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}
