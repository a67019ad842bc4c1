package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/sidekick/internal/store"
)

// Embedder produces the vector for a piece of text. The LLM client
// satisfies this; anthropic backends pair with a dedicated Ollama embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service sits between the pipeline/tools and the repository for memory
// and note operations: it owns embedding, similarity dedup and the
// relevance threshold with its top-3 fallback.
type Service struct {
	repo      store.Repository
	embedder  Embedder
	threshold float64
	topK      int
	logger    *slog.Logger
}

// NewService builds the memory service. threshold is the L2 distance below
// which a hit counts as relevant; topK bounds the search.
func NewService(repo store.Repository, embedder Embedder, threshold float64, topK int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if topK <= 0 {
		topK = 5
	}
	return &Service{
		repo:      repo,
		embedder:  embedder,
		threshold: threshold,
		topK:      topK,
		logger:    logger.With("component", "memory"),
	}
}

// Add stores a memory unless an active one is textually similar above the
// dedup threshold. Returns the new id, or 0 when deduplicated.
func (s *Service) Add(ctx context.Context, content, category string) (int64, error) {
	active, err := s.repo.GetActiveMemories(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load active memories: %w", err)
	}
	existing := make([]string, 0, len(active))
	for _, m := range active {
		existing = append(existing, m.Content)
	}
	if IsDuplicate(content, existing) {
		s.logger.Debug("memory deduplicated", slog.String("category", category))
		return 0, nil
	}
	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return 0, fmt.Errorf("failed to embed memory: %w", err)
	}
	id, err := s.repo.AddMemory(ctx, content, category, embedding)
	if err != nil {
		return 0, fmt.Errorf("failed to save memory: %w", err)
	}
	return id, nil
}

// SearchRelevant returns the memories within the relevance threshold for
// an already-computed query embedding, falling back to the top 3 hits when
// nothing passes. An empty store yields an empty slice.
func (s *Service) SearchRelevant(ctx context.Context, embedding []float32) ([]store.ScoredMemory, error) {
	hits, err := s.repo.SearchSimilarMemories(ctx, embedding, s.topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	var relevant []store.ScoredMemory
	for _, h := range hits {
		if h.Distance < s.threshold {
			relevant = append(relevant, h)
		}
	}
	if len(relevant) == 0 {
		if len(hits) > 3 {
			hits = hits[:3]
		}
		return hits, nil
	}
	return relevant, nil
}

// SearchNotes returns the top notes for a query embedding.
func (s *Service) SearchNotes(ctx context.Context, embedding []float32) ([]store.ScoredNote, error) {
	notes, err := s.repo.SearchSimilarNotes(ctx, embedding, s.topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search notes: %w", err)
	}
	return notes, nil
}

// AddNote embeds and stores a free-form note.
func (s *Service) AddNote(ctx context.Context, content, project string) (int64, error) {
	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return 0, fmt.Errorf("failed to embed note: %w", err)
	}
	id, err := s.repo.AddNote(ctx, content, project, embedding)
	if err != nil {
		return 0, fmt.Errorf("failed to save note: %w", err)
	}
	return id, nil
}

// UserFacts extracts durable facts from the active (non-private) memories.
func (s *Service) UserFacts(ctx context.Context) ([]string, error) {
	active, err := s.repo.GetActiveMemories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active memories: %w", err)
	}
	return ExtractUserFacts(active), nil
}
