// Package knowledge keeps an embedded vector index of the home: entity
// states plus any free-form notes from agent configuration. It backs the
// search_knowledge tool and semantic entity discovery for agents configured
// without an explicit entity list.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/castellan/castellan/pkg/bus"
	"github.com/castellan/castellan/pkg/llms"
)

const (
	entityCollection = "entities"
	noteCollection   = "notes"
)

// Result is one hit from a similarity search.
type Result struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Store is an in-memory chromem-go database fed by a provider's embedding
// endpoint. All methods are safe for concurrent use.
type Store struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc
	model string

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewStore builds a store that embeds via the given provider and model.
func NewStore(provider llms.Provider, model string) *Store {
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return provider.Embed(ctx, model, text)
	}
	return &Store{
		db:          chromem.NewDB(),
		embed:       embed,
		model:       model,
		collections: make(map[string]*chromem.Collection),
	}
}

func (s *Store) collection(name string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, s.embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection %q: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

// IngestStates indexes the entity registry. Each entity becomes one document
// whose text mixes the id, friendly name, domain and current state so that
// natural-language queries land on it.
func (s *Store) IngestStates(ctx context.Context, states []bus.EntityState) error {
	col, err := s.collection(entityCollection)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(states))
	for _, st := range states {
		docs = append(docs, chromem.Document{
			ID:      st.EntityID,
			Content: entityText(st),
			Metadata: map[string]string{
				"kind":   "entity",
				"domain": st.Domain(),
			},
		})
	}
	if len(docs) == 0 {
		return nil
	}
	if err := col.AddDocuments(ctx, docs, 4); err != nil {
		return fmt.Errorf("failed to index entity states: %w", err)
	}
	slog.Debug("Indexed entity states", "count", len(docs))
	return nil
}

// IngestNote indexes a free-form knowledge blob, typically the knowledge
// section of an agent's configuration.
func (s *Store) IngestNote(ctx context.Context, id, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	col, err := s.collection(noteCollection)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:       id,
		Content:  content,
		Metadata: map[string]string{"kind": "note"},
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("failed to index note %q: %w", id, err)
	}
	return nil
}

// Search queries both collections and merges results by score.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 5
	}
	var merged []Result
	for _, name := range []string{entityCollection, noteCollection} {
		hits, err := s.query(ctx, name, query, topK)
		if err != nil {
			return nil, err
		}
		merged = append(merged, hits...)
	}
	sortByScore(merged)
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// SearchEntities returns entity ids relevant to the query, used for dynamic
// discovery when an agent has no configured entity list.
func (s *Store) SearchEntities(ctx context.Context, query string, topK int) ([]string, error) {
	hits, err := s.query(ctx, entityCollection, query, topK)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

func (s *Store) query(ctx context.Context, collection, query string, topK int) ([]Result, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	// chromem returns an error when asked for more results than documents.
	if n := col.Count(); n == 0 {
		return nil, nil
	} else if topK > n {
		topK = n
	}
	hits, err := col.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{
			ID:       h.ID,
			Content:  h.Content,
			Score:    h.Similarity,
			Metadata: h.Metadata,
		})
	}
	return out, nil
}

func entityText(st bus.EntityState) string {
	var b strings.Builder
	b.WriteString(st.EntityID)
	if name := st.FriendlyName(); name != "" && name != st.EntityID {
		b.WriteString(" (")
		b.WriteString(name)
		b.WriteString(")")
	}
	b.WriteString(" domain=")
	b.WriteString(st.Domain())
	b.WriteString(" state=")
	b.WriteString(st.State)
	return b.String()
}

func sortByScore(rs []Result) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j].Score > rs[j-1].Score; j-- {
			rs[j], rs[j-1] = rs[j-1], rs[j]
		}
	}
}
