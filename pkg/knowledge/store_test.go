package knowledge

import (
	"context"
	"strings"
	"testing"

	"github.com/castellan/castellan/pkg/bus"
	"github.com/castellan/castellan/pkg/llms"
)

// stubProvider embeds by keyword bucket so that similarity is deterministic.
type stubProvider struct{}

func (stubProvider) Name() string { return "stub" }

func (stubProvider) Chat(ctx context.Context, model string, messages []llms.Message, opts *llms.ChatOptions) (*llms.ChatResponse, error) {
	return &llms.ChatResponse{Content: "{}"}, nil
}

func (stubProvider) Embed(ctx context.Context, model, text string) ([]float32, error) {
	v := []float32{0.1, 0.1, 0.1}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "light") {
		v[0] = 1
	}
	if strings.Contains(lower, "climate") || strings.Contains(lower, "temperature") {
		v[1] = 1
	}
	if strings.Contains(lower, "lock") {
		v[2] = 1
	}
	return v, nil
}

func testStates() []bus.EntityState {
	return []bus.EntityState{
		{EntityID: "light.living_room", State: "on", Attributes: map[string]any{"friendly_name": "Living Room Light"}},
		{EntityID: "climate.bedroom", State: "heat", Attributes: map[string]any{"friendly_name": "Bedroom Thermostat"}},
		{EntityID: "lock.front_door", State: "locked", Attributes: map[string]any{"friendly_name": "Front Door"}},
	}
}

func TestSearchEntities(t *testing.T) {
	store := NewStore(stubProvider{}, "test-embed")
	ctx := context.Background()

	if err := store.IngestStates(ctx, testStates()); err != nil {
		t.Fatalf("IngestStates failed: %v", err)
	}

	ids, err := store.SearchEntities(ctx, "which lights are on", 1)
	if err != nil {
		t.Fatalf("SearchEntities failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "light.living_room" {
		t.Errorf("expected light.living_room, got %v", ids)
	}
}

func TestSearchMergesNotes(t *testing.T) {
	store := NewStore(stubProvider{}, "test-embed")
	ctx := context.Background()

	if err := store.IngestStates(ctx, testStates()); err != nil {
		t.Fatalf("IngestStates failed: %v", err)
	}
	if err := store.IngestNote(ctx, "note-1", "the temperature preference is 21 degrees"); err != nil {
		t.Fatalf("IngestNote failed: %v", err)
	}

	hits, err := store.Search(ctx, "preferred temperature for the climate", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected at least one hit")
	}
	found := false
	for _, h := range hits {
		if h.ID == "note-1" || h.ID == "climate.bedroom" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a climate-related hit, got %+v", hits)
	}
}

func TestSearchEmptyStore(t *testing.T) {
	store := NewStore(stubProvider{}, "test-embed")
	hits, err := store.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("Search on empty store failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestIngestNoteSkipsEmpty(t *testing.T) {
	store := NewStore(stubProvider{}, "test-embed")
	if err := store.IngestNote(context.Background(), "blank", "   "); err != nil {
		t.Fatalf("blank note should be a no-op, got %v", err)
	}
}
