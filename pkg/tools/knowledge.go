package tools

import (
	"context"
	"fmt"
)

// SearchKnowledgeTool runs a semantic query against the knowledge store.
// Read-only, ignores dry-run.
type SearchKnowledgeTool struct {
	search Searcher
}

func NewSearchKnowledgeTool(search Searcher) *SearchKnowledgeTool {
	return &SearchKnowledgeTool{search: search}
}

func (t *SearchKnowledgeTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "search_knowledge",
		Description: "Search the knowledge base for entity info, manuals and notes",
		Parameters: []ToolParameter{
			{Name: "query", Type: "string", Description: "Search query", Required: true},
			{Name: "limit", Type: "integer", Description: "Maximum results", Minimum: ptr(1), Maximum: ptr(20)},
		},
	}
}

func (t *SearchKnowledgeTool) Execute(ctx context.Context, inv Invocation, args Args) Result {
	if t.search == nil {
		return Errorf("knowledge store not initialised")
	}
	query := args.String("query")
	limit := 3
	if n, ok := args.Float("limit"); ok {
		limit = int(n)
	}

	hits, err := t.search.Search(ctx, query, limit)
	if err != nil {
		return Errorf("knowledge search failed: %v", err)
	}

	results := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		results = append(results, map[string]any{
			"content":   h.Content,
			"source":    h.ID,
			"relevance": fmt.Sprintf("%.2f", h.Score),
		})
	}
	return Result{"action": "search_knowledge", "query": query, "results": results}
}
