package tools

import (
	"context"

	"github.com/brandon/mailkan/internal/kanban"
)

// BoardTool lists the persisted cards
type BoardTool struct {
	service *kanban.Service
	columns []string
}

func (t *BoardTool) Name() string { return "board" }

func (t *BoardTool) Description() string {
	return "List the cards of the persisted board, optionally for one column"
}

func (t *BoardTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"column": columnProperty(t.columns, "Optional: Only cards of this column"),
		},
	}
}

func (t *BoardTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return t.service.Board(stringParam(params, "column"))
}

// StatsTool counts the cards per column
type StatsTool struct {
	service *kanban.Service
}

func (t *StatsTool) Name() string { return "stats" }

func (t *StatsTool) Description() string {
	return "Count the persisted cards per board column"
}

func (t *StatsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *StatsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return t.service.Stats()
}

// SearchTool searches the persisted board
type SearchTool struct {
	service      *kanban.Service
	defaultLimit int
}

func (t *SearchTool) Name() string { return "search" }

func (t *SearchTool) Description() string {
	return "Search the persisted board by subject, sender or preview text"
}

func (t *SearchTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Case-insensitive substring",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Result limit (max: 1000)",
				"minimum":     1,
				"maximum":     1000,
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	query, err := requiredString(params, "query")
	if err != nil {
		return nil, err
	}
	limit := intParam(params, "limit", t.defaultLimit)
	if limit <= 0 {
		limit = t.defaultLimit
	}
	if limit > 1000 {
		limit = 1000
	}
	return t.service.Search(query, limit)
}
