package tools

import (
	"context"

	"github.com/brandon/mailkan/internal/kanban"
)

// FetchAllTool fetches every board column live from IMAP
type FetchAllTool struct {
	service *kanban.Service
}

func (t *FetchAllTool) Name() string { return "fetch_all_live" }

func (t *FetchAllTool) Description() string {
	return "Fetch the newest emails of all board columns directly from the IMAP server (cached for the configured TTL)"
}

func (t *FetchAllTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"force_refresh": forceRefreshProperty,
		},
	}
}

func (t *FetchAllTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	force, err := boolParam(params, "force_refresh")
	if err != nil {
		return nil, err
	}
	return t.service.FetchAll(ctx, force)
}

// FetchFolderTool fetches a single column
type FetchFolderTool struct {
	service *kanban.Service
	columns []string
}

func (t *FetchFolderTool) Name() string { return "fetch_folder_live" }

func (t *FetchFolderTool) Description() string {
	return "Fetch the newest emails of one board column from the IMAP server"
}

func (t *FetchFolderTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"column":        columnProperty(t.columns, "Board column to fetch"),
			"force_refresh": forceRefreshProperty,
		},
		"required": []string{"column"},
	}
}

func (t *FetchFolderTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	column, err := requiredString(params, "column")
	if err != nil {
		return nil, err
	}
	force, err := boolParam(params, "force_refresh")
	if err != nil {
		return nil, err
	}
	return t.service.FetchFolder(ctx, column, force)
}

// SyncBoardTool reconciles a live fetch into the persisted board
type SyncBoardTool struct {
	service *kanban.Service
}

func (t *SyncBoardTool) Name() string { return "sync_board" }

func (t *SyncBoardTool) Description() string {
	return "Fetch all columns and merge them into the persisted board, keeping card IDs stable"
}

func (t *SyncBoardTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"force_refresh": forceRefreshProperty,
		},
	}
}

func (t *SyncBoardTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	force, err := boolParam(params, "force_refresh")
	if err != nil {
		return nil, err
	}
	return t.service.Sync(ctx, force)
}
