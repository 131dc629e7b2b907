package tools

import (
	"context"

	"github.com/brandon/mailkan/internal/kanban"
)

// CacheStatusTool reports the folder cache entries
type CacheStatusTool struct {
	service *kanban.Service
}

func (t *CacheStatusTool) Name() string { return "cache_status" }

func (t *CacheStatusTool) Description() string {
	return "Show the folder cache entries, their age and the configured IMAP endpoint"
}

func (t *CacheStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *CacheStatusTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return t.service.CacheStatus(), nil
}

// CacheClearTool drops the whole folder cache
type CacheClearTool struct {
	service *kanban.Service
}

func (t *CacheClearTool) Name() string { return "cache_clear" }

func (t *CacheClearTool) Description() string {
	return "Drop every folder cache entry"
}

func (t *CacheClearTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *CacheClearTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	n := t.service.ClearCache()
	return map[string]interface{}{"success": true, "cleared": n}, nil
}

// CacheInvalidateTool drops the cache entries of some folders
type CacheInvalidateTool struct {
	service *kanban.Service
}

func (t *CacheInvalidateTool) Name() string { return "cache_invalidate" }

func (t *CacheInvalidateTool) Description() string {
	return "Drop the cache entries whose key contains one of the given IMAP folder names"
}

func (t *CacheInvalidateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"folders": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "IMAP folder names",
			},
		},
		"required": []string{"folders"},
	}
}

func (t *CacheInvalidateTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	folders := stringList(params, "folders")
	n, err := t.service.InvalidateCache(folders)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "invalidated": n, "folders": folders}, nil
}

// TestConnectionTool checks that the IMAP server accepts a login
type TestConnectionTool struct {
	service *kanban.Service
}

func (t *TestConnectionTool) Name() string { return "test_connection" }

func (t *TestConnectionTool) Description() string {
	return "Log in to the IMAP server and report whether it is reachable"
}

func (t *TestConnectionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *TestConnectionTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return t.service.TestConnection(ctx), nil
}

// EnsureFoldersTool creates the board folders on the server
type EnsureFoldersTool struct {
	service *kanban.Service
}

func (t *EnsureFoldersTool) Name() string { return "ensure_folders" }

func (t *EnsureFoldersTool) Description() string {
	return "Create the in-progress and awaiting-reply folders on the IMAP server when missing"
}

func (t *EnsureFoldersTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *EnsureFoldersTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return t.service.EnsureFolders(ctx)
}
