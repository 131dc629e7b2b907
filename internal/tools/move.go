package tools

import (
	"context"

	"github.com/brandon/mailkan/internal/kanban"
)

var metadataProperties = map[string]interface{}{
	"subject": map[string]interface{}{
		"type":        "string",
		"description": "Optional: Subject of the message, used to find it again after the move",
	},
	"from": map[string]interface{}{
		"type":        "string",
		"description": "Optional: Sender of the message",
	},
}

func metadataParam(params map[string]interface{}) kanban.Metadata {
	return kanban.Metadata{
		Subject: stringParam(params, "subject"),
		From:    stringParam(params, "from"),
	}
}

// MoveTool moves a message between columns on the server
type MoveTool struct {
	service *kanban.Service
	columns []string
}

func (t *MoveTool) Name() string { return "move_live" }

func (t *MoveTool) Description() string {
	return "Move an email to another board column by moving it between IMAP folders"
}

func (t *MoveTool) InputSchema() map[string]interface{} {
	props := map[string]interface{}{
		"uid": map[string]interface{}{
			"type":        "integer",
			"description": "IMAP UID of the message in the source folder",
			"minimum":     1,
		},
		"from_column": columnProperty(t.columns, "Current column"),
		"to_column":   columnProperty(t.columns, "Target column"),
	}
	for k, v := range metadataProperties {
		props[k] = v
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   []string{"uid", "from_column", "to_column"},
	}
}

func (t *MoveTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	uid, err := uidParam(params, "uid")
	if err != nil {
		return nil, err
	}
	from, err := requiredString(params, "from_column")
	if err != nil {
		return nil, err
	}
	to, err := requiredString(params, "to_column")
	if err != nil {
		return nil, err
	}
	return t.service.MoveLive(ctx, kanban.MoveRequest{
		UID:        uid,
		FromColumn: from,
		ToColumn:   to,
		Metadata:   metadataParam(params),
	})
}

// DeleteTool deletes a message from a column folder
type DeleteTool struct {
	service *kanban.Service
	columns []string
}

func (t *DeleteTool) Name() string { return "delete_live" }

func (t *DeleteTool) Description() string {
	return "Permanently delete an email from its IMAP folder"
}

func (t *DeleteTool) InputSchema() map[string]interface{} {
	props := map[string]interface{}{
		"uid": map[string]interface{}{
			"type":        "integer",
			"description": "IMAP UID of the message",
			"minimum":     1,
		},
		"column": columnProperty(t.columns, "Column holding the message"),
	}
	for k, v := range metadataProperties {
		props[k] = v
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   []string{"uid", "column"},
	}
}

func (t *DeleteTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	uid, err := uidParam(params, "uid")
	if err != nil {
		return nil, err
	}
	column, err := requiredString(params, "column")
	if err != nil {
		return nil, err
	}
	return t.service.DeleteLive(ctx, uid, column, metadataParam(params))
}

// ArchiveTool removes a card from the board and the server
type ArchiveTool struct {
	service *kanban.Service
}

func (t *ArchiveTool) Name() string { return "archive" }

func (t *ArchiveTool) Description() string {
	return "Remove a card from the persisted board and delete its message on the server"
}

func (t *ArchiveTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Card ID from the board",
			},
		},
		"required": []string{"id"},
	}
}

func (t *ArchiveTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id, err := requiredString(params, "id")
	if err != nil {
		return nil, err
	}
	return t.service.Archive(ctx, id)
}
