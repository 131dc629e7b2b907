package kanban

import (
	"strings"

	"github.com/brandon/mailkan/internal/config"
	"github.com/brandon/mailkan/internal/email"
)

// Board columns
const (
	ColumnInbox         = "posteingang"
	ColumnInProgress    = "in-bearbeitung"
	ColumnAwaitingReply = "warte-auf-antwort"
)

// Columns is the fixed mapping between board columns and IMAP folders
type Columns struct {
	order    []string
	toFolder map[string]string
}

// NewColumns builds the mapping from the configured folder names
func NewColumns(folders config.FolderConfig) *Columns {
	return &Columns{
		order: []string{ColumnInbox, ColumnInProgress, ColumnAwaitingReply},
		toFolder: map[string]string{
			ColumnInbox:         folders.Inbox,
			ColumnInProgress:    folders.InProgress,
			ColumnAwaitingReply: folders.AwaitingReply,
		},
	}
}

// Names returns the columns in board order
func (c *Columns) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Folder returns the IMAP folder of column
func (c *Columns) Folder(column string) (string, error) {
	folder, ok := c.toFolder[column]
	if !ok {
		return "", &email.ValidationError{
			Field:   "column",
			Message: "unknown column " + column + ", valid columns: " + strings.Join(c.order, ", "),
		}
	}
	return folder, nil
}

// Column returns the column backed by folder. Folder names compare
// case-insensitively, as IMAP does for INBOX.
func (c *Columns) Column(folder string) (string, bool) {
	for _, column := range c.order {
		if strings.EqualFold(c.toFolder[column], folder) {
			return column, true
		}
	}
	return "", false
}

// Inbox returns the folder of the inbox column
func (c *Columns) Inbox() string {
	return c.toFolder[ColumnInbox]
}

// ManagedFolders returns the folders created at startup (all but the inbox)
func (c *Columns) ManagedFolders() []string {
	return []string{c.toFolder[ColumnInProgress], c.toFolder[ColumnAwaitingReply]}
}
