package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/brandon/mailkan/pkg/types"
)

// SQLitePersister keeps the snapshot in a SQLite database
type SQLitePersister struct {
	db *sqlx.DB
}

type messageRow struct {
	Position      int64  `db:"position"`
	ID            string `db:"id"`
	UID           int64  `db:"uid"`
	Subject       string `db:"subject"`
	Sender        string `db:"sender"`
	Recipient     string `db:"recipient"`
	Date          string `db:"date"`
	DateEstimated bool   `db:"date_estimated"`
	BodyText      string `db:"body_text"`
	BodyHTML      string `db:"body_html"`
	Preview       string `db:"preview"`
	Column        string `db:"board_column"`
	Folder        string `db:"folder"`
	FetchedAt     string `db:"fetched_at"`
	LastModified  string `db:"last_modified"`
}

// NewSQLitePersister opens (or creates) the database at dbPath and applies the schema
func NewSQLitePersister(dbPath string) (*SQLitePersister, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLitePersister{db: db}, nil
}

// Load returns all rows in snapshot order
func (p *SQLitePersister) Load() ([]types.Message, error) {
	var rows []messageRow
	if err := p.db.Select(&rows, "SELECT * FROM messages ORDER BY position"); err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	messages := make([]types.Message, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, r.message())
	}
	return messages, nil
}

// Save replaces the stored snapshot in a single transaction
func (p *SQLitePersister) Save(messages []types.Message) error {
	tx, err := p.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec("DELETE FROM messages"); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	const query = `
		INSERT INTO messages (
			position, id, uid, subject, sender, recipient,
			date, date_estimated, body_text, body_html, preview,
			board_column, folder, fetched_at, last_modified
		) VALUES (
			:position, :id, :uid, :subject, :sender, :recipient,
			:date, :date_estimated, :body_text, :body_html, :preview,
			:board_column, :folder, :fetched_at, :last_modified
		)`

	stmt, err := tx.PrepareNamed(query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range messages {
		if _, err := stmt.Exec(newMessageRow(int64(i), &messages[i])); err != nil {
			return fmt.Errorf("failed to insert message %s: %w", messages[i].ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Close closes the database connection
func (p *SQLitePersister) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func newMessageRow(position int64, m *types.Message) messageRow {
	return messageRow{
		Position:      position,
		ID:            m.ID,
		UID:           int64(m.UID),
		Subject:       m.Subject,
		Sender:        m.From,
		Recipient:     m.To,
		Date:          formatTime(m.Date),
		DateEstimated: m.DateEstimated,
		BodyText:      m.Text,
		BodyHTML:      m.HTML,
		Preview:       m.Preview,
		Column:        m.Column,
		Folder:        m.Folder,
		FetchedAt:     formatTime(m.FetchedAt),
		LastModified:  formatTime(m.LastModified),
	}
}

func (r *messageRow) message() types.Message {
	return types.Message{
		ID:            r.ID,
		UID:           uint32(r.UID),
		Subject:       r.Subject,
		From:          r.Sender,
		To:            r.Recipient,
		Date:          parseTime(r.Date),
		DateEstimated: r.DateEstimated,
		Text:          r.BodyText,
		HTML:          r.BodyHTML,
		Preview:       r.Preview,
		Column:        r.Column,
		Folder:        r.Folder,
		FetchedAt:     parseTime(r.FetchedAt),
		LastModified:  parseTime(r.LastModified),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
