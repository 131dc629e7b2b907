package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailkan/internal/config"
	"github.com/brandon/mailkan/pkg/types"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func sampleBoard() []types.Message {
	return []types.Message{
		{
			ID:        "a",
			UID:       1,
			Subject:   "Angebot",
			From:      "Alice <alice@example.com>",
			To:        "me@example.com",
			Date:      baseDate,
			Preview:   "Bitte um Rückmeldung",
			Column:    "posteingang",
			Folder:    "INBOX",
			FetchedAt: baseDate.Add(time.Minute),
		},
		{
			ID:            "b",
			UID:           2,
			Subject:       "Rechnung",
			From:          "Bob <bob@example.com>",
			Date:          baseDate.Add(time.Hour),
			DateEstimated: true,
			Text:          "Betrag 10 EUR",
			HTML:          "<p>Betrag 10 EUR</p>",
			Column:        "warte-auf-antwort",
			Folder:        "Warte_auf_Antwort",
		},
	}
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "emails.json")
	s := NewStore(NewJSONPersister(path), quietLogger())
	s.SetClock(func() time.Time { return mergedAt })
	require.NoError(t, s.Open())
	return s, path
}

func TestJSONPersisterMissingFileIsEmpty(t *testing.T) {
	p := NewJSONPersister(filepath.Join(t.TempDir(), "missing.json"))

	messages, err := p.Load()
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.NotNil(t, messages)
}

func TestJSONPersisterRoundTripLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "emails.json")
	p := NewJSONPersister(path)

	require.NoError(t, p.Save(sampleBoard()))
	require.NoError(t, p.Save(sampleBoard()[:1]))

	loaded, err := p.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "a", loaded[0].ID)
	assert.True(t, baseDate.Equal(loaded[0].Date))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "emails.json", entries[0].Name())
}

func TestJSONPersisterRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emails.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewJSONPersister(path).Load()
	assert.Error(t, err)
}

func TestSQLitePersisterRoundTrip(t *testing.T) {
	p, err := NewSQLitePersister(filepath.Join(t.TempDir(), "db", "mailkan.db"))
	require.NoError(t, err)
	defer p.Close()

	board := sampleBoard()
	require.NoError(t, p.Save(board))

	loaded, err := p.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	assert.Equal(t, "a", loaded[0].ID)
	assert.Equal(t, "Alice <alice@example.com>", loaded[0].From)
	assert.Equal(t, "me@example.com", loaded[0].To)
	assert.True(t, board[0].Date.Equal(loaded[0].Date))
	assert.True(t, board[0].FetchedAt.Equal(loaded[0].FetchedAt))
	assert.True(t, loaded[0].LastModified.IsZero())

	assert.Equal(t, "b", loaded[1].ID)
	assert.True(t, loaded[1].DateEstimated)
	assert.Equal(t, "<p>Betrag 10 EUR</p>", loaded[1].HTML)
	assert.Equal(t, "warte-auf-antwort", loaded[1].Column)

	require.NoError(t, p.Save(board[1:]))
	loaded, err = p.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "b", loaded[0].ID)
}

func TestNewPersisterSelectsBackend(t *testing.T) {
	cfg := config.Default()
	cfg.StorePath = filepath.Join(t.TempDir(), "emails.json")
	p, err := NewPersister(cfg)
	require.NoError(t, err)
	assert.IsType(t, &JSONPersister{}, p)

	cfg.StoreBackend = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "mailkan.db")
	p, err = NewPersister(cfg)
	require.NoError(t, err)
	assert.IsType(t, &SQLitePersister{}, p)
	require.NoError(t, p.Close())

	cfg.StoreBackend = "redis"
	_, err = NewPersister(cfg)
	assert.Error(t, err)
}

func TestStoreReconcilePersists(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.Persist(sampleBoard()))

	fresh := []types.Message{
		{Subject: "Angebot", From: "Alice <alice@example.com>", Date: baseDate, UID: 11, Column: "in-bearbeitung", Folder: "In_Bearbeitung"},
		{Subject: "Neu", From: "Carol", Date: baseDate, UID: 12, Column: "posteingang", Folder: "INBOX"},
	}
	merged, stats, err := s.Reconcile(fresh)
	require.NoError(t, err)
	assert.Equal(t, MergeStats{Inserted: 1, Updated: 1, Preserved: 1}, stats)
	assert.Len(t, merged, 3)

	reopened := NewStore(NewJSONPersister(path), quietLogger())
	require.NoError(t, reopened.Open())
	board, err := reopened.Load()
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, "a", board[0].ID)
	assert.Equal(t, uint32(11), board[0].UID)
	assert.Equal(t, "in-bearbeitung", board[0].Column)
}

func TestStoreRemove(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Persist(sampleBoard()))

	removed, ok, err := s.Remove("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Angebot", removed.Subject)

	_, ok, err = s.Remove("a")
	require.NoError(t, err)
	assert.False(t, ok)

	board, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, board, 1)
}

func TestStoreApplyMove(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Persist(sampleBoard()))

	newUID := uint32(99)
	ok, err := s.ApplyMove("INBOX", 1, "in-bearbeitung", "In_Bearbeitung", &newUID)
	require.NoError(t, err)
	require.True(t, ok)

	got, found, err := s.Get("a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "in-bearbeitung", got.Column)
	assert.Equal(t, "In_Bearbeitung", got.Folder)
	assert.Equal(t, uint32(99), got.UID)
	assert.Equal(t, mergedAt, got.LastModified)

	ok, err = s.ApplyMove("INBOX", 1, "in-bearbeitung", "In_Bearbeitung", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreApplyMoveKeepsUIDWhenUnresolved(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Persist(sampleBoard()))

	ok, err := s.ApplyMove("Warte_auf_Antwort", 2, "posteingang", "INBOX", nil)
	require.NoError(t, err)
	require.True(t, ok)

	got, _, err := s.Get("b")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), got.UID)
	assert.Equal(t, "INBOX", got.Folder)
}

func TestStoreByColumnAndStats(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Persist(sampleBoard()))

	inbox, err := s.ByColumn("posteingang")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "a", inbox[0].ID)

	all, err := s.ByColumn("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	stats, err := s.Stats([]string{"posteingang", "in-bearbeitung", "warte-auf-antwort"})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, map[string]int{
		"posteingang":       1,
		"in-bearbeitung":    0,
		"warte-auf-antwort": 1,
	}, stats.ByColumn)
}

func TestStoreSearch(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Persist(sampleBoard()))

	tests := []struct {
		name  string
		query string
		ids   []string
	}{
		{"subject", "rechnung", []string{"b"}},
		{"sender", "ALICE", []string{"a"}},
		{"preview", "rückmeldung", []string{"a"}},
		{"empty query returns newest first", "", []string{"b", "a"}},
		{"no match", "nothing", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := s.Search(tt.query, 0)
			require.NoError(t, err)
			var ids []string
			for _, m := range results {
				ids = append(ids, m.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}

	limited, err := s.Search("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStoreFlushWritesSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emails.json")
	s := NewStore(NewJSONPersister(path), quietLogger())
	require.NoError(t, s.Open())
	require.NoError(t, s.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestConcurrentReconcileKeepsEveryRecord(t *testing.T) {
	s, path := newTestStore(t)

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.Reconcile([]types.Message{{
				UID:     uint32(i + 1),
				Subject: fmt.Sprintf("Nachricht %d", i),
				From:    "Alice <alice@example.com>",
				Date:    baseDate.Add(time.Duration(i) * time.Minute),
				Column:  "posteingang",
				Folder:  "INBOX",
			}})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	board, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, board, writers)

	onDisk, err := NewJSONPersister(path).Load()
	require.NoError(t, err)
	assert.Len(t, onDisk, writers)

	ids := make(map[string]bool, writers)
	for _, m := range onDisk {
		ids[m.ID] = true
	}
	assert.Len(t, ids, writers)
}
