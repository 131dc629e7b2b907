package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailkan/internal/config"
	"github.com/brandon/mailkan/pkg/types"
)

// Store is the in-memory board backed by a persisted snapshot. All writes
// are serialised and every change is saved before the method returns.
type Store struct {
	mu        sync.Mutex
	persister Persister
	messages  []types.Message
	loaded    bool
	now       func() time.Time
	logger    *logrus.Logger
}

// NewStore creates a new store on top of persister
func NewStore(persister Persister, logger *logrus.Logger) *Store {
	return &Store{
		persister: persister,
		now:       time.Now,
		logger:    logger,
	}
}

// NewPersister builds the persister selected by the configuration
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		return NewSQLitePersister(cfg.SQLitePath)
	case config.StoreJSON, "":
		return NewJSONPersister(cfg.StorePath), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.StoreBackend)
	}
}

// SetClock replaces the time source
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Open loads the persisted snapshot into memory
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() error {
	messages, err := s.persister.Load()
	if err != nil {
		return fmt.Errorf("failed to load board: %w", err)
	}
	s.messages = messages
	s.loaded = true
	s.logger.WithField("count", len(messages)).Info("Board loaded")
	return nil
}

func (s *Store) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	return s.loadLocked()
}

// Load returns a copy of the whole board
func (s *Store) Load() ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	return clone(s.messages), nil
}

// Persist replaces the board with messages and saves it
func (s *Store) Persist(messages []types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked(clone(messages))
}

func (s *Store) saveLocked(messages []types.Message) error {
	if err := s.persister.Save(messages); err != nil {
		return fmt.Errorf("failed to persist board: %w", err)
	}
	s.messages = messages
	s.loaded = true
	return nil
}

// Reconcile merges fresh into the board and persists the result
func (s *Store) Reconcile(fresh []types.Message) ([]types.Message, MergeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, MergeStats{}, err
	}

	merged, stats := Merge(s.messages, fresh, s.now())
	if err := s.saveLocked(merged); err != nil {
		return nil, MergeStats{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"count":     len(merged),
		"inserted":  stats.Inserted,
		"updated":   stats.Updated,
		"preserved": stats.Preserved,
	}).Info("Board reconciled")
	return clone(merged), stats, nil
}

// Get returns the record with id
func (s *Store) Get(id string) (types.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return types.Message{}, false, err
	}
	for _, m := range s.messages {
		if m.ID == id {
			return m, true, nil
		}
	}
	return types.Message{}, false, nil
}

// Remove deletes the record with id and returns it
func (s *Store) Remove(id string) (types.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return types.Message{}, false, err
	}

	for i, m := range s.messages {
		if m.ID != id {
			continue
		}
		remaining := make([]types.Message, 0, len(s.messages)-1)
		remaining = append(remaining, s.messages[:i]...)
		remaining = append(remaining, s.messages[i+1:]...)
		if err := s.saveLocked(remaining); err != nil {
			return types.Message{}, false, err
		}
		return m, true, nil
	}
	return types.Message{}, false, nil
}

// ApplyMove updates the record known as (fromFolder, uid) after a server
// side move. newUID may be nil when the destination UID is unknown.
func (s *Store) ApplyMove(fromFolder string, uid uint32, toColumn, toFolder string, newUID *uint32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return false, err
	}

	messages := clone(s.messages)
	for i := range messages {
		if messages[i].Folder != fromFolder || messages[i].UID != uid {
			continue
		}
		messages[i].Column = toColumn
		messages[i].Folder = toFolder
		if newUID != nil {
			messages[i].UID = *newUID
		}
		messages[i].LastModified = s.now()
		if err := s.saveLocked(messages); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// ByColumn returns the records of column, or the whole board for ""
func (s *Store) ByColumn(column string) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	out := []types.Message{}
	for _, m := range s.messages {
		if column == "" || m.Column == column {
			out = append(out, m)
		}
	}
	return out, nil
}

// Stats counts the records per column
func (s *Store) Stats(columns []string) (types.BoardStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return types.BoardStats{}, err
	}

	stats := types.BoardStats{
		Total:    len(s.messages),
		ByColumn: make(map[string]int, len(columns)),
	}
	for _, c := range columns {
		stats.ByColumn[c] = 0
	}
	for _, m := range s.messages {
		stats.ByColumn[m.Column]++
	}
	return stats, nil
}

// Search returns records whose subject, sender or preview contains query,
// ignoring case, newest first.
func (s *Store) Search(query string, limit int) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	out := []types.Message{}
	for _, m := range s.messages {
		if needle == "" ||
			strings.Contains(strings.ToLower(m.Subject), needle) ||
			strings.Contains(strings.ToLower(m.From), needle) ||
			strings.Contains(strings.ToLower(m.Preview), needle) {
			out = append(out, m)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Flush saves the in-memory board and closes the persister
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		if err := s.persister.Save(s.messages); err != nil {
			return fmt.Errorf("failed to flush board: %w", err)
		}
	}
	return s.persister.Close()
}

func clone(messages []types.Message) []types.Message {
	out := make([]types.Message, len(messages))
	copy(out, messages)
	return out
}
