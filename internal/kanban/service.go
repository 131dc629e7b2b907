package kanban

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/brandon/mailkan/internal/cache"
	"github.com/brandon/mailkan/internal/config"
	"github.com/brandon/mailkan/internal/email"
	"github.com/brandon/mailkan/internal/store"
	"github.com/brandon/mailkan/pkg/types"
)

// Mailbox is the IMAP side of the board
type Mailbox interface {
	WithSession(ctx context.Context, folder string, mode email.Mode, fn func(email.Session) error) error
	Ping(ctx context.Context) error
	EnsureFolder(ctx context.Context, name string) (bool, error)
	Status() types.ConnectionStatus
}

// Service serves the live board: cached per-folder fetches, board sync,
// moves and deletes.
type Service struct {
	cfg     *config.Config
	mailbox Mailbox
	parser  *email.Parser
	cache   *cache.Cache
	store   *store.Store
	columns *Columns
	bus     *Bus
	group   singleflight.Group
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *logrus.Logger
}

// NewService creates a new board service
func NewService(cfg *config.Config, mailbox Mailbox, c *cache.Cache, s *store.Store, bus *Bus, logger *logrus.Logger) *Service {
	return &Service{
		cfg:     cfg,
		mailbox: mailbox,
		parser:  email.NewParser(cfg.PreviewLength, logger),
		cache:   c,
		store:   s,
		columns: NewColumns(cfg.Folders),
		bus:     bus,
		now:     time.Now,
		sleep:   sleepContext,
		logger:  logger,
	}
}

// Columns returns the column mapping in use
func (s *Service) Columns() *Columns {
	return s.columns
}

// FetchAll fetches every column. A failing folder is answered from the
// stale cache when possible and otherwise reported as failed; only an
// authentication failure fails the whole call.
func (s *Service) FetchAll(ctx context.Context, forceRefresh bool) (types.FetchResult, error) {
	start := s.now()
	columns := s.columns.Names()
	results := make([]types.FolderResult, len(columns))
	errs := make([]error, len(columns))

	g, gctx := errgroup.WithContext(ctx)
	for i, column := range columns {
		g.Go(func() error {
			res, err := s.FetchFolder(gctx, column, forceRefresh)
			if err != nil {
				if email.IsAuthError(err) {
					return err
				}
				errs[i] = err
				return nil
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return types.FetchResult{}, err
	}

	out := types.FetchResult{Messages: []types.Message{}}
	for i, column := range columns {
		if errs[i] != nil {
			out.Partial = true
			out.Failed = append(out.Failed, column)
			continue
		}
		if results[i].Stale {
			out.Partial = true
			out.Stale = append(out.Stale, column)
		}
		out.Messages = append(out.Messages, results[i].Messages...)
	}

	out.Count = len(out.Messages)
	out.FetchedAt = s.now()
	out.Duration = out.FetchedAt.Sub(start).Milliseconds()

	s.logger.WithFields(logrus.Fields{
		"count":       out.Count,
		"duration_ms": out.Duration,
		"partial":     out.Partial,
	}).Info("Live fetch completed")

	s.bus.Publish(Event{
		Type:      EventMessagesUpdated,
		Count:     out.Count,
		Timestamp: out.FetchedAt,
	})
	return out, nil
}

// FetchFolder returns the messages of one column, from the cache when the
// entry is fresh and forceRefresh is false.
func (s *Service) FetchFolder(ctx context.Context, column string, forceRefresh bool) (types.FolderResult, error) {
	folder, err := s.columns.Folder(column)
	if err != nil {
		return types.FolderResult{}, err
	}
	key := cache.Key{Folder: folder, Column: column}

	result := types.FolderResult{Column: column, Folder: folder}

	if messages, ok := s.cache.Get(key, forceRefresh); ok {
		s.logger.WithFields(logrus.Fields{
			"key":   key.String(),
			"count": len(messages),
		}).Debug("Serving folder from cache")
		result.Messages = messages
		result.Count = len(messages)
		result.FetchedAt = s.now()
		result.FromCache = true
		return result, nil
	}

	// The flight outlives the caller that started it. A cancelled caller
	// stops waiting; the others still get the result.
	flight := s.group.DoChan(folder+"|"+strconv.FormatBool(forceRefresh), func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.flightTimeout())
		defer cancel()

		messages, err := s.fetchLive(fctx, folder, column)
		if err != nil {
			return nil, err
		}
		s.cache.Put(key, messages)
		return messages, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return types.FolderResult{}, fmt.Errorf("failed to fetch %s: %w", folder, ctx.Err())
	case res = <-flight:
	}

	v, err := res.Val, res.Err
	if err != nil {
		if email.IsAuthError(err) {
			return types.FolderResult{}, err
		}
		if stale, ok := s.cache.Stale(key); ok {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"folder": folder,
				"count":  len(stale),
				"stale":  true,
			}).Warn("Live fetch failed, using cached emails")
			result.Messages = stale
			result.Count = len(stale)
			result.FetchedAt = s.now()
			result.Stale = true
			result.FromCache = true
			return result, nil
		}
		s.logger.WithError(err).WithField("folder", folder).Error("Failed to fetch folder")
		return types.FolderResult{}, fmt.Errorf("failed to fetch %s: %w", folder, err)
	}

	messages := cloneMessages(v.([]types.Message))
	result.Messages = messages
	result.Count = len(messages)
	result.FetchedAt = s.now()
	return result, nil
}

// fetchLive reads the newest messages of folder, newest first
func (s *Service) fetchLive(ctx context.Context, folder, column string) ([]types.Message, error) {
	start := s.now()
	messages := []types.Message{}

	err := s.mailbox.WithSession(ctx, folder, email.ReadOnly, func(sess email.Session) error {
		uids, err := sess.UIDs()
		if err != nil {
			return err
		}
		if len(uids) == 0 {
			return nil
		}
		if limit := s.cfg.MaxMessagesPerFolder; len(uids) > limit {
			uids = uids[len(uids)-limit:]
		}

		raws, err := sess.Fetch(uids, false)
		if err != nil {
			return err
		}

		for _, raw := range raws {
			msg, err := s.parser.Parse(raw, column, folder)
			if err != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"folder": folder,
					"seq":    raw.SeqNum,
				}).Warn("Skipping unparseable message")
				continue
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Date.After(messages[j].Date)
	})

	s.logger.WithFields(logrus.Fields{
		"folder":      folder,
		"column":      column,
		"count":       len(messages),
		"duration_ms": s.now().Sub(start).Milliseconds(),
	}).Info("Fetched folder")
	return messages, nil
}

// Sync fetches all columns and reconciles them into the persisted board
func (s *Service) Sync(ctx context.Context, forceRefresh bool) (types.SyncResult, error) {
	fetched, err := s.FetchAll(ctx, forceRefresh)
	if err != nil {
		return types.SyncResult{}, err
	}

	board, stats, err := s.store.Reconcile(fetched.Messages)
	if err != nil {
		return types.SyncResult{}, err
	}

	return types.SyncResult{
		FetchResult: fetched,
		Board:       board,
		Inserted:    stats.Inserted,
		Updated:     stats.Updated,
		Preserved:   stats.Preserved,
	}, nil
}

// Archive removes a card from the board and deletes its message on the server
func (s *Service) Archive(ctx context.Context, id string) (types.DeleteResult, error) {
	if id == "" {
		return types.DeleteResult{}, &email.ValidationError{Field: "id", Message: "must not be empty"}
	}

	rec, ok, err := s.store.Remove(id)
	if err != nil {
		return types.DeleteResult{}, err
	}
	if !ok {
		return types.DeleteResult{
			Success:   false,
			Reason:    ReasonNotFound,
			Timestamp: s.now(),
		}, nil
	}

	column := rec.Column
	if c, ok := s.columns.Column(rec.Folder); ok {
		column = c
	}
	return s.DeleteLive(ctx, rec.UID, column, Metadata{Subject: rec.Subject, From: rec.From})
}

// Board returns the persisted cards, optionally limited to one column
func (s *Service) Board(column string) ([]types.Message, error) {
	if column != "" {
		if _, err := s.columns.Folder(column); err != nil {
			return nil, err
		}
	}
	return s.store.ByColumn(column)
}

// Stats counts the persisted cards per column
func (s *Service) Stats() (types.BoardStats, error) {
	return s.store.Stats(s.columns.Names())
}

// Search finds persisted cards by subject, sender or preview
func (s *Service) Search(query string, limit int) ([]types.Message, error) {
	return s.store.Search(query, limit)
}

// CacheStatus returns the cache diagnostics and the configured endpoint
func (s *Service) CacheStatus() types.CacheStatus {
	status := s.cache.Status()
	conn := s.mailbox.Status()
	status.Connection = &conn
	return status
}

// ClearCache drops every cache entry
func (s *Service) ClearCache() int {
	n := s.cache.Clear()
	s.logger.WithField("count", n).Info("All cache cleared")
	return n
}

// InvalidateCache drops the entries of the given folders
func (s *Service) InvalidateCache(folders []string) (int, error) {
	if len(folders) == 0 {
		return 0, &email.ValidationError{Field: "folders", Message: "at least one folder is required"}
	}
	n := s.cache.Invalidate(folders...)
	s.logger.WithFields(logrus.Fields{
		"folders": folders,
		"count":   n,
	}).Info("Cache invalidated")
	return n, nil
}

// TestConnection checks the server with a login round trip
func (s *Service) TestConnection(ctx context.Context) types.ProbeResult {
	start := s.now()
	err := s.mailbox.Ping(ctx)
	result := types.ProbeResult{
		Reachable: err == nil,
		Duration:  s.now().Sub(start).Milliseconds(),
	}
	if err != nil {
		s.logger.WithError(err).Warn("IMAP connection test failed")
		result.Error = email.UserMessage(err)
	}
	return result
}

// EnsureFolders creates the non-inbox board folders when missing. A folder
// that cannot be created does not stop the others.
func (s *Service) EnsureFolders(ctx context.Context) (types.FolderSetup, error) {
	setup := types.FolderSetup{Created: []string{}, Existing: []string{}}

	for _, folder := range s.columns.ManagedFolders() {
		created, err := s.mailbox.EnsureFolder(ctx, folder)
		switch {
		case err != nil:
			if email.IsAuthError(err) {
				return setup, err
			}
			s.logger.WithError(err).WithField("folder", folder).Error("Failed to create folder")
			if setup.Failed == nil {
				setup.Failed = make(map[string]string)
			}
			setup.Failed[folder] = email.UserMessage(err)
		case created:
			setup.Created = append(setup.Created, folder)
		default:
			setup.Existing = append(setup.Existing, folder)
		}
	}
	return setup, nil
}

// flightTimeout bounds one live fetch: login plus SELECT, SEARCH and FETCH
func (s *Service) flightTimeout() time.Duration {
	return s.cfg.IMAP.ConnectTimeout + 3*s.cfg.IMAP.CommandTimeout
}

func cloneMessages(messages []types.Message) []types.Message {
	out := make([]types.Message, len(messages))
	copy(out, messages)
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
