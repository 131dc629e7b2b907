package kanban

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailkan/internal/cache"
	"github.com/brandon/mailkan/internal/config"
	"github.com/brandon/mailkan/internal/email"
	"github.com/brandon/mailkan/internal/store"
	"github.com/brandon/mailkan/pkg/types"
)

type fakeMessage struct {
	uid     uint32
	literal []byte
}

// fakeMailbox is an in-memory IMAP server that records every command
type fakeMailbox struct {
	mu       sync.Mutex
	folders  map[string][]fakeMessage
	nextUID  map[string]uint32
	fail     map[string]error
	pingErr  error
	commands []string

	// delay holds every session open; gate, when set, blocks sessions
	// until it is closed or the session context ends. entered receives
	// once per session that has started.
	delay   time.Duration
	gate    chan struct{}
	entered chan struct{}
}

// fakeArrival is the INTERNALDATE of the message with UID 1; later UIDs
// arrive a minute apart.
var fakeArrival = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func newFakeMailbox(folders ...string) *fakeMailbox {
	f := &fakeMailbox{
		folders: make(map[string][]fakeMessage),
		nextUID: make(map[string]uint32),
		fail:    make(map[string]error),
	}
	for _, name := range folders {
		f.folders[name] = nil
		f.nextUID[name] = 1
	}
	return f
}

func (f *fakeMailbox) add(folder string, literal string) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	uid := f.nextUID[folder]
	f.nextUID[folder] = uid + 1
	f.folders[folder] = append(f.folders[folder], fakeMessage{uid: uid, literal: []byte(literal)})
	return uid
}

func (f *fakeMailbox) setFail(folder string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, folder)
		return
	}
	f.fail[folder] = err
}

func (f *fakeMailbox) record(cmd string) {
	f.commands = append(f.commands, cmd)
}

// count returns how many recorded commands start with prefix
func (f *fakeMailbox) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeMailbox) WithSession(ctx context.Context, folder string, mode email.Mode, fn func(email.Session) error) error {
	f.mu.Lock()
	f.record(fmt.Sprintf("SELECT %s %s", folder, mode))
	err := f.fail[folder]
	_, exists := f.folders[folder]
	delay, gate, entered := f.delay, f.gate, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return &email.ConnectionError{Op: "select " + folder, Err: ctx.Err()}
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	if err != nil {
		return err
	}
	if !exists {
		return &email.ProtocolError{Command: "SELECT", Folder: folder, Err: fmt.Errorf("no such mailbox")}
	}
	return fn(&fakeSession{mb: f, folder: folder})
}

func (f *fakeMailbox) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("NOOP")
	return f.pingErr
}

func (f *fakeMailbox) EnsureFolder(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("LIST")
	if err := f.fail[name]; err != nil {
		return false, err
	}
	for existing := range f.folders {
		if strings.EqualFold(existing, name) {
			return false, nil
		}
	}
	f.record("CREATE " + name)
	f.folders[name] = nil
	f.nextUID[name] = 1
	return true, nil
}

func (f *fakeMailbox) Status() types.ConnectionStatus {
	return types.ConnectionStatus{Host: "imap.example.com", Port: 993, User: "me@example.com", TLS: true}
}

type fakeSession struct {
	mb     *fakeMailbox
	folder string
}

func (s *fakeSession) Folder() string { return s.folder }

func (s *fakeSession) UIDs() ([]uint32, error) {
	s.mb.mu.Lock()
	defer s.mb.mu.Unlock()
	s.mb.record("SEARCH " + s.folder)
	var uids []uint32
	for _, m := range s.mb.folders[s.folder] {
		uids = append(uids, m.uid)
	}
	return uids, nil
}

func (s *fakeSession) HasUID(uid uint32) (bool, error) {
	s.mb.mu.Lock()
	defer s.mb.mu.Unlock()
	s.mb.record(fmt.Sprintf("SEARCH UID %d %s", uid, s.folder))
	for _, m := range s.mb.folders[s.folder] {
		if m.uid == uid {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeSession) Fetch(uids []uint32, headersOnly bool) ([]email.RawMessage, error) {
	s.mb.mu.Lock()
	defer s.mb.mu.Unlock()
	s.mb.record(fmt.Sprintf("FETCH %s headers=%t", s.folder, headersOnly))

	want := make(map[uint32]bool, len(uids))
	for _, u := range uids {
		want[u] = true
	}
	var raws []email.RawMessage
	for i, m := range s.mb.folders[s.folder] {
		if !want[m.uid] {
			continue
		}
		literal := m.literal
		if headersOnly {
			if idx := strings.Index(string(literal), "\r\n\r\n"); idx >= 0 {
				literal = literal[:idx+4]
			}
		}
		raws = append(raws, email.RawMessage{
			SeqNum:       uint32(i + 1),
			UID:          m.uid,
			InternalDate: fakeArrival.Add(time.Duration(m.uid-1) * time.Minute),
			Literal:      literal,
		})
	}
	return raws, nil
}

func (s *fakeSession) Move(uid uint32, dest string) error {
	s.mb.mu.Lock()
	defer s.mb.mu.Unlock()
	s.mb.record(fmt.Sprintf("MOVE %d %s %s", uid, s.folder, dest))

	msgs := s.mb.folders[s.folder]
	for i, m := range msgs {
		if m.uid != uid {
			continue
		}
		s.mb.folders[s.folder] = append(msgs[:i:i], msgs[i+1:]...)
		newUID := s.mb.nextUID[dest]
		s.mb.nextUID[dest] = newUID + 1
		s.mb.folders[dest] = append(s.mb.folders[dest], fakeMessage{uid: newUID, literal: m.literal})
		return nil
	}
	return &email.ProtocolError{Command: "UID MOVE", Folder: s.folder, Err: fmt.Errorf("no such message")}
}

func (s *fakeSession) Delete(uid uint32) error {
	s.mb.mu.Lock()
	defer s.mb.mu.Unlock()
	s.mb.record(fmt.Sprintf("DELETE %d %s", uid, s.folder))

	msgs := s.mb.folders[s.folder]
	for i, m := range msgs {
		if m.uid == uid {
			s.mb.folders[s.folder] = append(msgs[:i:i], msgs[i+1:]...)
			return nil
		}
	}
	return nil
}

func literal(subject, from, date string) string {
	return "From: " + from + "\r\n" +
		"To: me@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: " + date + "\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Body of " + subject + "\r\n"
}

type testEnv struct {
	svc     *Service
	mailbox *fakeMailbox
	cache   *cache.Cache
	store   *store.Store
	bus     *Bus
	clock   *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := config.Default()
	cfg.IMAP.Host = "imap.example.com"
	cfg.IMAP.Username = "me@example.com"
	cfg.IMAP.Password = "secret"
	cfg.StorePath = filepath.Join(t.TempDir(), "emails.json")

	mb := newFakeMailbox(cfg.Folders.Inbox, cfg.Folders.InProgress, cfg.Folders.AwaitingReply)

	c, err := cache.New(cfg.CacheTTL, logger)
	require.NoError(t, err)
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	st := store.NewStore(store.NewJSONPersister(cfg.StorePath), logger)
	require.NoError(t, st.Open())

	bus := NewBus(logger)
	svc := NewService(cfg, mb, c, st, bus, logger)
	svc.sleep = func(context.Context, time.Duration) error { return nil }

	return &testEnv{svc: svc, mailbox: mb, cache: c, store: st, bus: bus, clock: &now}
}

func (e *testEnv) advance(d time.Duration) {
	*e.clock = e.clock.Add(d)
}
