package email

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brandon/mailkan/internal/config"
	"github.com/brandon/mailkan/pkg/types"
)

// Mode selects how a folder is opened
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "read-write"
	}
	return "read-only"
}

// RawMessage is the undecoded FETCH data of one message
type RawMessage struct {
	SeqNum       uint32
	UID          uint32
	InternalDate time.Time
	Literal      []byte
}

// Session is an authenticated connection with one folder selected. It is
// only valid inside the callback passed to WithSession.
type Session interface {
	Folder() string
	UIDs() ([]uint32, error)
	HasUID(uid uint32) (bool, error)
	Fetch(uids []uint32, headersOnly bool) ([]RawMessage, error)
	Move(uid uint32, dest string) error
	Delete(uid uint32) error
}

// IMAPClient opens one short-lived IMAP connection per operation
type IMAPClient struct {
	config  *config.IMAPConfig
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewIMAPClient creates a new IMAP client (does not connect immediately)
func NewIMAPClient(cfg *config.IMAPConfig, logger *logrus.Logger) *IMAPClient {
	return &IMAPClient{
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.SessionRate), cfg.SessionBurst),
		logger:  logger,
	}
}

// connect dials, authenticates and returns a logged-in client
func (c *IMAPClient) connect(ctx context.Context) (*client.Client, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &ConnectionError{Op: "connect", Err: err}
	}

	addr := c.config.Address()
	dialer := &net.Dialer{Timeout: c.config.ConnectTimeout}
	tlsConfig := &tls.Config{
		ServerName:         c.config.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.config.InsecureSkipVerify, //nolint:gosec
	}

	var (
		cl  *client.Client
		err error
	)
	if c.config.TLS {
		cl, err = client.DialWithDialerTLS(dialer, addr, tlsConfig)
	} else {
		cl, err = client.DialWithDialer(dialer, addr)
		if err == nil {
			err = c.startTLS(cl, tlsConfig)
		}
	}
	if err != nil {
		if cl != nil {
			cl.Terminate() //nolint:errcheck
		}
		return nil, &ConnectionError{Op: "connect " + addr, Err: err}
	}

	// Authentication shares the dial timeout, commands get their own.
	cl.Timeout = c.config.ConnectTimeout
	if err := cl.Login(c.config.Username, c.config.Password); err != nil {
		cl.Terminate() //nolint:errcheck
		if isNetworkError(err) {
			return nil, &ConnectionError{Op: "login", Err: err}
		}
		c.logger.WithError(err).WithField("user", c.config.Username).Error("Failed to login to IMAP server")
		return nil, &AuthError{User: c.config.Username, Err: err}
	}
	cl.Timeout = c.config.CommandTimeout

	return cl, nil
}

// startTLS upgrades a plain connection when the server offers STARTTLS
func (c *IMAPClient) startTLS(cl *client.Client, tlsConfig *tls.Config) error {
	ok, err := cl.SupportStartTLS()
	if err != nil || !ok {
		return err
	}
	return cl.StartTLS(tlsConfig)
}

// logout ends the session; failures only matter for the log
func (c *IMAPClient) logout(cl *client.Client) {
	if err := cl.Logout(); err != nil && !errors.Is(err, client.ErrAlreadyLoggedOut) {
		c.logger.WithError(err).Debug("IMAP logout failed, terminating connection")
		cl.Terminate() //nolint:errcheck
	}
}

// WithSession opens a connection, selects folder in the given mode, runs fn
// and always closes the connection afterwards.
func (c *IMAPClient) WithSession(ctx context.Context, folder string, mode Mode, fn func(Session) error) error {
	start := time.Now()
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer c.logout(cl)

	stop := context.AfterFunc(ctx, func() {
		cl.Terminate() //nolint:errcheck
	})
	defer stop()

	if _, err := cl.Select(folder, mode == ReadOnly); err != nil {
		return classify("SELECT", folder, err)
	}

	err = fn(&session{client: cl, folder: folder, logger: c.logger})
	c.logger.WithFields(logrus.Fields{
		"folder":      folder,
		"mode":        mode.String(),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("IMAP session finished")
	return err
}

// Ping connects and authenticates without selecting a folder
func (c *IMAPClient) Ping(ctx context.Context) error {
	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer c.logout(cl)

	if err := cl.Noop(); err != nil {
		return classify("NOOP", "", err)
	}
	return nil
}

// EnsureFolder creates name unless a folder with the same name (ignoring
// case) already exists. It reports whether the folder was created.
func (c *IMAPClient) EnsureFolder(ctx context.Context, name string) (bool, error) {
	cl, err := c.connect(ctx)
	if err != nil {
		return false, err
	}
	defer c.logout(cl)

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- cl.List("", "*", mailboxes)
	}()

	exists := false
	for m := range mailboxes {
		if strings.EqualFold(m.Name, name) {
			exists = true
		}
	}

	if err := <-done; err != nil {
		return false, classify("LIST", "", err)
	}
	if exists {
		return false, nil
	}

	if err := cl.Create(name); err != nil {
		return false, classify("CREATE", name, err)
	}
	c.logger.WithField("folder", name).Info("Created folder")
	return true, nil
}

// Status describes the configured endpoint
func (c *IMAPClient) Status() types.ConnectionStatus {
	return types.ConnectionStatus{
		Host:        c.config.Host,
		Port:        c.config.Port,
		User:        c.config.Username,
		TLS:         c.config.TLS,
		SessionRate: float64(c.limiter.Limit()),
	}
}

// session implements Session on top of a go-imap client
type session struct {
	client *client.Client
	folder string
	logger *logrus.Logger
}

func (s *session) Folder() string {
	return s.folder
}

// UIDs returns every UID in the selected folder in ascending order
func (s *session) UIDs() ([]uint32, error) {
	uids, err := s.client.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, classify("UID SEARCH", s.folder, err)
	}
	return uids, nil
}

// HasUID reports whether uid exists in the selected folder
func (s *session) HasUID(uid uint32) (bool, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddNum(uid)

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return false, classify("UID SEARCH", s.folder, err)
	}
	for _, u := range uids {
		if u == uid {
			return true, nil
		}
	}
	return false, nil
}

// Fetch returns the raw message (or only its header block) for each UID
func (s *session) Fetch(uids []uint32, headersOnly bool) ([]RawMessage, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	if headersOnly {
		section.Specifier = imap.HeaderSpecifier
	}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- s.client.UidFetch(seqSet, items, messages)
	}()

	var raws []RawMessage
	for msg := range messages {
		raw := RawMessage{
			SeqNum:       msg.SeqNum,
			UID:          msg.Uid,
			InternalDate: msg.InternalDate,
		}
		if literal := msg.GetBody(section); literal != nil {
			data, err := io.ReadAll(literal)
			if err == nil {
				raw.Literal = data
			}
		}
		raws = append(raws, raw)
	}

	if err := <-done; err != nil {
		return raws, classify("UID FETCH", s.folder, err)
	}

	return raws, nil
}

// Move moves uid to dest. When the server does not offer MOVE, or answers
// UID MOVE with NO/BAD, it falls back to COPY + \Deleted + EXPUNGE.
func (s *session) Move(uid uint32, dest string) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	ok, err := s.client.Support("MOVE")
	if err != nil {
		return classify("CAPABILITY", s.folder, err)
	}
	if ok {
		err := s.client.UidMove(seqSet, dest)
		if err == nil {
			return nil
		}
		if isNetworkError(err) {
			return classify("UID MOVE", s.folder, err)
		}
		s.logger.WithError(err).WithFields(logrus.Fields{
			"uid":    uid,
			"folder": s.folder,
			"dest":   dest,
		}).Warn("UID MOVE rejected, falling back to copy and expunge")
	}

	if err := s.client.UidCopy(seqSet, dest); err != nil {
		return classify("UID COPY", s.folder, err)
	}
	return s.expungeUID(seqSet)
}

// Delete flags uid as deleted and expunges the folder
func (s *session) Delete(uid uint32) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)
	return s.expungeUID(seqSet)
}

func (s *session) expungeUID(seqSet *imap.SeqSet) error {
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := s.client.UidStore(seqSet, item, flags, nil); err != nil {
		return classify("UID STORE", s.folder, err)
	}
	if err := s.client.Expunge(nil); err != nil {
		return classify("EXPUNGE", s.folder, err)
	}
	return nil
}

// classify maps a go-imap error to the connection or protocol taxonomy
func classify(command, folder string, err error) error {
	if isNetworkError(err) {
		return &ConnectionError{Op: command, Err: err}
	}
	return &ProtocolError{Command: command, Folder: folder, Err: err}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, client.ErrAlreadyLoggedOut)
}
