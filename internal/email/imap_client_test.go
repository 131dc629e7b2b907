package email

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailkan/internal/config"
)

// startMemoryServer serves the go-imap memory backend on a loopback port.
// The backend has user "username" / "password" and one message with UID 6
// in INBOX.
func startMemoryServer(t *testing.T) *config.IMAPConfig {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := server.New(memory.New())
	srv.AllowInsecureAuth = true
	srv.ErrorLog = log.New(io.Discard, "", 0)
	go srv.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { srv.Close() })

	return &config.IMAPConfig{
		Host:           "127.0.0.1",
		Port:           ln.Addr().(*net.TCPAddr).Port,
		Username:       "username",
		Password:       "password",
		ConnectTimeout: 2 * time.Second,
		CommandTimeout: 5 * time.Second,
		SessionRate:    100,
		SessionBurst:   100,
	}
}

func newTestClient(cfg *config.IMAPConfig) *IMAPClient {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewIMAPClient(cfg, logger)
}

func TestIMAPClientReadsFolder(t *testing.T) {
	c := newTestClient(startMemoryServer(t))
	ctx := context.Background()

	err := c.WithSession(ctx, "INBOX", ReadOnly, func(sess Session) error {
		assert.Equal(t, "INBOX", sess.Folder())

		uids, err := sess.UIDs()
		require.NoError(t, err)
		assert.Equal(t, []uint32{6}, uids)

		ok, err := sess.HasUID(6)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = sess.HasUID(7)
		require.NoError(t, err)
		assert.False(t, ok)

		raws, err := sess.Fetch(uids, false)
		require.NoError(t, err)
		require.Len(t, raws, 1)
		assert.Equal(t, uint32(6), raws[0].UID)
		assert.Contains(t, string(raws[0].Literal), "Subject: A little message, just for you")
		assert.Contains(t, string(raws[0].Literal), "Hi there :)")

		headers, err := sess.Fetch(uids, true)
		require.NoError(t, err)
		require.Len(t, headers, 1)
		assert.Contains(t, string(headers[0].Literal), "Subject:")
		assert.NotContains(t, string(headers[0].Literal), "Hi there")
		return nil
	})
	require.NoError(t, err)
}

func TestIMAPClientFetchedMessageParses(t *testing.T) {
	c := newTestClient(startMemoryServer(t))
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	parser := NewParser(200, logger)

	var raws []RawMessage
	err := c.WithSession(context.Background(), "INBOX", ReadOnly, func(sess Session) error {
		var err error
		raws, err = sess.Fetch([]uint32{6}, false)
		return err
	})
	require.NoError(t, err)
	require.Len(t, raws, 1)

	msg, err := parser.Parse(raws[0], "posteingang", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, "A little message, just for you", msg.Subject)
	assert.Equal(t, "contact@example.org", msg.From)
	assert.Equal(t, "Hi there :)", msg.Preview)
	assert.True(t, msg.Date.Equal(time.Date(2016, 5, 11, 14, 31, 59, 0, time.UTC)))
}

func TestIMAPClientSelectUnknownFolder(t *testing.T) {
	c := newTestClient(startMemoryServer(t))

	called := false
	err := c.WithSession(context.Background(), "Nirgendwo", ReadOnly, func(Session) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)

	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, "SELECT", protoErr.Command)
	assert.Equal(t, "Nirgendwo", protoErr.Folder)
}

func TestIMAPClientRejectedLoginIsAuthError(t *testing.T) {
	cfg := startMemoryServer(t)
	cfg.Password = "wrong"

	err := newTestClient(cfg).Ping(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.False(t, IsRetryable(err))
}

func TestIMAPClientUnreachableIsConnectionError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := newTestClient(&config.IMAPConfig{
		Host:           "127.0.0.1",
		Port:           port,
		Username:       "username",
		Password:       "password",
		ConnectTimeout: time.Second,
		CommandTimeout: time.Second,
		SessionRate:    100,
		SessionBurst:   100,
	})

	err = c.Ping(context.Background())
	require.Error(t, err)
	var connErr *ConnectionError
	assert.True(t, errors.As(err, &connErr))
	assert.True(t, IsRetryable(err))
}

func TestIMAPClientPing(t *testing.T) {
	c := newTestClient(startMemoryServer(t))
	assert.NoError(t, c.Ping(context.Background()))
}

func TestIMAPClientEnsureFolder(t *testing.T) {
	c := newTestClient(startMemoryServer(t))
	ctx := context.Background()

	created, err := c.EnsureFolder(ctx, "In_Bearbeitung")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = c.EnsureFolder(ctx, "in_bearbeitung")
	require.NoError(t, err)
	assert.False(t, created)

	created, err = c.EnsureFolder(ctx, "INBOX")
	require.NoError(t, err)
	assert.False(t, created)
}

// The memory backend answers UID MOVE with NO even though the server lists
// MOVE, so this covers the copy and expunge fallback.
func TestIMAPClientMoveWithoutMoveExtension(t *testing.T) {
	c := newTestClient(startMemoryServer(t))
	ctx := context.Background()

	_, err := c.EnsureFolder(ctx, "In_Bearbeitung")
	require.NoError(t, err)

	err = c.WithSession(ctx, "INBOX", ReadWrite, func(sess Session) error {
		return sess.Move(6, "In_Bearbeitung")
	})
	require.NoError(t, err)

	err = c.WithSession(ctx, "INBOX", ReadOnly, func(sess Session) error {
		uids, err := sess.UIDs()
		assert.Empty(t, uids)
		return err
	})
	require.NoError(t, err)

	err = c.WithSession(ctx, "In_Bearbeitung", ReadOnly, func(sess Session) error {
		uids, err := sess.UIDs()
		require.NoError(t, err)
		require.Len(t, uids, 1)

		raws, err := sess.Fetch(uids, true)
		require.NoError(t, err)
		require.Len(t, raws, 1)
		assert.True(t, strings.Contains(string(raws[0].Literal), "A little message"))
		return nil
	})
	require.NoError(t, err)
}

func TestIMAPClientDelete(t *testing.T) {
	c := newTestClient(startMemoryServer(t))
	ctx := context.Background()

	err := c.WithSession(ctx, "INBOX", ReadWrite, func(sess Session) error {
		if err := sess.Delete(6); err != nil {
			return err
		}
		uids, err := sess.UIDs()
		assert.Empty(t, uids)
		return err
	})
	require.NoError(t, err)
}

func TestIMAPClientCancelledContext(t *testing.T) {
	c := newTestClient(startMemoryServer(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Ping(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestIMAPClientStatus(t *testing.T) {
	cfg := startMemoryServer(t)
	status := newTestClient(cfg).Status()

	assert.Equal(t, "127.0.0.1", status.Host)
	assert.Equal(t, cfg.Port, status.Port)
	assert.Equal(t, "username", status.User)
	assert.False(t, status.TLS)
	assert.Equal(t, float64(100), status.SessionRate)
}
