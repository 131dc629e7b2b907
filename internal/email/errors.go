package email

import (
	"errors"
	"fmt"
)

// ConnectionError indicates a network, TLS, DNS or timeout failure while
// talking to the IMAP server. It is retryable.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("imap connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError indicates that the server rejected the credentials.
type AuthError struct {
	User string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("imap authentication failed for %s: %v", e.User, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError is an unexpected server response to a single command.
type ProtocolError struct {
	Command string
	Folder  string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Folder != "" {
		return fmt.Sprintf("imap %s in %s failed: %v", e.Command, e.Folder, e.Err)
	}
	return fmt.Sprintf("imap %s failed: %v", e.Command, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ParseFailure means one fetched message could not be turned into a record.
type ParseFailure struct {
	SeqNum uint32
	Reason string
	Err    error
}

func (e *ParseFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse failure for message #%d: %s: %v", e.SeqNum, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse failure for message #%d: %s", e.SeqNum, e.Reason)
}

func (e *ParseFailure) Unwrap() error { return e.Err }

// NotFoundError reports a UID that is missing from a folder.
type NotFoundError struct {
	UID    uint32
	Folder string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("message uid %d not found in %s", e.UID, e.Folder)
}

// ValidationError is a bad argument rejected before any IMAP call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsRetryable reports whether err is worth retrying or answering from cache.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	var protoErr *ProtocolError
	return errors.As(err, &connErr) || errors.As(err, &protoErr)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsValidationError reports whether err (or any error in its chain) is a ValidationError.
func IsValidationError(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

// UserMessage returns a short localized summary of err suitable for the board UI.
func UserMessage(err error) string {
	var (
		connErr  *ConnectionError
		authErr  *AuthError
		protoErr *ProtocolError
		valErr   *ValidationError
		nfErr    *NotFoundError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &authErr):
		return "Anmeldung am Mailserver fehlgeschlagen"
	case errors.As(err, &connErr):
		return "Verbindung zum Mailserver fehlgeschlagen"
	case errors.As(err, &valErr):
		return "Ungültige Eingabe: " + valErr.Field
	case errors.As(err, &nfErr):
		return "E-Mail nicht gefunden"
	case errors.As(err, &protoErr):
		return "Mailserver-Antwort konnte nicht verarbeitet werden"
	default:
		return "Unerwarteter Fehler"
	}
}
