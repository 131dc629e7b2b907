package kanban

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailkan/internal/email"
	"github.com/brandon/mailkan/pkg/types"
)

// Move states
const (
	StateRequested           = "requested"
	StateSourceVerified      = "source_verified"
	StateMoved               = "moved"
	StateDestinationResolved = "destination_resolved"
	StateCompleted           = "completed"
	StateFailed              = "failed"
)

// ReasonNotFound marks a move or delete whose UID was missing in the source folder
const ReasonNotFound = "not_found"

// MoveRequest asks to move one message between columns
type MoveRequest struct {
	UID        uint32
	FromColumn string
	ToColumn   string
	Metadata   Metadata
}

func (r *MoveRequest) validate(columns *Columns) (string, string, error) {
	if r.UID == 0 {
		return "", "", &email.ValidationError{Field: "uid", Message: "must be a positive number"}
	}
	from, err := columns.Folder(r.FromColumn)
	if err != nil {
		return "", "", err
	}
	to, err := columns.Folder(r.ToColumn)
	if err != nil {
		return "", "", err
	}
	if r.FromColumn == r.ToColumn {
		return "", "", &email.ValidationError{Field: "toColumn", Message: "must differ from fromColumn"}
	}
	return from, to, nil
}

// MoveLive moves a message between column folders on the server.
//
// A UID missing from the source folder ends the move as unsuccessful without
// touching the cache. After a successful MOVE the destination folder is
// searched for the message so the caller learns its new UID; that lookup is
// best effort and a nil NewUID means the next sync will correct it.
func (s *Service) MoveLive(ctx context.Context, req MoveRequest) (types.MoveResult, error) {
	fromFolder, toFolder, err := req.validate(s.columns)
	if err != nil {
		return types.MoveResult{}, err
	}

	result := types.MoveResult{
		State:      StateRequested,
		UID:        req.UID,
		FromColumn: req.FromColumn,
		ToColumn:   req.ToColumn,
		FromFolder: fromFolder,
		ToFolder:   toFolder,
	}
	fields := logrus.Fields{
		"uid":         req.UID,
		"from_folder": fromFolder,
		"to_folder":   toFolder,
	}

	meta := s.completeMetadata(fromFolder, req.UID, req.Metadata)

	found := false
	err = s.mailbox.WithSession(ctx, fromFolder, email.ReadWrite, func(sess email.Session) error {
		ok, err := sess.HasUID(req.UID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		found = true
		result.State = StateSourceVerified

		if err := sess.Move(req.UID, toFolder); err != nil {
			return err
		}
		result.State = StateMoved
		return nil
	})
	result.Timestamp = s.now()

	if err != nil {
		result.State = StateFailed
		result.Reason = email.UserMessage(err)
		s.logger.WithError(err).WithFields(fields).Error("Email move failed")
		return result, fmt.Errorf("failed to move uid %d from %s to %s: %w", req.UID, fromFolder, toFolder, err)
	}
	if !found {
		result.State = StateFailed
		result.Reason = ReasonNotFound
		s.logger.WithFields(fields).Warn("Email not found in source folder")
		return result, nil
	}

	if s.cfg.ResolveMovedUIDs && meta.Subject != "" {
		if err := s.sleep(ctx, s.cfg.SettleDelay); err == nil {
			newUID, err := s.resolveUID(ctx, toFolder, meta)
			if err != nil {
				s.logger.WithError(err).WithFields(fields).Warn("Could not resolve new UID, keeping old UID")
			} else if newUID != nil {
				result.NewUID = newUID
				result.State = StateDestinationResolved
			}
		}
	}

	s.cache.Invalidate(fromFolder, toFolder)

	if _, err := s.store.ApplyMove(fromFolder, req.UID, req.ToColumn, toFolder, result.NewUID); err != nil {
		s.logger.WithError(err).WithFields(fields).Error("Failed to record move on board")
	}

	s.bus.Publish(Event{
		Type:       EventMessageMoved,
		UID:        req.UID,
		NewUID:     result.NewUID,
		FromFolder: fromFolder,
		ToFolder:   toFolder,
		Metadata:   meta,
		Timestamp:  result.Timestamp,
	})

	result.Success = true
	result.State = StateCompleted
	s.logger.WithFields(fields).WithField("new_uid", result.NewUID).Info("Email move successful")
	return result, nil
}

// DeleteLive flags a message as deleted and expunges its folder
func (s *Service) DeleteLive(ctx context.Context, uid uint32, column string, meta Metadata) (types.DeleteResult, error) {
	if uid == 0 {
		return types.DeleteResult{}, &email.ValidationError{Field: "uid", Message: "must be a positive number"}
	}
	folder, err := s.columns.Folder(column)
	if err != nil {
		return types.DeleteResult{}, err
	}

	result := types.DeleteResult{UID: uid, Column: column, Folder: folder}
	fields := logrus.Fields{"uid": uid, "folder": folder}

	found := false
	err = s.mailbox.WithSession(ctx, folder, email.ReadWrite, func(sess email.Session) error {
		ok, err := sess.HasUID(uid)
		if err != nil || !ok {
			return err
		}
		found = true
		return sess.Delete(uid)
	})
	result.Timestamp = s.now()

	if err != nil {
		result.Reason = email.UserMessage(err)
		s.logger.WithError(err).WithFields(fields).Error("Email deletion failed")
		return result, fmt.Errorf("failed to delete uid %d from %s: %w", uid, folder, err)
	}
	if !found {
		result.Reason = ReasonNotFound
		s.logger.WithFields(fields).Warn("Email not found for deletion")
		return result, nil
	}

	s.cache.Invalidate(folder)
	s.bus.Publish(Event{
		Type:      EventMessageDeleted,
		UID:       uid,
		Folder:    folder,
		Metadata:  meta,
		Timestamp: result.Timestamp,
	})

	result.Success = true
	s.logger.WithFields(fields).Info("Email deletion successful")
	return result, nil
}

// completeMetadata fills a missing subject or sender from the board record
func (s *Service) completeMetadata(folder string, uid uint32, meta Metadata) Metadata {
	if meta.Subject != "" && meta.From != "" {
		return meta
	}
	board, err := s.store.ByColumn("")
	if err != nil {
		return meta
	}
	for _, m := range board {
		if m.Folder == folder && m.UID == uid {
			if meta.Subject == "" {
				meta.Subject = m.Subject
			}
			if meta.From == "" {
				meta.From = m.From
			}
			break
		}
	}
	return meta
}

// resolveUID looks for the single message in folder matching the subject and
// sender of meta. Several candidates are an ambiguity and resolve to nil.
func (s *Service) resolveUID(ctx context.Context, folder string, meta Metadata) (*uint32, error) {
	var matches []uint32

	err := s.mailbox.WithSession(ctx, folder, email.ReadOnly, func(sess email.Session) error {
		uids, err := sess.UIDs()
		if err != nil || len(uids) == 0 {
			return err
		}
		if limit := s.cfg.MaxMessagesPerFolder; len(uids) > limit {
			uids = uids[len(uids)-limit:]
		}

		raws, err := sess.Fetch(uids, true)
		if err != nil {
			return err
		}
		for _, raw := range raws {
			h, err := s.parser.ParseHeader(raw)
			if err != nil {
				continue
			}
			if strings.EqualFold(h.Subject, meta.Subject) && senderMatches(h.From, meta.From) {
				matches = append(matches, raw.UID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &matches[0], nil
	default:
		s.logger.WithFields(logrus.Fields{
			"folder":  folder,
			"subject": meta.Subject,
			"count":   len(matches),
		}).Warn("Ambiguous UID resolution, leaving new UID unset")
		return nil, nil
	}
}

// senderMatches reports whether the From header contains want. When want
// parses as an address only the address part is compared.
func senderMatches(header, want string) bool {
	if want == "" {
		return true
	}
	if addr, err := mail.ParseAddress(want); err == nil {
		want = addr.Address
	}
	return strings.Contains(strings.ToLower(header), strings.ToLower(want))
}
