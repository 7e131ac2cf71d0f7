package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coachbase/fitchat/internal/chat"
	"github.com/coachbase/fitchat/internal/model"
	"github.com/coachbase/fitchat/internal/utils"
)

// Timestamps are stored as RFC3339Nano strings and parsed on the way
// out (utils.ParseTime tolerates the legacy formats).

func (s *Store) InsertMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	if msg.ConversationID == "" || msg.SenderID == "" {
		return model.Message{}, fmt.Errorf("sqlite: conversation and sender are required")
	}
	msg.ID = model.NewMessageID()
	msg.CreatedAt = time.Now().UTC()
	msg.EditedAt = nil
	msg.Deleted = false
	msg.DeletedAt = nil

	attachments, err := marshalJSON(msg.Attachments)
	if err != nil {
		return model.Message{}, fmt.Errorf("sqlite: encode attachments: %w", err)
	}
	metadata, err := marshalJSON(msg.Metadata)
	if err != nil {
		return model.Message{}, fmt.Errorf("sqlite: encode metadata: %w", err)
	}

	tx, err := s.Db.BeginTx(ctx, nil)
	if err != nil {
		return model.Message{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO messages
		(id, conversation_id, sender_id, recipient_id, content, kind, attachments, metadata, parent_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, nullable(msg.RecipientID),
		msg.Content, string(msg.Kind), attachments, metadata,
		nullable(msg.ParentID), msg.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return model.Message{}, fmt.Errorf("sqlite: insert message: %w", err)
	}
	// every send bumps the conversation's last activity
	_, err = tx.ExecContext(ctx, `UPDATE conversations SET last_activity=? WHERE id=?`,
		msg.CreatedAt.Format(time.RFC3339Nano), msg.ConversationID)
	if err != nil {
		return model.Message{}, fmt.Errorf("sqlite: touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

const messageCols = `id, conversation_id, sender_id, COALESCE(recipient_id,''), content, kind,
	attachments, metadata, COALESCE(parent_id,''), created_at, edited_at, deleted, deleted_at`

func (s *Store) FetchMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.Db.QueryContext(ctx, `SELECT `+messageCols+`
		FROM messages WHERE conversation_id=? AND deleted=0
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch messages: %w", err)
	}
	defer rows.Close()

	var list []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, msg)
	}
	return list, rows.Err()
}

func (s *Store) GetMessage(ctx context.Context, id string) (model.Message, error) {
	row := s.Db.QueryRowContext(ctx, `SELECT `+messageCols+` FROM messages WHERE id=?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, chat.ErrNotFound
	}
	return msg, err
}

func (s *Store) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	row := s.Db.QueryRowContext(ctx, `SELECT id, participant_a, participant_b, created_at, last_activity
		FROM conversations WHERE id=?`, id)
	return scanConversation(row)
}

func (s *Store) GetOrCreateConversation(ctx context.Context, a, b string) (model.Conversation, error) {
	a, b = model.NormalizePair(a, b)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	// concurrent creators race to one row; the unique pair index plus
	// the re-read makes every caller adopt the winner
	_, err := s.Db.ExecContext(ctx, `INSERT OR IGNORE INTO conversations
		(id, participant_a, participant_b, created_at, last_activity)
		VALUES (?, ?, ?, ?, ?)`, model.NewConversationID(), a, b, now, now)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("sqlite: create conversation: %w", err)
	}
	row := s.Db.QueryRowContext(ctx, `SELECT id, participant_a, participant_b, created_at, last_activity
		FROM conversations WHERE participant_a=? AND participant_b=?`, a, b)
	return scanConversation(row)
}

func (s *Store) ListConversations(ctx context.Context, participantID string) ([]model.Conversation, error) {
	rows, err := s.Db.QueryContext(ctx, `SELECT id, participant_a, participant_b, created_at, last_activity
		FROM conversations WHERE participant_a=? OR participant_b=?
		ORDER BY last_activity DESC`, participantID, participantID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list conversations: %w", err)
	}
	defer rows.Close()

	var list []model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, conv)
	}
	return list, rows.Err()
}

func (s *Store) MarkRead(ctx context.Context, conversationID, participantID string) error {
	_, err := s.Db.ExecContext(ctx, `INSERT INTO conversation_reads (conversation_id, participant_id, last_read_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id, participant_id) DO UPDATE SET last_read_at=excluded.last_read_at`,
		conversationID, participantID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: mark read: %w", err)
	}
	return nil
}

func (s *Store) AddReaction(ctx context.Context, r model.Reaction) (model.Reaction, error) {
	_, err := s.Db.ExecContext(ctx, `INSERT OR IGNORE INTO reactions (id, message_id, reactor_id, kind, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		model.NewReactionID(), r.MessageID, r.ReactorID, r.Kind,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return model.Reaction{}, fmt.Errorf("sqlite: add reaction: %w", err)
	}
	// duplicate adds fall through to the existing row
	row := s.Db.QueryRowContext(ctx, `SELECT id, message_id, reactor_id, kind, created_at
		FROM reactions WHERE message_id=? AND reactor_id=? AND kind=?`, r.MessageID, r.ReactorID, r.Kind)
	var out model.Reaction
	var created string
	if err := row.Scan(&out.ID, &out.MessageID, &out.ReactorID, &out.Kind, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Reaction{}, chat.ErrNotFound
		}
		return model.Reaction{}, err
	}
	out.CreatedAt = utils.ParseTime(created)
	return out, nil
}

func (s *Store) RemoveReaction(ctx context.Context, reactionID string) error {
	res, err := s.Db.ExecContext(ctx, `DELETE FROM reactions WHERE id=?`, reactionID)
	if err != nil {
		return fmt.Errorf("sqlite: remove reaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (s *Store) EditMessage(ctx context.Context, messageID, senderID, content string) (model.Message, error) {
	now := time.Now().UTC()
	res, err := s.Db.ExecContext(ctx, `UPDATE messages SET content=?, edited_at=?
		WHERE id=? AND sender_id=? AND deleted=0`,
		content, now.Format(time.RFC3339Nano), messageID, senderID)
	if err != nil {
		return model.Message{}, fmt.Errorf("sqlite: edit message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Message{}, s.mutationMiss(ctx, messageID)
	}
	return s.GetMessage(ctx, messageID)
}

func (s *Store) SoftDeleteMessage(ctx context.Context, messageID, senderID string) (model.Message, error) {
	now := time.Now().UTC()
	res, err := s.Db.ExecContext(ctx, `UPDATE messages SET deleted=1, deleted_at=?
		WHERE id=? AND sender_id=? AND deleted=0`,
		now.Format(time.RFC3339Nano), messageID, senderID)
	if err != nil {
		return model.Message{}, fmt.Errorf("sqlite: delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Message{}, s.mutationMiss(ctx, messageID)
	}
	return s.GetMessage(ctx, messageID)
}

// mutationMiss distinguishes "no such live message" from "not yours".
func (s *Store) mutationMiss(ctx context.Context, messageID string) error {
	var n int
	_ = s.Db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE id=? AND deleted=0`, messageID).Scan(&n)
	if n == 0 {
		return chat.ErrNotFound
	}
	return chat.ErrForbidden
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (model.Message, error) {
	var (
		msg                   model.Message
		kind                  string
		attachments, metadata sql.NullString
		created               string
		edited, deletedAt     sql.NullString
		deleted               int
	)
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.RecipientID,
		&msg.Content, &kind, &attachments, &metadata, &msg.ParentID,
		&created, &edited, &deleted, &deletedAt)
	if err != nil {
		return model.Message{}, err
	}
	msg.Kind = model.MessageKind(kind)
	msg.CreatedAt = utils.ParseTime(created)
	if edited.Valid {
		t := utils.ParseTime(edited.String)
		msg.EditedAt = &t
	}
	msg.Deleted = deleted != 0
	if deletedAt.Valid {
		t := utils.ParseTime(deletedAt.String)
		msg.DeletedAt = &t
	}
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
			return model.Message{}, fmt.Errorf("sqlite: decode attachments for %s: %w", msg.ID, err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
			return model.Message{}, fmt.Errorf("sqlite: decode metadata for %s: %w", msg.ID, err)
		}
	}
	return msg, nil
}

func scanConversation(row rowScanner) (model.Conversation, error) {
	var conv model.Conversation
	var created, activity string
	err := row.Scan(&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &created, &activity)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Conversation{}, chat.ErrNotFound
	}
	if err != nil {
		return model.Conversation{}, err
	}
	conv.CreatedAt = utils.ParseTime(created)
	conv.LastActivity = utils.ParseTime(activity)
	return conv, nil
}

func marshalJSON(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case []model.Attachment:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]interface{}:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
