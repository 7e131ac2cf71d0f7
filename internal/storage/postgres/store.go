package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coachbase/fitchat/internal/chat"
	"github.com/coachbase/fitchat/internal/model"
)

func (s *Store) InsertMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	if msg.ConversationID == "" || msg.SenderID == "" {
		return model.Message{}, fmt.Errorf("postgres: conversation and sender are required")
	}
	msg.ID = model.NewMessageID()
	msg.CreatedAt = time.Now().UTC()
	msg.EditedAt = nil
	msg.Deleted = false
	msg.DeletedAt = nil

	attachments, err := marshalJSON(msg.Attachments)
	if err != nil {
		return model.Message{}, fmt.Errorf("postgres: encode attachments: %w", err)
	}
	metadata, err := marshalJSON(msg.Metadata)
	if err != nil {
		return model.Message{}, fmt.Errorf("postgres: encode metadata: %w", err)
	}

	tx, err := s.Db.BeginTx(ctx, nil)
	if err != nil {
		return model.Message{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO messages
		(id, conversation_id, sender_id, recipient_id, content, kind, attachments, metadata, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		msg.ID, msg.ConversationID, msg.SenderID, nullable(msg.RecipientID),
		msg.Content, string(msg.Kind), attachments, metadata,
		nullable(msg.ParentID), msg.CreatedAt)
	if err != nil {
		return model.Message{}, fmt.Errorf("postgres: insert message: %w", err)
	}
	_, err = tx.ExecContext(ctx, `UPDATE conversations SET last_activity=$1 WHERE id=$2`,
		msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return model.Message{}, fmt.Errorf("postgres: touch conversation: %w", err)
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
		FROM messages WHERE conversation_id=$1 AND deleted=0
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch messages: %w", err)
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
	row := s.Db.QueryRowContext(ctx, `SELECT `+messageCols+` FROM messages WHERE id=$1`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, chat.ErrNotFound
	}
	return msg, err
}

func (s *Store) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	row := s.Db.QueryRowContext(ctx, `SELECT id, participant_a, participant_b, created_at, last_activity
		FROM conversations WHERE id=$1`, id)
	return scanConversation(row)
}

func (s *Store) GetOrCreateConversation(ctx context.Context, a, b string) (model.Conversation, error) {
	a, b = model.NormalizePair(a, b)
	now := time.Now().UTC()
	_, err := s.Db.ExecContext(ctx, `INSERT INTO conversations
		(id, participant_a, participant_b, created_at, last_activity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (participant_a, participant_b) DO NOTHING`,
		model.NewConversationID(), a, b, now, now)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("postgres: create conversation: %w", err)
	}
	row := s.Db.QueryRowContext(ctx, `SELECT id, participant_a, participant_b, created_at, last_activity
		FROM conversations WHERE participant_a=$1 AND participant_b=$2`, a, b)
	return scanConversation(row)
}

func (s *Store) ListConversations(ctx context.Context, participantID string) ([]model.Conversation, error) {
	rows, err := s.Db.QueryContext(ctx, `SELECT id, participant_a, participant_b, created_at, last_activity
		FROM conversations WHERE participant_a=$1 OR participant_b=$1
		ORDER BY last_activity DESC`, participantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list conversations: %w", err)
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
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, participant_id) DO UPDATE SET last_read_at=EXCLUDED.last_read_at`,
		conversationID, participantID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: mark read: %w", err)
	}
	return nil
}

func (s *Store) AddReaction(ctx context.Context, r model.Reaction) (model.Reaction, error) {
	_, err := s.Db.ExecContext(ctx, `INSERT INTO reactions (id, message_id, reactor_id, kind, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id, reactor_id, kind) DO NOTHING`,
		model.NewReactionID(), r.MessageID, r.ReactorID, r.Kind, time.Now().UTC())
	if err != nil {
		return model.Reaction{}, fmt.Errorf("postgres: add reaction: %w", err)
	}
	row := s.Db.QueryRowContext(ctx, `SELECT id, message_id, reactor_id, kind, created_at
		FROM reactions WHERE message_id=$1 AND reactor_id=$2 AND kind=$3`, r.MessageID, r.ReactorID, r.Kind)
	var out model.Reaction
	if err := row.Scan(&out.ID, &out.MessageID, &out.ReactorID, &out.Kind, &out.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Reaction{}, chat.ErrNotFound
		}
		return model.Reaction{}, err
	}
	return out, nil
}

func (s *Store) RemoveReaction(ctx context.Context, reactionID string) error {
	res, err := s.Db.ExecContext(ctx, `DELETE FROM reactions WHERE id=$1`, reactionID)
	if err != nil {
		return fmt.Errorf("postgres: remove reaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (s *Store) EditMessage(ctx context.Context, messageID, senderID, content string) (model.Message, error) {
	res, err := s.Db.ExecContext(ctx, `UPDATE messages SET content=$1, edited_at=$2
		WHERE id=$3 AND sender_id=$4 AND deleted=0`,
		content, time.Now().UTC(), messageID, senderID)
	if err != nil {
		return model.Message{}, fmt.Errorf("postgres: edit message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Message{}, s.mutationMiss(ctx, messageID)
	}
	return s.GetMessage(ctx, messageID)
}

func (s *Store) SoftDeleteMessage(ctx context.Context, messageID, senderID string) (model.Message, error) {
	res, err := s.Db.ExecContext(ctx, `UPDATE messages SET deleted=1, deleted_at=$1
		WHERE id=$2 AND sender_id=$3 AND deleted=0`,
		time.Now().UTC(), messageID, senderID)
	if err != nil {
		return model.Message{}, fmt.Errorf("postgres: delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Message{}, s.mutationMiss(ctx, messageID)
	}
	return s.GetMessage(ctx, messageID)
}

func (s *Store) mutationMiss(ctx context.Context, messageID string) error {
	var n int
	_ = s.Db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE id=$1 AND deleted=0`, messageID).Scan(&n)
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
		edited, deletedAt     sql.NullTime
		deleted               int
	)
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.RecipientID,
		&msg.Content, &kind, &attachments, &metadata, &msg.ParentID,
		&msg.CreatedAt, &edited, &deleted, &deletedAt)
	if err != nil {
		return model.Message{}, err
	}
	msg.Kind = model.MessageKind(kind)
	if edited.Valid {
		t := edited.Time.UTC()
		msg.EditedAt = &t
	}
	msg.Deleted = deleted != 0
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		msg.DeletedAt = &t
	}
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
			return model.Message{}, fmt.Errorf("postgres: decode attachments for %s: %w", msg.ID, err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
			return model.Message{}, fmt.Errorf("postgres: decode metadata for %s: %w", msg.ID, err)
		}
	}
	return msg, nil
}

func scanConversation(row rowScanner) (model.Conversation, error) {
	var conv model.Conversation
	err := row.Scan(&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &conv.CreatedAt, &conv.LastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Conversation{}, chat.ErrNotFound
	}
	if err != nil {
		return model.Conversation{}, err
	}
	conv.CreatedAt = conv.CreatedAt.UTC()
	conv.LastActivity = conv.LastActivity.UTC()
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
