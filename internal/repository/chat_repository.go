package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"qachat-backend/internal/model"
)

// DefaultSessionTitle is the placeholder title given to sessions created
// lazily on first message.
const DefaultSessionTitle = "New Chat"

const defaultMessageLimit = 100

// ChatRepository owns the chat store: sessions and their messages. Sessions
// are keyed by a caller-supplied opaque session id; messages are append-only.
type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// CreateSessionIfAbsent inserts the session row if it does not exist yet.
// The unique index on session_id makes concurrent first-writers converge on
// a single row; the losing insert is a no-op.
func (r *ChatRepository) CreateSessionIfAbsent(sessionID string) error {
	session := &model.Session{SessionID: sessionID, Title: DefaultSessionTitle}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoNothing: true,
	}).Create(session).Error
	if err != nil {
		return fmt.Errorf("create session failed: %w", err)
	}
	return nil
}

// AppendMessage persists one message, creating the session on demand. The
// session upsert, the updated_at bump and the message insert commit in one
// transaction; any failure rolls back all of them.
func (r *ChatRepository) AppendMessage(sessionID string, role model.Role, content string) (*model.Message, error) {
	message := &model.Message{
		SessionID: sessionID,
		Role:      string(role),
		Content:   content,
		CreatedAt: time.Now(),
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		session := &model.Session{SessionID: sessionID, Title: DefaultSessionTitle}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoNothing: true,
		}).Create(session).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Session{}).
			Where("session_id = ?", sessionID).
			Update("updated_at", time.Now()).Error; err != nil {
			return err
		}
		return tx.Create(message).Error
	})
	if err != nil {
		return nil, fmt.Errorf("append message failed: %w", err)
	}
	return message, nil
}

// ListMessages returns the session's newest limit messages in commit order.
// The cap exists to bound prompt size, so the window must track the recent
// turns: the query selects newest-first and the result is reversed back into
// commit order. A missing session yields an empty list.
func (r *ChatRepository) ListMessages(sessionID string, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultMessageLimit
	}

	var messages []model.Message
	if err := r.db.Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// UpdateSessionTitle reports false when no session with that id exists.
func (r *ChatRepository) UpdateSessionTitle(sessionID, title string) (bool, error) {
	result := r.db.Model(&model.Session{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{"title": title, "updated_at": time.Now()})
	if result.Error != nil {
		return false, fmt.Errorf("update session title failed: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// DeleteSession removes the session and all its messages in one transaction.
func (r *ChatRepository) DeleteSession(sessionID string) (bool, error) {
	var deleted bool
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		result := tx.Where("session_id = ?", sessionID).Delete(&model.Session{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete session failed: %w", err)
	}
	return deleted, nil
}

// GetSession returns nil when the session does not exist.
func (r *ChatRepository) GetSession(sessionID string) (*model.Session, error) {
	var session model.Session
	if err := r.db.Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	return &session, nil
}

// ListSessions returns sessions most recently touched first.
func (r *ChatRepository) ListSessions(limit, offset int) ([]model.Session, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultMessageLimit
	}
	var sessions []model.Session
	if err := r.db.Order("updated_at DESC").
		Limit(limit).Offset(offset).
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions failed: %w", err)
	}
	return sessions, nil
}
