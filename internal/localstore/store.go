package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mickgian/pratiko-chat/internal/apitypes"
)

// Store is the legacy local-only message store. It remains the
// write-behind fallback after migration; nothing here ever deletes it.
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) the sqlite store at path. An empty path opens
// a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if err := db.AutoMigrate(&Session{}, &Message{}, &KV{}); err != nil {
		return nil, fmt.Errorf("failed to migrate local store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveSession(ctx context.Context, sess *Session) error {
	return s.db.WithContext(ctx).Save(sess).Error
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var out Session
	if err := s.db.WithContext(ctx).First(&out, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions returns sessions most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := s.db.WithContext(ctx).
		Order("updated_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// MarkActive flips the activity flag so that exactly one session is
// active afterwards.
func (s *Store) MarkActive(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Session{}).
			Where("is_active = ?", true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Model(&Session{}).
			Where("id = ?", id).
			Update("is_active", true).Error
	})
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Message{}, "session_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&Session{}, "id = ?", id).Error
	})
}

func (s *Store) SaveMessage(ctx context.Context, sessionID string, m apitypes.Message) error {
	var attachments string
	if len(m.Attachments) > 0 {
		b, err := json.Marshal(m.Attachments)
		if err != nil {
			return fmt.Errorf("failed to encode attachments: %w", err)
		}
		attachments = string(b)
	}
	row := Message{
		ID:          m.ID,
		SessionID:   sessionID,
		Type:        m.Type,
		Content:     m.Content,
		Attachments: attachments,
		Timestamp:   m.Timestamp,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// MessagesBySession returns the transcript in append order.
func (s *Store) MessagesBySession(ctx context.Context, sessionID string) ([]apitypes.Message, error) {
	var rows []Message
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]apitypes.Message, 0, len(rows))
	for _, r := range rows {
		m := apitypes.Message{
			ID:        r.ID,
			Type:      r.Type,
			Content:   r.Content,
			Timestamp: r.Timestamp,
		}
		if r.Attachments != "" {
			if err := json.Unmarshal([]byte(r.Attachments), &m.Attachments); err != nil {
				return nil, fmt.Errorf("failed to decode attachments: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Message{}).
		Where("session_id = ?", sessionID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

// SetCurrentSessionID persists the id a reload resumes from.
func (s *Store) SetCurrentSessionID(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Save(&KV{K: currentSessionKey, V: id}).Error
}

// CurrentSessionID returns the persisted id, or "" when none was saved.
func (s *Store) CurrentSessionID(ctx context.Context) (string, error) {
	var row KV
	err := s.db.WithContext(ctx).First(&row, "k = ?", currentSessionKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.V, nil
}

func (s *Store) ClearCurrentSessionID(ctx context.Context) error {
	return s.db.WithContext(ctx).Delete(&KV{}, "k = ?", currentSessionKey).Error
}
