package stub

import (
	"context"
	"fmt"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Session struct {
	ID        string    `gorm:"primaryKey;type:varchar(26)" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }

type Message struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SessionID   string    `gorm:"index;type:varchar(26);not null" json:"session_id"`
	Type        string    `gorm:"type:varchar(16);not null" json:"type"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	Attachments string    `gorm:"type:text" json:"attachments,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func (Message) TableName() string { return "messages" }

type Store struct {
	db *gorm.DB
}

// OpenStore opens the stub's database: MySQL when a DSN is configured
// (persistent QA runs), otherwise a private in-memory sqlite.
func OpenStore(dsn string) (*Store, error) {
	var dial gorm.Dialector
	if dsn != "" {
		dial = mysql.Open(dsn)
	} else {
		dial = gormsqlite.Open(fmt.Sprintf("file:stub-%s?mode=memory&cache=shared", NewSessionID()))
	}
	db, err := gorm.Open(dial, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open stub store: %w", err)
	}
	if err := db.AutoMigrate(&Session{}, &Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate stub store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	return s.db.WithContext(ctx).Create(sess).Error
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var out Session
	if err := s.db.WithContext(ctx).First(&out, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := s.db.WithContext(ctx).
		Order("updated_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) RenameSession(ctx context.Context, id, name string) error {
	return s.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", id).
		Update("name", name).Error
}

func (s *Store) TouchSession(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Message{}, "session_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&Session{}, "id = ?", id).Error
	})
}

// InsertMessage writes one message, deduplicating by id so that history
// imports are idempotent. It reports whether a row was actually created.
func (s *Store) InsertMessage(ctx context.Context, m *Message) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("id = ?", m.ID).
		Attrs(*m).
		FirstOrCreate(&Message{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) MessagesBySession(ctx context.Context, sessionID string) ([]Message, error) {
	var out []Message
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC").
		Find(&out).Error; err != nil {
		return nil, err
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
