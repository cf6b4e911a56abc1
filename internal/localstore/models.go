package localstore

import "time"

// Session mirrors the backend session plus local-only bookkeeping
// (token, activity flag).
type Session struct {
	ID        string    `gorm:"primaryKey;type:varchar(26)" json:"id"`
	Token     string    `gorm:"type:text" json:"-"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	IsActive  bool      `gorm:"index" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "local_sessions" }

type Message struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SessionID   string    `gorm:"index;type:varchar(26);not null" json:"session_id"`
	Type        string    `gorm:"type:varchar(16);not null" json:"type"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	Attachments string    `gorm:"type:text" json:"-"` // JSON-encoded []apitypes.Attachment
	Timestamp   time.Time `json:"timestamp"`
}

func (Message) TableName() string { return "local_messages" }

// KV holds durable single-value keys, e.g. the current session id that
// lets a restart resume the same conversation.
type KV struct {
	K string `gorm:"primaryKey;type:varchar(64)"`
	V string `gorm:"type:text"`
}

func (KV) TableName() string { return "local_kv" }

const currentSessionKey = "current_session_id"
