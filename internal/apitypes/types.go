package apitypes

import "time"

// Message types as they appear on the wire and in the transcript.
const (
	MessageTypeUser    = "user"
	MessageTypeAI      = "ai"
	MessageTypeCommand = "command"
)

// Usage window identifiers.
const (
	Window5h = "5h"
	Window7d = "7d"
)

type Session struct {
	ID           string    `json:"id"`
	Token        string    `json:"token,omitempty"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	IsActive     bool      `json:"is_active"`
	MessageCount int       `json:"message_count"`
}

type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
}

type Message struct {
	ID          string       `json:"id"`
	Type        string       `json:"type"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

type UsageWindow struct {
	WindowType      string     `json:"window_type"`
	CurrentCostEUR  float64    `json:"current_cost_eur"`
	LimitCostEUR    float64    `json:"limit_cost_eur"`
	UsagePercentage float64    `json:"usage_percentage"`
	ResetAt         *time.Time `json:"reset_at"`
	ResetInMinutes  *int       `json:"reset_in_minutes"`
}

type Credits struct {
	BalanceEUR        float64 `json:"balance_eur"`
	ExtraUsageEnabled bool    `json:"extra_usage_enabled"`
}

type UsageStatus struct {
	PlanSlug  string      `json:"plan_slug"`
	PlanName  string      `json:"plan_name"`
	Window5h  UsageWindow `json:"window_5h"`
	Window7d  UsageWindow `json:"window_7d"`
	Credits   Credits     `json:"credits"`
	IsAdmin   bool        `json:"is_admin"`
	MessageIT string      `json:"message_it"`
}

type LimitInfo struct {
	CostConsumedEUR float64    `json:"cost_consumed_eur"`
	CostLimitEUR    float64    `json:"cost_limit_eur"`
	ResetAt         *time.Time `json:"reset_at"`
	ResetInMinutes  *int       `json:"reset_in_minutes"`
}

// Error type discriminators carried in StructuredError.Type.
const (
	ErrTypeUsageLimitExceeded = "USAGE_LIMIT_EXCEEDED"
	ErrTypeNetwork            = "NETWORK_ERROR"
	ErrTypeServer             = "SERVER_ERROR"
	ErrTypeCancelled          = "CANCELLED"
)

// StructuredError is the classified failure of a chat turn. For
// USAGE_LIMIT_EXCEEDED the LimitInfo is always populated. Detail carries
// the raw server response for logs and error chains; MessageIT is what
// the user sees.
type StructuredError struct {
	Type      string     `json:"type"`
	MessageIT string     `json:"message_it"`
	LimitInfo *LimitInfo `json:"limit_info,omitempty"`
	CanBypass bool       `json:"can_bypass"`
	Detail    string     `json:"-"`
}

func (e *StructuredError) Error() string {
	msg := e.Type
	if e.MessageIT != "" {
		msg += ": " + e.MessageIT
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *StructuredError) IsUsageLimit() bool {
	return e != nil && e.Type == ErrTypeUsageLimitExceeded
}

func (e *StructuredError) IsCancelled() bool {
	return e != nil && e.Type == ErrTypeCancelled
}
