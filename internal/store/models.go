package store

import "time"

// Delivery modes.
const (
	DeliveryEmail = "email"
	DeliveryWeb   = "web"
)

// ItemState is the processing state of a Scanned Item.
type ItemState string

const (
	StatePending               ItemState = "pending"
	StateSummarized            ItemState = "summarized"
	StateTranscriptUnavailable ItemState = "transcript_unavailable"
	StateSummaryFailed         ItemState = "summary_failed"
	StateAbandoned             ItemState = "abandoned"
)

// User is a registered account.
type User struct {
	ID             int64  `db:"id" json:"id"`
	AccountEmail   string `db:"account_email" json:"account_email"`
	PasswordHash   string `db:"password_hash" json:"-"`
	RecipientEmail string `db:"recipient_email" json:"recipient_email"`
	APIKeySealed   string `db:"api_key_sealed" json:"-"`
	Model          string `db:"model" json:"model"`
	SummaryPrompt  string `db:"summary_prompt" json:"summary_prompt,omitempty"`
	Delivery       string `db:"delivery" json:"delivery"`
	CreatedAt      string `db:"created_at" json:"created_at"`
}

// HasAPIKey reports whether a sealed key is stored.
func (u *User) HasAPIKey() bool { return u.APIKeySealed != "" }

// Channel is a YouTube channel registered by a user.
type Channel struct {
	ID        int64  `db:"id" json:"id"`
	UserID    int64  `db:"user_id" json:"user_id"`
	ChannelID string `db:"channel_id" json:"channel_id"`
	Source    string `db:"source" json:"source"`
	Title     string `db:"title" json:"title"`
	CreatedAt string `db:"created_at" json:"created_at"`
}

// DisplayTitle falls back to the channel id when no title is known.
func (c *Channel) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return c.ChannelID
}

// ScannedItem records that a video was seen for a user.
type ScannedItem struct {
	ID            int64     `db:"id" json:"id"`
	UserID        int64     `db:"user_id" json:"user_id"`
	ChannelID     string    `db:"channel_id" json:"channel_id"`
	ChannelTitle  string    `db:"channel_title" json:"channel_title"`
	VideoID       string    `db:"video_id" json:"video_id"`
	VideoTitle    string    `db:"video_title" json:"video_title"`
	VideoURL      string    `db:"video_url" json:"video_url"`
	PublishedAt   string    `db:"published_at" json:"published_at,omitempty"`
	ScannedAt     string    `db:"scanned_at" json:"scanned_at"`
	State         ItemState `db:"state" json:"state"`
	Attempts      int       `db:"attempts" json:"attempts"`
	LastError     string    `db:"last_error" json:"last_error,omitempty"`
	LastAttemptAt string    `db:"last_attempt_at" json:"last_attempt_at"`
}

// GeneratedItem is a stored Korean summary for one video.
type GeneratedItem struct {
	ID            int64  `db:"id" json:"id"`
	UserID        int64  `db:"user_id" json:"user_id"`
	ChannelID     string `db:"channel_id" json:"channel_id"`
	ChannelTitle  string `db:"channel_title" json:"channel_title"`
	VideoID       string `db:"video_id" json:"video_id"`
	VideoTitle    string `db:"video_title" json:"video_title"`
	VideoURL      string `db:"video_url" json:"video_url"`
	Summary       string `db:"summary_ko" json:"summary_ko"`
	GeneratedAt   string `db:"generated_at" json:"generated_at"`
	Delivery      string `db:"delivery" json:"delivery"`
	DeliveredAt   string `db:"delivered_at" json:"delivered_at,omitempty"`
	DeliveryError string `db:"delivery_error" json:"delivery_error,omitempty"`
}

// RetryPolicy bounds automatic re-attempts of failed videos.
type RetryPolicy struct {
	MaxAttempts int
	RetryAfter  time.Duration
	StaleAfter  time.Duration // pending claims older than this are treated as crashed
}

// Page is one slice of a paginated listing.
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}
