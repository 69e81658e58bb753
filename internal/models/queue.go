package models

import "time"

// StatusType is the content kind of a status post.
type StatusType string

const (
	StatusTypeText  StatusType = "text"
	StatusTypeImage StatusType = "image"
	StatusTypeVideo StatusType = "video"
	StatusTypeVoice StatusType = "voice"
)

// QueueStatus is the lifecycle state of a queued post job.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueScheduled  QueueStatus = "scheduled" // legacy alias of pending
	QueueProcessing QueueStatus = "processing"
	QueueSent       QueueStatus = "sent"
	QueueFailed     QueueStatus = "failed"
	QueueCancelled  QueueStatus = "cancelled"
)

// Source records which surface enqueued a job.
type Source string

const (
	SourceWeb      Source = "web"
	SourceWhatsApp Source = "whatsapp"
)

// StatusContent is the builder output dispatched to the gateway, shaped per
// content kind. Unused fields stay empty for the other kinds.
type StatusContent struct {
	Type            StatusType `json:"type"`
	Text            string     `json:"text,omitempty"`
	BackgroundColor string     `json:"backgroundColor,omitempty"`
	Font            int        `json:"font,omitempty"`
	LinkPreview     bool       `json:"linkPreview,omitempty"`
	MediaURL        string     `json:"mediaUrl,omitempty"`
	Caption         string     `json:"caption,omitempty"`
	PTT             bool       `json:"ptt,omitempty"`
}

// QueueItem is one durable post job.
type QueueItem struct {
	ID           int64
	ConnectionID int64
	StatusType   StatusType
	Content      StatusContent
	Status       QueueStatus
	ScheduledFor *time.Time
	Source       Source
	SourcePhone  string
	MessageID    string
	CreatedAt    time.Time
	SentAt       *time.Time
	RetryCount   int
	ErrorMessage string
}

// Terminal reports whether the item can no longer be dispatched.
func (q *QueueItem) Terminal() bool {
	switch q.Status {
	case QueueSent, QueueFailed, QueueCancelled:
		return true
	}
	return false
}

// Due reports whether the item's schedule (if any) has arrived.
func (q *QueueItem) Due(now time.Time) bool {
	return q.ScheduledFor == nil || !q.ScheduledFor.After(now)
}

// QueueLock is the singleton advisory-lock row serializing the processor.
type QueueLock struct {
	IsProcessing         bool
	ProcessingStartedAt  *time.Time
	LastSentAt           *time.Time
	LastSentConnectionID *int64
}
