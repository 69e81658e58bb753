package models

import "time"

// SentStatus is the append-only record of a status post that reached the
// network. Only the deleted flag is ever mutated afterwards.
type SentStatus struct {
	ID           int64
	QueueItemID  int64
	ConnectionID int64
	MessageID    string
	PostedAt     time.Time
	ExpiresAt    time.Time
	Deleted      bool
}

// StatusView is one viewer event for a sent status.
type StatusView struct {
	ID           int64
	SentStatusID int64
	ViewerPhone  string
	ViewerName   string
	ViewedAt     time.Time
}

// StatusReaction is one reaction event for a sent status.
type StatusReaction struct {
	ID            int64
	SentStatusID  int64
	ReactorPhone  string
	ReactorName   string
	Emoji         string
	ReactedAt     time.Time
}

// HeartEmoji is the reaction the after-send menu counts separately.
const HeartEmoji = "❤️"
