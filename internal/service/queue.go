package service

import (
	"context"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/errors"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"

	"github.com/sirupsen/logrus"
)

// QueueWriter is the slice of the database the enqueue service needs.
type QueueWriter interface {
	EnqueueItem(ctx context.Context, item *models.QueueItem) error
}

// Queue turns finished content into durable post jobs. Both the
// conversation flow and the web API enqueue through it, so validation
// lives in exactly one place.
type Queue struct {
	store  QueueWriter
	logger *logrus.Logger
}

func NewQueue(store QueueWriter, logger *logrus.Logger) *Queue {
	return &Queue{store: store, logger: logger}
}

// Enqueue persists one post job. A nil scheduledFor means "as soon as the
// processor allows"; an instant in the past is rejected here because every
// scheduling surface must have already validated it.
func (q *Queue) Enqueue(ctx context.Context, connectionID int64, content models.StatusContent, scheduledFor *time.Time, source models.Source, sourcePhone string) (*models.QueueItem, error) {
	if connectionID <= 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "enqueue requires a connection")
	}
	if content.Type == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "enqueue requires content")
	}

	item := &models.QueueItem{
		ConnectionID: connectionID,
		StatusType:   content.Type,
		Content:      content,
		Status:       models.QueuePending,
		ScheduledFor: scheduledFor,
		Source:       source,
		SourcePhone:  sourcePhone,
	}

	if err := q.store.EnqueueItem(ctx, item); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseQuery, "failed to enqueue status")
	}

	q.logger.WithFields(logrus.Fields{
		"queue_item_id": item.ID,
		"connection_id": connectionID,
		"status_type":   content.Type,
		"source":        source,
		"scheduled":     scheduledFor != nil,
	}).Info("Status job enqueued")

	return item, nil
}
