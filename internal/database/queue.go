package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"
)

const queueColumns = `
	id, connection_id, status_type, content, queue_status, scheduled_for,
	source, source_phone, message_id, created_at, sent_at, retry_count,
	error_message`

func (d *Database) scanQueueItem(scan func(dest ...interface{}) error) (*models.QueueItem, error) {
	var (
		item         models.QueueItem
		content      string
		scheduledFor sql.NullTime
		sourcePhone  sql.NullString
		sentAt       sql.NullTime
	)

	err := scan(
		&item.ID, &item.ConnectionID, (*string)(&item.StatusType), &content,
		(*string)(&item.Status), &scheduledFor, (*string)(&item.Source),
		&sourcePhone, &item.MessageID, &item.CreatedAt, &sentAt,
		&item.RetryCount, &item.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(content), &item.Content); err != nil {
		return nil, fmt.Errorf("failed to decode queue item content: %w", err)
	}
	if scheduledFor.Valid {
		t := scheduledFor.Time
		item.ScheduledFor = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		item.SentAt = &t
	}
	if sourcePhone.Valid {
		item.SourcePhone, err = d.encryptor.DecryptIfEnabled(sourcePhone.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt source phone: %w", err)
		}
	}

	return &item, nil
}

// EnqueueItem inserts a new post job in pending state.
func (d *Database) EnqueueItem(ctx context.Context, item *models.QueueItem) error {
	content, err := json.Marshal(item.Content)
	if err != nil {
		return fmt.Errorf("failed to encode queue item content: %w", err)
	}

	var sourcePhone interface{}
	if item.SourcePhone != "" {
		encrypted, err := d.encryptor.EncryptForLookupIfEnabled(item.SourcePhone)
		if err != nil {
			return fmt.Errorf("failed to encrypt source phone: %w", err)
		}
		sourcePhone = encrypted
	}
	var scheduledFor interface{}
	if item.ScheduledFor != nil {
		scheduledFor = item.ScheduledFor.UTC()
	}

	if item.Status == "" {
		item.Status = models.QueuePending
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, `
			INSERT INTO queue_items (
				connection_id, status_type, content, queue_status,
				scheduled_for, source, source_phone, message_id
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ConnectionID, string(item.StatusType), string(content),
			string(item.Status), scheduledFor, string(item.Source),
			sourcePhone, item.MessageID)
		if err != nil {
			return fmt.Errorf("failed to enqueue item: %w", err)
		}
		item.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get queue item id: %w", err)
		}
		return nil
	}, "enqueue item")
}

// GetQueueItem returns a job by id, or nil when absent.
func (d *Database) GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue_items WHERE id = ?`, id)

	item, err := d.scanQueueItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return item, nil
}

// ListPendingByConnection returns this connection's not-yet-sent jobs,
// soonest schedule first with "send now" items at the front.
func (d *Database) ListPendingByConnection(ctx context.Context, connectionID int64) ([]models.QueueItem, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM queue_items
		WHERE connection_id = ? AND queue_status IN ('pending', 'scheduled')
		ORDER BY scheduled_for IS NOT NULL, scheduled_for ASC, created_at ASC
	`

	rows, err := d.db.QueryContext(ctx, query, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		item, err := d.scanQueueItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue items: %w", err)
	}
	return items, nil
}

// ListRecentSentByConnection returns jobs posted since the given instant,
// newest first. The status list shows these next to the pending ones so a
// live status can still be inspected or retracted.
func (d *Database) ListRecentSentByConnection(ctx context.Context, connectionID int64, since time.Time) ([]models.QueueItem, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM queue_items
		WHERE connection_id = ? AND queue_status = 'sent' AND sent_at >= ?
		ORDER BY sent_at DESC
	`

	rows, err := d.db.QueryContext(ctx, query, connectionID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list recent sent items: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		item, err := d.scanQueueItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recent sent items: %w", err)
	}
	return items, nil
}

// ListDueCandidates returns due pending jobs in dispatch order. Per-account
// eligibility (connection health, quarantine) is the caller's concern so the
// predicate lives in exactly one place.
func (d *Database) ListDueCandidates(ctx context.Context, now time.Time) ([]models.QueueItem, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM queue_items
		WHERE queue_status IN ('pending', 'scheduled')
		  AND (scheduled_for IS NULL OR scheduled_for <= ?)
		ORDER BY scheduled_for IS NOT NULL, scheduled_for ASC, created_at ASC
	`

	rows, err := d.db.QueryContext(ctx, query, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list due candidates: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		item, err := d.scanQueueItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due candidates: %w", err)
	}
	return items, nil
}

// MarkProcessing claims a job. It refuses if the job left the pending set
// in the meantime (e.g. a racing cancel).
func (d *Database) MarkProcessing(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE queue_items SET queue_status = 'processing'
		WHERE id = ? AND queue_status IN ('pending', 'scheduled')`, id)
	if err != nil {
		return fmt.Errorf("failed to mark item processing: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("queue item %d is no longer pending", id)
	}
	return nil
}

// MarkSent records a successful dispatch.
func (d *Database) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `
			UPDATE queue_items SET queue_status = 'sent', sent_at = ?, error_message = ''
			WHERE id = ?`, sentAt.UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to mark item sent: %w", err)
		}
		return nil
	}, "mark item sent")
}

// MarkFailed records a failed dispatch and bumps the retry counter. The
// item is not re-queued automatically; re-queueing is an explicit action.
func (d *Database) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `
			UPDATE queue_items SET queue_status = 'failed', error_message = ?,
			       retry_count = retry_count + 1
			WHERE id = ?`, errMsg, id)
		if err != nil {
			return fmt.Errorf("failed to mark item failed: %w", err)
		}
		return nil
	}, "mark item failed")
}

// CancelQueueItem cancels a job that has not been claimed yet. Jobs already
// processing run to completion regardless.
func (d *Database) CancelQueueItem(ctx context.Context, id int64) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE queue_items SET queue_status = 'cancelled'
		WHERE id = ? AND queue_status IN ('pending', 'scheduled')`, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel queue item: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// SetScheduledFor moves a not-yet-sent job to a new schedule. A nil instant
// means "send as soon as eligible".
func (d *Database) SetScheduledFor(ctx context.Context, id int64, at *time.Time) error {
	var scheduledFor interface{}
	if at != nil {
		scheduledFor = at.UTC()
	}

	res, err := d.db.ExecContext(ctx, `
		UPDATE queue_items SET scheduled_for = ?
		WHERE id = ? AND queue_status IN ('pending', 'scheduled')`, scheduledFor, id)
	if err != nil {
		return fmt.Errorf("failed to reschedule queue item: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("queue item %d is no longer pending", id)
	}
	return nil
}

// SetQueueItemMessageID persists the gateway message identifier before the
// send so retried deliveries can reconcile.
func (d *Database) SetQueueItemMessageID(ctx context.Context, id int64, messageID string) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `
			UPDATE queue_items SET message_id = ? WHERE id = ?`, messageID, id)
		if err != nil {
			return fmt.Errorf("failed to set queue item message id: %w", err)
		}
		return nil
	}, "set queue item message id")
}

// ReclassifyStuckProcessing fails every item stuck in processing. At most
// one item may be processing at a time, so when the stale lock is
// force-cleared anything still processing is orphaned by definition.
func (d *Database) ReclassifyStuckProcessing(ctx context.Context, errMsg string) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE queue_items SET queue_status = 'failed', error_message = ?,
		       retry_count = retry_count + 1
		WHERE queue_status = 'processing'`, errMsg)
	if err != nil {
		return 0, fmt.Errorf("failed to reclassify stuck items: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}

// Queue lock operations

// GetQueueLock returns the singleton lock row, creating it when absent.
func (d *Database) GetQueueLock(ctx context.Context) (*models.QueueLock, error) {
	_, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO queue_lock (id, is_processing) VALUES (1, 0)`)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure queue lock row: %w", err)
	}

	var (
		lock       models.QueueLock
		startedAt  sql.NullTime
		lastSentAt sql.NullTime
		lastConnID sql.NullInt64
	)
	err = d.db.QueryRowContext(ctx, `
		SELECT is_processing, processing_started_at, last_sent_at, last_sent_connection_id
		FROM queue_lock WHERE id = 1`).Scan(
		&lock.IsProcessing, &startedAt, &lastSentAt, &lastConnID)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue lock: %w", err)
	}

	if startedAt.Valid {
		t := startedAt.Time
		lock.ProcessingStartedAt = &t
	}
	if lastSentAt.Valid {
		t := lastSentAt.Time
		lock.LastSentAt = &t
	}
	if lastConnID.Valid {
		lock.LastSentConnectionID = &lastConnID.Int64
	}
	return &lock, nil
}

// TryAcquireQueueLock atomically flips the lock to processing. Returns
// false when another holder already has it.
func (d *Database) TryAcquireQueueLock(ctx context.Context, startedAt time.Time) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE queue_lock SET is_processing = 1, processing_started_at = ?
		WHERE id = 1 AND is_processing = 0`, startedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to acquire queue lock: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// ReleaseQueueLock clears the processing flag. When sentAt is non-nil the
// release also stamps the cool-down markers.
func (d *Database) ReleaseQueueLock(ctx context.Context, sentAt *time.Time, connectionID *int64) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		var err error
		if sentAt != nil {
			_, err = d.db.ExecContext(ctx, `
				UPDATE queue_lock SET is_processing = 0, processing_started_at = NULL,
				       last_sent_at = ?, last_sent_connection_id = ?
				WHERE id = 1`, sentAt.UTC(), connectionID)
		} else {
			_, err = d.db.ExecContext(ctx, `
				UPDATE queue_lock SET is_processing = 0, processing_started_at = NULL
				WHERE id = 1`)
		}
		if err != nil {
			return fmt.Errorf("failed to release queue lock: %w", err)
		}
		return nil
	}, "release queue lock")
}

// ForceClearQueueLock clears a stale lock regardless of holder. Only the
// crash-recovery path may call this.
func (d *Database) ForceClearQueueLock(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE queue_lock SET is_processing = 0, processing_started_at = NULL
		WHERE id = 1`)
	if err != nil {
		return fmt.Errorf("failed to force-clear queue lock: %w", err)
	}
	return nil
}
