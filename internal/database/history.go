package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"
)

// InsertSentStatus records a status that reached the network.
func (d *Database) InsertSentStatus(ctx context.Context, ss *models.SentStatus) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		res, err := d.db.ExecContext(ctx, `
			INSERT INTO sent_statuses (queue_item_id, connection_id, message_id, posted_at, expires_at)
			VALUES (?, ?, ?, ?, ?)`,
			ss.QueueItemID, ss.ConnectionID, ss.MessageID,
			ss.PostedAt.UTC(), ss.ExpiresAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert sent status: %w", err)
		}
		ss.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get sent status id: %w", err)
		}
		return nil
	}, "insert sent status")
}

// GetSentStatusByQueueItem returns the history row for a job, or nil.
func (d *Database) GetSentStatusByQueueItem(ctx context.Context, queueItemID int64) (*models.SentStatus, error) {
	var ss models.SentStatus
	err := d.db.QueryRowContext(ctx, `
		SELECT id, queue_item_id, connection_id, message_id, posted_at, expires_at, deleted
		FROM sent_statuses WHERE queue_item_id = ?`, queueItemID).Scan(
		&ss.ID, &ss.QueueItemID, &ss.ConnectionID, &ss.MessageID,
		&ss.PostedAt, &ss.ExpiresAt, &ss.Deleted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sent status: %w", err)
	}
	return &ss, nil
}

// GetSentStatusByMessageID resolves an inbound view/reaction event's
// message id to the history row it belongs to, or nil.
func (d *Database) GetSentStatusByMessageID(ctx context.Context, messageID string) (*models.SentStatus, error) {
	var ss models.SentStatus
	err := d.db.QueryRowContext(ctx, `
		SELECT id, queue_item_id, connection_id, message_id, posted_at, expires_at, deleted
		FROM sent_statuses WHERE message_id = ?`, messageID).Scan(
		&ss.ID, &ss.QueueItemID, &ss.ConnectionID, &ss.MessageID,
		&ss.PostedAt, &ss.ExpiresAt, &ss.Deleted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sent status by message id: %w", err)
	}
	return &ss, nil
}

// MarkSentStatusDeleted soft-marks a posted status after a gateway delete.
func (d *Database) MarkSentStatusDeleted(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE sent_statuses SET deleted = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark sent status deleted: %w", err)
	}
	return nil
}

// InsertStatusView appends a viewer event for a sent status.
func (d *Database) InsertStatusView(ctx context.Context, v *models.StatusView) error {
	phone, err := d.encryptor.EncryptForLookupIfEnabled(v.ViewerPhone)
	if err != nil {
		return fmt.Errorf("failed to encrypt viewer phone: %w", err)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO status_views (sent_status_id, viewer_phone, viewer_name, viewed_at)
		VALUES (?, ?, ?, ?)`,
		v.SentStatusID, phone, v.ViewerName, v.ViewedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert status view: %w", err)
	}
	return nil
}

// InsertStatusReaction appends a reaction event for a sent status.
func (d *Database) InsertStatusReaction(ctx context.Context, r *models.StatusReaction) error {
	phone, err := d.encryptor.EncryptForLookupIfEnabled(r.ReactorPhone)
	if err != nil {
		return fmt.Errorf("failed to encrypt reactor phone: %w", err)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO status_reactions (sent_status_id, reactor_phone, reactor_name, emoji, reacted_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.SentStatusID, phone, r.ReactorName, r.Emoji, r.ReactedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert status reaction: %w", err)
	}
	return nil
}

// ListStatusViews returns viewer events for a sent status, newest first.
func (d *Database) ListStatusViews(ctx context.Context, sentStatusID int64) ([]models.StatusView, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, sent_status_id, viewer_phone, viewer_name, viewed_at
		FROM status_views WHERE sent_status_id = ?
		ORDER BY viewed_at DESC`, sentStatusID)
	if err != nil {
		return nil, fmt.Errorf("failed to list status views: %w", err)
	}
	defer rows.Close()

	var views []models.StatusView
	for rows.Next() {
		var v models.StatusView
		var encryptedPhone string
		if err := rows.Scan(&v.ID, &v.SentStatusID, &encryptedPhone, &v.ViewerName, &v.ViewedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status view: %w", err)
		}
		v.ViewerPhone, err = d.encryptor.DecryptIfEnabled(encryptedPhone)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt viewer phone: %w", err)
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status views: %w", err)
	}
	return views, nil
}

// ListStatusReactions returns reaction events for a sent status, newest first.
func (d *Database) ListStatusReactions(ctx context.Context, sentStatusID int64) ([]models.StatusReaction, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, sent_status_id, reactor_phone, reactor_name, emoji, reacted_at
		FROM status_reactions WHERE sent_status_id = ?
		ORDER BY reacted_at DESC`, sentStatusID)
	if err != nil {
		return nil, fmt.Errorf("failed to list status reactions: %w", err)
	}
	defer rows.Close()

	var reactions []models.StatusReaction
	for rows.Next() {
		var r models.StatusReaction
		var encryptedPhone string
		if err := rows.Scan(&r.ID, &r.SentStatusID, &encryptedPhone, &r.ReactorName, &r.Emoji, &r.ReactedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status reaction: %w", err)
		}
		r.ReactorPhone, err = d.encryptor.DecryptIfEnabled(encryptedPhone)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt reactor phone: %w", err)
		}
		reactions = append(reactions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status reactions: %w", err)
	}
	return reactions, nil
}

// CleanupExpiredHistory removes view/reaction events and history rows for
// statuses expired longer than retentionDays ago.
func (d *Database) CleanupExpiredHistory(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	_, err := d.db.ExecContext(ctx, `
		DELETE FROM status_views WHERE sent_status_id IN (
			SELECT id FROM sent_statuses WHERE expires_at < ?)`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup status views: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		DELETE FROM status_reactions WHERE sent_status_id IN (
			SELECT id FROM sent_statuses WHERE expires_at < ?)`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup status reactions: %w", err)
	}
	_, err = d.db.ExecContext(ctx, `
		DELETE FROM sent_statuses WHERE expires_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup sent statuses: %w", err)
	}
	return nil
}
