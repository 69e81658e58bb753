package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/migrations"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"
	"github.com/neriyabudraham/flowbotomat-sub003/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	// Validate database path to prevent directory traversal
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(migrations.GetInitialSchema()); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Conversation state operations

// GetConversationState returns the record for a phone, or nil when the
// phone has never been seen.
func (d *Database) GetConversationState(ctx context.Context, phone string) (*models.ConversationState, error) {
	lookupPhone, err := d.encryptor.EncryptForLookupIfEnabled(phone)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt phone: %w", err)
	}

	query := `
		SELECT phone, state, state_data, draft, connection_id, blocked_until,
		       notified_not_authorized, last_message_at, created_at, updated_at
		FROM conversation_states
		WHERE phone = ?
	`

	var (
		storedPhone, state         string
		stateData, draft           sql.NullString
		connectionID               sql.NullInt64
		blockedUntil               sql.NullTime
		notified                   bool
		lastMessageAt, created, up time.Time
	)

	err = d.db.QueryRowContext(ctx, query, lookupPhone).Scan(
		&storedPhone, &state, &stateData, &draft, &connectionID,
		&blockedUntil, &notified, &lastMessageAt, &created, &up,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation state: %w", err)
	}

	cs := &models.ConversationState{
		Phone:                 phone,
		State:                 models.ParseState(state),
		NotifiedNotAuthorized: notified,
		LastMessageAt:         lastMessageAt,
		CreatedAt:             created,
		UpdatedAt:             up,
	}
	if connectionID.Valid {
		cs.ConnectionID = &connectionID.Int64
	}
	if blockedUntil.Valid {
		t := blockedUntil.Time
		cs.BlockedUntil = &t
	}
	if stateData.Valid && stateData.String != "" {
		var data models.StateData
		if err := json.Unmarshal([]byte(stateData.String), &data); err != nil {
			return nil, fmt.Errorf("failed to decode state data: %w", err)
		}
		cs.Data = &data
	}
	if draft.Valid && draft.String != "" {
		var dr models.StatusDraft
		if err := json.Unmarshal([]byte(draft.String), &dr); err != nil {
			return nil, fmt.Errorf("failed to decode draft: %w", err)
		}
		cs.Draft = &dr
	}

	// A payload that no longer matches its state is treated the same as an
	// unknown state value: the conversation falls back to idle.
	if err := cs.Data.Validate(cs.State); err != nil {
		cs.State = models.StateIdle
		cs.Data = nil
	}

	return cs, nil
}

// SaveConversationState upserts the record for a phone.
func (d *Database) SaveConversationState(ctx context.Context, cs *models.ConversationState) error {
	lookupPhone, err := d.encryptor.EncryptForLookupIfEnabled(cs.Phone)
	if err != nil {
		return fmt.Errorf("failed to encrypt phone: %w", err)
	}

	var stateData, draft interface{}
	if cs.Data != nil {
		raw, err := json.Marshal(cs.Data)
		if err != nil {
			return fmt.Errorf("failed to encode state data: %w", err)
		}
		stateData = string(raw)
	}
	if cs.Draft != nil {
		raw, err := json.Marshal(cs.Draft)
		if err != nil {
			return fmt.Errorf("failed to encode draft: %w", err)
		}
		draft = string(raw)
	}

	var connectionID interface{}
	if cs.ConnectionID != nil {
		connectionID = *cs.ConnectionID
	}
	var blockedUntil interface{}
	if cs.BlockedUntil != nil {
		blockedUntil = cs.BlockedUntil.UTC()
	}

	query := `
		INSERT INTO conversation_states (
			phone, state, state_data, draft, connection_id, blocked_until,
			notified_not_authorized, last_message_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(phone) DO UPDATE SET
			state = excluded.state,
			state_data = excluded.state_data,
			draft = excluded.draft,
			connection_id = excluded.connection_id,
			blocked_until = excluded.blocked_until,
			notified_not_authorized = excluded.notified_not_authorized,
			last_message_at = excluded.last_message_at,
			updated_at = CURRENT_TIMESTAMP
	`

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			lookupPhone, string(cs.State), stateData, draft, connectionID,
			blockedUntil, cs.NotifiedNotAuthorized, cs.LastMessageAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to save conversation state: %w", err)
		}
		return nil
	}, "save conversation state")
}

// Connection operations

const connectionColumns = `
	id, owner_name, display_name, phone, session_name, status,
	first_connected_at, last_connected_at, restriction_lifted, colors,
	created_at, updated_at`

func (d *Database) scanConnection(scan func(dest ...interface{}) error) (*models.Connection, error) {
	var (
		conn            models.Connection
		encryptedPhone  string
		firstConn       sql.NullTime
		lastConn        sql.NullTime
		colors          string
	)

	err := scan(
		&conn.ID, &conn.OwnerName, &conn.DisplayName, &encryptedPhone,
		&conn.SessionName, (*string)(&conn.Status), &firstConn, &lastConn,
		&conn.RestrictionLifted, &colors, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	conn.Phone, err = d.encryptor.DecryptIfEnabled(encryptedPhone)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt connection phone: %w", err)
	}
	if firstConn.Valid {
		t := firstConn.Time
		conn.FirstConnectedAt = &t
	}
	if lastConn.Valid {
		t := lastConn.Time
		conn.LastConnectedAt = &t
	}
	if colors != "" {
		if err := json.Unmarshal([]byte(colors), &conn.Colors); err != nil {
			return nil, fmt.Errorf("failed to decode color palette: %w", err)
		}
	}

	return &conn, nil
}

// GetConnection returns a connection by id, or nil when absent.
func (d *Database) GetConnection(ctx context.Context, id int64) (*models.Connection, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE id = ?`, id)

	conn, err := d.scanConnection(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

// GetConnectionBySession returns a connection by gateway session name.
func (d *Database) GetConnectionBySession(ctx context.Context, sessionName string) (*models.Connection, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE session_name = ?`, sessionName)

	conn, err := d.scanConnection(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection by session: %w", err)
	}
	return conn, nil
}

// ListAuthorizedConnections returns every active connection any of the
// given phone representations is authorized to act on.
func (d *Database) ListAuthorizedConnections(ctx context.Context, phones []string) ([]models.Connection, error) {
	if len(phones) == 0 {
		return nil, nil
	}

	placeholders := ""
	args := make([]interface{}, 0, len(phones))
	for i, p := range phones {
		lookup, err := d.encryptor.EncryptForLookupIfEnabled(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt phone: %w", err)
		}
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, lookup)
	}

	query := `
		SELECT DISTINCT
		connections.id, connections.owner_name, connections.display_name,
		connections.phone, connections.session_name, connections.status,
		connections.first_connected_at, connections.last_connected_at,
		connections.restriction_lifted, connections.colors,
		connections.created_at, connections.updated_at
		FROM connections
		JOIN authorized_numbers ON authorized_numbers.connection_id = connections.id
		WHERE authorized_numbers.active = 1
		  AND authorized_numbers.phone IN (` + placeholders + `)
		ORDER BY connections.id
	`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list authorized connections: %w", err)
	}
	defer rows.Close()

	var conns []models.Connection
	for rows.Next() {
		conn, err := d.scanConnection(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, *conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate connections: %w", err)
	}
	return conns, nil
}

// SaveConnection inserts or updates a connection. A zero ID inserts.
func (d *Database) SaveConnection(ctx context.Context, conn *models.Connection) error {
	encryptedPhone, err := d.encryptor.EncryptIfEnabled(conn.Phone)
	if err != nil {
		return fmt.Errorf("failed to encrypt connection phone: %w", err)
	}
	colors, err := json.Marshal(conn.Colors)
	if err != nil {
		return fmt.Errorf("failed to encode color palette: %w", err)
	}

	var firstConn, lastConn interface{}
	if conn.FirstConnectedAt != nil {
		firstConn = conn.FirstConnectedAt.UTC()
	}
	if conn.LastConnectedAt != nil {
		lastConn = conn.LastConnectedAt.UTC()
	}

	if conn.ID == 0 {
		res, err := d.db.ExecContext(ctx, `
			INSERT INTO connections (
				owner_name, display_name, phone, session_name, status,
				first_connected_at, last_connected_at, restriction_lifted, colors
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			conn.OwnerName, conn.DisplayName, encryptedPhone, conn.SessionName,
			string(conn.Status), firstConn, lastConn, conn.RestrictionLifted, string(colors))
		if err != nil {
			return fmt.Errorf("failed to insert connection: %w", err)
		}
		conn.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get connection id: %w", err)
		}
		return nil
	}

	_, err = d.db.ExecContext(ctx, `
		UPDATE connections SET
			owner_name = ?, display_name = ?, phone = ?, session_name = ?,
			status = ?, first_connected_at = ?, last_connected_at = ?,
			restriction_lifted = ?, colors = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		conn.OwnerName, conn.DisplayName, encryptedPhone, conn.SessionName,
		string(conn.Status), firstConn, lastConn, conn.RestrictionLifted,
		string(colors), conn.ID)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	return nil
}

// UpdateConnectionStatus applies a gateway session-status event. A connect
// stamps last_connected_at (and first_connected_at if unset), which is the
// reference point for the quarantine window.
func (d *Database) UpdateConnectionStatus(ctx context.Context, sessionName string, status models.ConnectionStatus, at time.Time) error {
	var query string
	if status == models.ConnectionConnected {
		query = `
			UPDATE connections SET
				status = ?,
				last_connected_at = ?,
				first_connected_at = COALESCE(first_connected_at, ?),
				updated_at = CURRENT_TIMESTAMP
			WHERE session_name = ?
		`
		return retryableDBOperationNoReturn(ctx, func() error {
			_, err := d.db.ExecContext(ctx, query, string(status), at.UTC(), at.UTC(), sessionName)
			if err != nil {
				return fmt.Errorf("failed to update connection status: %w", err)
			}
			return nil
		}, "update connection status")
	}

	query = `
		UPDATE connections SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE session_name = ?
	`
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, string(status), sessionName)
		if err != nil {
			return fmt.Errorf("failed to update connection status: %w", err)
		}
		return nil
	}, "update connection status")
}

// SaveAuthorizedNumber grants a phone access to a connection.
func (d *Database) SaveAuthorizedNumber(ctx context.Context, an *models.AuthorizedNumber) error {
	lookupPhone, err := d.encryptor.EncryptForLookupIfEnabled(an.Phone)
	if err != nil {
		return fmt.Errorf("failed to encrypt phone: %w", err)
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO authorized_numbers (phone, connection_id, active)
		VALUES (?, ?, ?)`,
		lookupPhone, an.ConnectionID, an.Active)
	if err != nil {
		return fmt.Errorf("failed to save authorized number: %w", err)
	}
	an.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get authorized number id: %w", err)
	}
	return nil
}
