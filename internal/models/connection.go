package models

import "time"

// ConnectionStatus is the gateway session health of a postable account.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// Connection is a WhatsApp account statuses can be posted from.
type Connection struct {
	ID                int64
	OwnerName         string
	DisplayName       string
	Phone             string
	SessionName       string
	Status            ConnectionStatus
	FirstConnectedAt  *time.Time
	LastConnectedAt   *time.Time
	RestrictionLifted bool
	Colors            []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ConnectedSince returns the reference instant for the post-connection
// quarantine window: last connect when known, first connect otherwise.
func (c *Connection) ConnectedSince() *time.Time {
	if c.LastConnectedAt != nil {
		return c.LastConnectedAt
	}
	return c.FirstConnectedAt
}

// AuthorizedNumber grants a sender phone the right to act on a connection.
type AuthorizedNumber struct {
	ID           int64
	Phone        string
	ConnectionID int64
	Active       bool
	CreatedAt    time.Time
}
