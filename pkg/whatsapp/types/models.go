package types

import "time"

// ClientConfig configures the gateway REST client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// SendMessageResponse is the gateway's reply to any send endpoint.
type SendMessageResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Button is one option of a button prompt. At most three per prompt.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListRow is one selectable row of a list prompt.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListSection groups rows under a section title.
type ListSection struct {
	Title string    `json:"title,omitempty"`
	Rows  []ListRow `json:"rows"`
}

// StatusPost is the payload for posting a status, shaped per content kind.
type StatusPost struct {
	Type            string `json:"type"`
	MessageID       string `json:"messageId,omitempty"`
	Text            string `json:"text,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	Font            int    `json:"font,omitempty"`
	LinkPreview     bool   `json:"linkPreview,omitempty"`
	MediaURL        string `json:"mediaUrl,omitempty"`
	Caption         string `json:"caption,omitempty"`
	PTT             bool   `json:"ptt,omitempty"`
}

// PostStatusResponse is the gateway's reply to a status post.
type PostStatusResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// RehostResponse is the gateway's reply to a media re-host request.
type RehostResponse struct {
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

// MessageIDResponse is the gateway's reply to a fresh-id request.
type MessageIDResponse struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error,omitempty"`
}

// SessionEvent is one frame of the gateway's websocket event stream.
type SessionEvent struct {
	Event       string    `json:"event"`
	SessionName string    `json:"session"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// Session status values carried by SessionEvent.
const (
	SessionStatusConnected    = "connected"
	SessionStatusDisconnected = "disconnected"
)
