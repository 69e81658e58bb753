package types

import "context"

// Client is the full capability set the gateway offers. Every call is a
// remote operation: fallible, possibly slow, always context-bounded.
type Client interface {
	SendText(ctx context.Context, session, phone, text string) (*SendMessageResponse, error)
	SendButtons(ctx context.Context, session, phone, body string, buttons []Button) (*SendMessageResponse, error)
	SendList(ctx context.Context, session, phone, body, buttonText string, sections []ListSection) (*SendMessageResponse, error)
	RehostMedia(ctx context.Context, session, mediaID string) (string, error)
	RequestMessageID(ctx context.Context, session string) (string, error)
	PostStatus(ctx context.Context, session string, post StatusPost) (*PostStatusResponse, error)
	DeleteStatus(ctx context.Context, session, messageID string) error
	MarkRead(ctx context.Context, session, phone, messageID string) error
}
