package models

// MessageKind classifies an inbound message from a contact.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindImage       MessageKind = "image"
	KindVideo       MessageKind = "video"
	KindVoice       MessageKind = "voice"
	KindButtonReply MessageKind = "button_reply"
	KindListReply   MessageKind = "list_reply"
	KindUnsupported MessageKind = "unsupported"
)

// Content reports whether the message carries new draft material rather
// than a reply to a prompt.
func (k MessageKind) Content() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindVoice:
		return true
	}
	return false
}

// InboundMessage is one event delivered by the gateway webhook.
type InboundMessage struct {
	ID      string
	Kind    MessageKind
	Text    string
	ReplyID string
	MediaID string
	Caption string
}
