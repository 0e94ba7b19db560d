// Package dto contains data transfer objects for external APIs
// Separating DTOs from handlers prevents import cycles
package dto

// ProviderWebhookEnvelope is the top-level webhook payload the upstream
// WhatsApp-protocol provider posts for every event kind it emits.
// Ref: Evolution API webhook events (messages.upsert, messages.update,
// connection.update, qrcode.updated, groups.upsert, contacts.update).
type ProviderWebhookEnvelope struct {
	Event    string          `json:"event"`    // e.g. "messages.upsert"
	Instance string          `json:"instance"` // instance name
	Data     ProviderPayload `json:"data"`
}

// ProviderPayload is the event-kind-specific body. Only the fields relevant
// to a given Event are populated; the rest are left at their zero value.
type ProviderPayload struct {
	Key              *ProviderMessageKey `json:"key,omitempty"`
	PushName         string              `json:"pushName,omitempty"`
	Message          *ProviderMessage    `json:"message,omitempty"`
	MessageTimestamp int64               `json:"messageTimestamp,omitempty"`

	// connection.update
	State string `json:"state,omitempty"`

	// qrcode.updated
	QRCode string `json:"qrcode,omitempty"`
}

// ProviderMessageKey identifies a message's chat, direction, and provider id.
type ProviderMessageKey struct {
	RemoteJid   string `json:"remoteJid"`             // chat id, e.g. "1234@s.whatsapp.net" or "1234@g.us"
	FromMe      bool   `json:"fromMe"`                // true when the gateway's own instance sent it
	ID          string `json:"id"`                    // provider message id, used for dedup
	Participant string `json:"participant,omitempty"` // sender id within a group chat; empty in direct chats
}

// GetSenderID returns the event's sender id: the group participant when the
// message arrived in a group chat, otherwise the chat id itself (a direct
// chat's remote party is both the chat and the sender).
func (p *ProviderPayload) GetSenderID() string {
	if p.Key == nil {
		return ""
	}
	if p.Key.Participant != "" {
		return p.Key.Participant
	}
	return p.Key.RemoteJid
}

// ProviderMessage carries the actual message content, one of several
// mutually-exclusive sub-objects depending on content kind.
type ProviderMessage struct {
	Conversation        string                       `json:"conversation,omitempty"`
	ExtendedTextMessage *ProviderExtendedTextMessage `json:"extendedTextMessage,omitempty"`
	ImageMessage        *ProviderMediaMessage        `json:"imageMessage,omitempty"`
	VideoMessage        *ProviderMediaMessage        `json:"videoMessage,omitempty"`
	DocumentMessage     *ProviderMediaMessage        `json:"documentMessage,omitempty"`
	AudioMessage        *ProviderMediaMessage        `json:"audioMessage,omitempty"`
}

// ProviderExtendedTextMessage is a text message with link-preview metadata attached.
type ProviderExtendedTextMessage struct {
	Text string `json:"text"`
}

// ProviderMediaMessage is the shared shape of image/video/document/audio
// messages: a caption and a mimetype, never a downloadable URL directly.
type ProviderMediaMessage struct {
	Caption  string `json:"caption,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
}

// GetChatID returns the chat this event belongs to, or "" if unknown.
func (p *ProviderPayload) GetChatID() string {
	if p.Key == nil {
		return ""
	}
	return p.Key.RemoteJid
}

// GetMessageID returns the provider's own message id, used for deduplication.
func (p *ProviderPayload) GetMessageID() string {
	if p.Key == nil {
		return ""
	}
	return p.Key.ID
}

// GetMessageKind classifies the message's content for persistence, one of
// "text", "image", "video", "document", "audio", or "" if unrecognised.
func (p *ProviderPayload) GetMessageKind() string {
	if p.Message == nil {
		return ""
	}
	switch {
	case p.Message.Conversation != "" || p.Message.ExtendedTextMessage != nil:
		return "text"
	case p.Message.ImageMessage != nil:
		return "image"
	case p.Message.VideoMessage != nil:
		return "video"
	case p.Message.DocumentMessage != nil:
		return "document"
	case p.Message.AudioMessage != nil:
		return "audio"
	default:
		return ""
	}
}

// GetContent extracts the message's text: the conversation body, the
// extended-text body, or a media message's caption, in that order.
func (p *ProviderPayload) GetContent() string {
	if p.Message == nil {
		return ""
	}
	if p.Message.Conversation != "" {
		return p.Message.Conversation
	}
	if p.Message.ExtendedTextMessage != nil {
		return p.Message.ExtendedTextMessage.Text
	}
	switch {
	case p.Message.ImageMessage != nil:
		return p.Message.ImageMessage.Caption
	case p.Message.VideoMessage != nil:
		return p.Message.VideoMessage.Caption
	case p.Message.DocumentMessage != nil:
		return p.Message.DocumentMessage.Caption
	case p.Message.AudioMessage != nil:
		return p.Message.AudioMessage.Caption
	}
	return ""
}
