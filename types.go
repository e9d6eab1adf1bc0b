package shelfie

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// Enums
// ============================================================================

// ConversationType distinguishes two-member conversations from groups.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// MessageType is the payload type of a message as stored by the server.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// MessageKind refines a text message. It is decided once, when the message
// is decoded, and never re-derived from content afterwards.
type MessageKind string

const (
	KindPlain MessageKind = "plain"
	KindLink  MessageKind = "link"
)

// linkMarkerPrefix is the legacy wire convention for link messages: the
// prefix followed by a JSON object with url and label.
const linkMarkerPrefix = "__link__:"

// ============================================================================
// Users
// ============================================================================

// User is a user profile as delivered by the server. IsOnline and LastSeen
// are kept raw because the backend is not consistent about their shapes.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	FullName string `json:"fullName,omitempty"`
	IsOnline any    `json:"isOnline,omitempty"`
	LastSeen any    `json:"lastSeen,omitempty"`
}

// UserSummary is the search result shape for user lookups.
type UserSummary = User

// ============================================================================
// Conversations
// ============================================================================

// LastMessage is the summary of a conversation's latest message.
type LastMessage struct {
	Type     MessageType `json:"type"`
	Kind     MessageKind `json:"kind,omitempty"`
	Content  string      `json:"content"`
	FileName string      `json:"fileName,omitempty"`
	Link     *LinkMarker `json:"link,omitempty"`
}

// UnmarshalJSON decodes the summary and resolves its kind.
func (l *LastMessage) UnmarshalJSON(data []byte) error {
	type raw LastMessage
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*l = LastMessage(r)
	if l.Type == "" {
		l.Type = MessageText
	}
	if l.Type == MessageText && l.Link == nil {
		if marker, ok := DecodeLinkMarker(l.Content); ok {
			l.Link = marker
		}
	}
	if l.Link != nil {
		l.Kind = KindLink
	} else if l.Kind == "" {
		l.Kind = KindPlain
	}
	return nil
}

// Conversation is a direct or group conversation.
type Conversation struct {
	ID            string           `json:"id"`
	Type          ConversationType `json:"type"`
	Members       []User           `json:"members"`
	Name          string           `json:"name,omitempty"`
	BlockedBy     []string         `json:"blockedBy,omitempty"`
	LastMessage   *LastMessage     `json:"lastMessage,omitempty"`
	LastSender    *User            `json:"lastSender,omitempty"`
	UpdatedAt     string           `json:"updatedAt,omitempty"`
	LastMessageAt string           `json:"lastMessageAt,omitempty"`
}

// IsDirect reports whether c is a two-member conversation.
func (c *Conversation) IsDirect() bool {
	return c != nil && c.Type == ConversationDirect
}

// ============================================================================
// Messages
// ============================================================================

// LinkMarker is the structured payload of a link message.
type LinkMarker struct {
	URL   string `json:"url"`
	Label string `json:"label,omitempty"`
}

// DecodeLinkMarker parses the legacy link marker convention. ok is false if
// content does not carry a well-formed marker.
func DecodeLinkMarker(content string) (*LinkMarker, bool) {
	if !strings.HasPrefix(content, linkMarkerPrefix) {
		return nil, false
	}
	var m LinkMarker
	if err := json.Unmarshal([]byte(strings.TrimPrefix(content, linkMarkerPrefix)), &m); err != nil {
		return nil, false
	}
	if m.URL == "" && m.Label == "" {
		return nil, false
	}
	return &m, true
}

// Message is a single message in a conversation.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId,omitempty"`
	SenderID       string      `json:"senderId"`
	Type           MessageType `json:"type"`
	Kind           MessageKind `json:"kind,omitempty"`
	Content        string      `json:"content"`
	FileName       string      `json:"fileName,omitempty"`
	Link           *LinkMarker `json:"link,omitempty"`
	CreatedAt      string      `json:"createdAt"`
}

// UnmarshalJSON decodes a message and resolves its kind at the boundary.
func (m *Message) UnmarshalJSON(data []byte) error {
	type raw Message
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*m = Message(r)
	if m.Type == "" {
		m.Type = MessageText
	}
	if m.Type == MessageText && m.Link == nil {
		if marker, ok := DecodeLinkMarker(m.Content); ok {
			m.Link = marker
		}
	}
	if m.Link != nil {
		m.Kind = KindLink
	} else if m.Kind == "" {
		m.Kind = KindPlain
	}
	return nil
}

// Time returns the parsed creation time.
func (m *Message) Time() (time.Time, bool) {
	return ParseTimestamp(m.CreatedAt)
}

// ============================================================================
// Timestamps
// ============================================================================

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses the timestamp formats the backend emits. Numeric
// strings are taken as unix milliseconds.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}

// ============================================================================
// Wire envelope
// ============================================================================

// Result is the generic API response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// Attachment is a file to upload into a conversation.
type Attachment struct {
	FileName string
	MimeType string
	Data     []byte
}
