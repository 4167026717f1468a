package protocol

import (
	"path"
	"time"

	"github.com/goccy/go-json"

	"github.com/courtdesk/courtdesk/internal/stream"
)

// Message is a chat message as returned by the court API.
type Message struct {
	ID             int64     `json:"id"`
	Sender         int64     `json:"sender"`
	SenderID       int64     `json:"sender_id,omitempty"`
	SenderUsername string    `json:"sender_username,omitempty"`
	Recipient      int64     `json:"recipient"`
	Content        string    `json:"content"`
	Attachment     *string   `json:"attachment,omitempty"`
	AttachmentURL  string    `json:"attachment_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	IsRead         bool      `json:"is_read"`
}

// Item converts the record into a stream entry.
func (m Message) Item() stream.Item {
	sender := m.SenderID
	if sender == 0 {
		sender = m.Sender
	}
	it := stream.Item{
		ID:          stream.ServerID(m.ID),
		SenderID:    sender,
		RecipientID: m.Recipient,
		SenderName:  m.SenderUsername,
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
		IsRead:      m.IsRead,
	}
	url := m.AttachmentURL
	if url == "" && m.Attachment != nil {
		url = *m.Attachment
	}
	if url != "" {
		it.Attachments = []stream.Attachment{{Name: path.Base(url), URL: url}}
	}
	return it
}

// Notification is a user notification as returned by the court API.
type Notification struct {
	ID        int64     `json:"id"`
	User      int64     `json:"user"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	Case      int64     `json:"case,omitempty"`
	SentAt    time.Time `json:"sent_at"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Item converts the record into a stream entry.
func (n Notification) Item() stream.Item {
	at := n.SentAt
	if at.IsZero() {
		at = n.CreatedAt
	}
	return stream.Item{
		ID:          stream.ServerID(n.ID),
		RecipientID: n.User,
		CaseID:      n.Case,
		Content:     n.Message,
		CreatedAt:   at,
		IsRead:      n.IsRead,
	}
}

// Messages converts a slice of records.
func Messages(ms []Message) []stream.Item {
	items := make([]stream.Item, 0, len(ms))
	for _, m := range ms {
		items = append(items, m.Item())
	}
	return items
}

// Notifications converts a slice of records.
func Notifications(ns []Notification) []stream.Item {
	items := make([]stream.Item, 0, len(ns))
	for _, n := range ns {
		items = append(items, n.Item())
	}
	return items
}

// User is the authenticated account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// TokenPair is the response of the token endpoint.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// UnreadCount is the response of the unread-count endpoint.
type UnreadCount struct {
	UnreadCount int `json:"unread_count"`
}

// DecodeList accepts either a bare JSON array or a paginated
// {"results": [...]} envelope.
func DecodeList[T any](raw []byte) ([]T, error) {
	var list []T
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var page struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}
