package stream

import "time"

// Attachment references a file stored by the server.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Item is a message or notification held in a stream.
type Item struct {
	ID          ID           `json:"id"`
	SenderID    int64        `json:"sender_id,omitempty"`
	RecipientID int64        `json:"recipient_id,omitempty"` // 0 means broadcast scope
	SenderName  string       `json:"sender_name,omitempty"`
	CaseID      int64        `json:"case_id,omitempty"`
	Content     string       `json:"content"`
	CreatedAt   time.Time    `json:"created_at"`
	IsRead      bool         `json:"is_read"`
	Attachments []Attachment `json:"attachments,omitempty"`
}
