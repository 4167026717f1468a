package court

import (
	"github.com/courtdesk/courtdesk/internal/attachment"
	"github.com/courtdesk/courtdesk/internal/protocol"
)

// TokenPair is the response of the token endpoints.
type TokenPair = protocol.TokenPair

// LoginRequest carries the login form.
type LoginRequest struct {
	Username string `validate:"required"`
	Password string `validate:"required"`
	Remember bool
}

// MessageRequest creates a chat message. A message carries text, a file,
// or both.
type MessageRequest struct {
	RecipientID int64            `validate:"gt=0"`
	Content     string           `validate:"required_without=Attachment"`
	Attachment  *attachment.File `validate:"-"`
}
