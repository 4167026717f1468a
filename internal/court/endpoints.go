package court

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/courtdesk/courtdesk/internal/protocol"
)

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context) (protocol.User, error) {
	var u protocol.User
	err := c.do(ctx, call{method: http.MethodGet, path: "/court/auth/me/", out: &u})
	return u, err
}

// Notifications lists the user's notifications.
func (c *Client) Notifications(ctx context.Context) ([]protocol.Notification, error) {
	var raw rawBody
	if err := c.do(ctx, call{method: http.MethodGet, path: "/court/notifications/", out: &raw}); err != nil {
		return nil, err
	}
	return protocol.DecodeList[protocol.Notification](raw)
}

// UnreadCount returns the server-side unread notification count.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var uc protocol.UnreadCount
	err := c.do(ctx, call{method: http.MethodGet, path: "/court/notifications/unread-count/", out: &uc})
	return uc.UnreadCount, err
}

// MarkNotificationRead marks one notification read.
func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.do(ctx, call{method: http.MethodPut, path: "/court/notifications/" + itoa(id) + "/read/"})
}

// MarkAllNotificationsRead marks every notification read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, call{method: http.MethodPut, path: "/court/notifications/read-all/"})
}

// DeleteNotification deletes one notification.
func (c *Client) DeleteNotification(ctx context.Context, id int64) error {
	return c.do(ctx, call{method: http.MethodDelete, path: "/court/notifications/" + itoa(id) + "/delete/"})
}

// Messages returns the conversation history with recipientID.
func (c *Client) Messages(ctx context.Context, recipientID int64) ([]protocol.Message, error) {
	var raw rawBody
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/court/messages/",
		build:  func(r *resty.Request) { r.SetQueryParam("recipient_id", itoa(recipientID)) },
		out:    &raw,
	})
	if err != nil {
		return nil, err
	}
	return protocol.DecodeList[protocol.Message](raw)
}

// SendMessage creates a message and returns the stored record. Messages with
// a file are sent as multipart form data.
func (c *Client) SendMessage(ctx context.Context, req MessageRequest) (protocol.Message, error) {
	if err := validate.Struct(req); err != nil {
		return protocol.Message{}, fmt.Errorf("send message: %w", err)
	}
	var m protocol.Message
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/court/messages/",
		build: func(r *resty.Request) {
			if req.Attachment == nil {
				r.SetBody(map[string]any{"recipient_id": req.RecipientID, "content": req.Content})
				return
			}
			r.SetFormData(map[string]string{
				"recipient_id": itoa(req.RecipientID),
				"content":      req.Content,
			})
			r.SetFile("attachment", req.Attachment.Path)
		},
		out: &m,
	})
	return m, err
}

// RoomMessages returns the messages of a chat room, used by the polling
// transport.
func (c *Client) RoomMessages(ctx context.Context, room string) ([]protocol.Message, error) {
	var raw rawBody
	if err := c.do(ctx, call{method: http.MethodGet, path: "/chat/rooms/" + room + "/messages/", out: &raw}); err != nil {
		return nil, err
	}
	return protocol.DecodeList[protocol.Message](raw)
}

// MarkMessageRead marks one incoming chat message read.
func (c *Client) MarkMessageRead(ctx context.Context, id int64) error {
	return c.do(ctx, call{method: http.MethodPost, path: "/chat/messages/" + itoa(id) + "/read/"})
}

// rawBody captures a response body verbatim for list decoding.
type rawBody []byte

func (r *rawBody) UnmarshalJSON(b []byte) error {
	*r = append((*r)[:0], b...)
	return nil
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
