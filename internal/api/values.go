package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/courtdesk/courtdesk/internal/attachment"
	"github.com/courtdesk/courtdesk/internal/auth"
	"github.com/courtdesk/courtdesk/internal/chat"
	"github.com/courtdesk/courtdesk/internal/court"
	"github.com/courtdesk/courtdesk/internal/stream"
)

// toStatus maps domain errors to gRPC status codes.
func toStatus(op string, err error) error {
	var (
		verr  *attachment.ValidationError
		ferrs validator.ValidationErrors
	)
	code := codes.Internal
	switch {
	case errors.As(err, &verr), errors.As(err, &ferrs), errors.Is(err, chat.ErrEmptyMessage):
		code = codes.InvalidArgument
	case errors.Is(err, chat.ErrNoConversation):
		code = codes.FailedPrecondition
	case errors.Is(err, court.ErrUnauthorized), errors.Is(err, court.ErrInvalidLogin), errors.Is(err, auth.ErrNoCredential):
		code = codes.Unauthenticated
	case errors.Is(err, court.ErrNotFound):
		code = codes.NotFound
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}

func reply(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode reply: %v", err)
	}
	return s, nil
}

func field(req *structpb.Struct, key string) *structpb.Value {
	if req == nil {
		return nil
	}
	return req.GetFields()[key]
}

func idArg(req *structpb.Struct, key string) (int64, error) {
	v := field(req, key)
	if v == nil {
		return 0, grpcstatus.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	n := v.GetNumberValue()
	if n <= 0 || n != float64(int64(n)) {
		return 0, grpcstatus.Errorf(codes.InvalidArgument, "%s must be a positive integer", key)
	}
	return int64(n), nil
}

func stringArg(req *structpb.Struct, key string) string {
	return field(req, key).GetStringValue()
}

func boolArg(req *structpb.Struct, key string) bool {
	return field(req, key).GetBoolValue()
}

func stringsArg(req *structpb.Struct, key string) []string {
	var out []string
	for _, v := range field(req, key).GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func itemValue(it stream.Item) map[string]any {
	m := map[string]any{
		"id":         it.ID.String(),
		"temporary":  it.ID.IsTemporary(),
		"content":    it.Content,
		"created_at": it.CreatedAt.Format(time.RFC3339),
		"is_read":    it.IsRead,
	}
	if it.SenderID != 0 {
		m["sender_id"] = it.SenderID
	}
	if it.RecipientID != 0 {
		m["recipient_id"] = it.RecipientID
	}
	if it.SenderName != "" {
		m["sender_name"] = it.SenderName
	}
	if it.CaseID != 0 {
		m["case_id"] = it.CaseID
	}
	if len(it.Attachments) > 0 {
		atts := make([]any, 0, len(it.Attachments))
		for _, a := range it.Attachments {
			atts = append(atts, map[string]any{"name": a.Name, "url": a.URL})
		}
		m["attachments"] = atts
	}
	return m
}

// groupsValue renders the day groups of items with their labels.
func groupsValue(items []stream.Item, loc *time.Location) []any {
	now := time.Now().In(loc)
	groups := stream.GroupByDay(items, loc)
	out := make([]any, 0, len(groups))
	for _, g := range groups {
		vals := make([]any, 0, len(g.Items))
		for _, it := range g.Items {
			vals = append(vals, itemValue(it))
		}
		out = append(out, map[string]any{
			"day":   g.Day.Format(time.DateOnly),
			"label": stream.DayLabel(g.Day, now),
			"items": vals,
		})
	}
	return out
}

// payloadValue converts an event payload into a Struct-compatible value
// through its JSON form.
func payloadValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}
