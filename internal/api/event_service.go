package api

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/courtdesk/courtdesk/internal/bus"
)

// EventService implements courtdesk.v1.EventService.
type EventService struct {
	bus     *bus.Bus
	profile string
	log     *zap.Logger
}

// NewEventService creates a new event service.
func NewEventService(b *bus.Bus, profile string, logger *zap.Logger) *EventService {
	return &EventService{bus: b, profile: profile, log: logger}
}

// Watch streams bus events whose kind starts with the requested namespace
// until the client goes away.
func (s *EventService) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	ch, unsub := s.bus.Subscribe(stringArg(req, "namespace"), 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			env, err := s.envelope(evt)
			if err != nil {
				s.log.Warn("skipping event", zap.String("kind", string(evt.Kind)), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *EventService) envelope(evt bus.Event) (*structpb.Struct, error) {
	payload, err := payloadValue(evt.Payload)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"event_id":            uuid.New().String(),
		"profile":             s.profile,
		"occurred_at_unix_ms": evt.Timestamp.UnixMilli(),
		"kind":                string(evt.Kind),
		"payload":             payload,
	})
}
