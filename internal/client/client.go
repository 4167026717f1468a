// Package client is the courtctl side of the daemon API.
package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/courtdesk/courtdesk/internal/api"
)

// Client wraps the gRPC connection to a profile daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Call invokes a unary method of service with args and returns the reply
// as plain Go values.
func (c *Client) Call(ctx context.Context, service, method string, args map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s args: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(service, method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Events is an open Watch stream.
type Events struct {
	stream grpc.ClientStream
}

// Watch subscribes to daemon events whose kind starts with namespace.
func (c *Client) Watch(ctx context.Context, namespace string) (*Events, error) {
	desc := &api.EventServiceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, api.FullMethod(api.EventServiceName, desc.StreamName))
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	req, err := structpb.NewStruct(map[string]any{"namespace": namespace})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	return &Events{stream: stream}, nil
}

// Recv blocks for the next event.
func (e *Events) Recv() (map[string]any, error) {
	out := new(structpb.Struct)
	if err := e.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
