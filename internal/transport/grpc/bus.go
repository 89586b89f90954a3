package grpc

import (
	"context"
	"errors"
	"time"
)

const publishTimeout = 3 * time.Second

// GrpcBus publishes events to a remote CreditService over gRPC.
// Used when BusProvider == "grpc" in config.
type GrpcBus struct {
	client *Client
}

// NewGrpcBusFromAddr dials the remote CreditService and returns a GrpcBus and a cleanup function.
func NewGrpcBusFromAddr(addr string) (*GrpcBus, func(), error) {
	client, err := NewClient(addr)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = client.Close() }
	return &GrpcBus{client: client}, cleanup, nil
}

// Publish sends an event to the remote CreditService.
func (b *GrpcBus) Publish(topic string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	res, err := b.client.Publish(ctx, &EventRequest{Topic: topic, Payload: data})
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.New(res.ErrorMessage)
	}
	return nil
}
