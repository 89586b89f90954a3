package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/trendy-design/llmchat-sub004/internal/model"
)

// Client calls a remote credits.CreditService.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient dials addr without TLS. Extra dial options are appended, mostly for tests.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Remaining(ctx context.Context, accountID string) (*model.BalanceResult, error) {
	out := new(model.BalanceResult)
	if err := c.conn.Invoke(ctx, methodRemaining, &RemainingRequest{AccountID: accountID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Deduct(ctx context.Context, req model.DeductRequest) (*model.DeductResult, error) {
	out := new(model.DeductResult)
	if err := c.conn.Invoke(ctx, methodDeduct, &req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Publish(ctx context.Context, req *EventRequest) (*EventResponse, error) {
	out := new(EventResponse)
	if err := c.conn.Invoke(ctx, methodPublish, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
