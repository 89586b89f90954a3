package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/trendy-design/llmchat-sub004/internal/model"
)

const (
	serviceName     = "credits.CreditService"
	methodRemaining = "/" + serviceName + "/Remaining"
	methodDeduct    = "/" + serviceName + "/Deduct"
	methodPublish   = "/" + serviceName + "/Publish"
)

type RemainingRequest struct {
	AccountID string `json:"account_id"`
}

// EventRequest carries a bus message when the gRPC bus provider is used.
type EventRequest struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

type EventResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// CreditServiceServer is the server API for credits.CreditService.
type CreditServiceServer interface {
	Remaining(context.Context, *RemainingRequest) (*model.BalanceResult, error)
	Deduct(context.Context, *model.DeductRequest) (*model.DeductResult, error)
	Publish(context.Context, *EventRequest) (*EventResponse, error)
}

func RegisterCreditServiceServer(s grpc.ServiceRegistrar, srv CreditServiceServer) {
	s.RegisterService(&creditServiceDesc, srv)
}

var creditServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CreditServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Remaining", Handler: remainingHandler},
		{MethodName: "Deduct", Handler: deductHandler},
		{MethodName: "Publish", Handler: publishHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "credits",
}

func remainingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RemainingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CreditServiceServer).Remaining(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodRemaining}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CreditServiceServer).Remaining(ctx, req.(*RemainingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func deductHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(model.DeductRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CreditServiceServer).Deduct(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDeduct}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CreditServiceServer).Deduct(ctx, req.(*model.DeductRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EventRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CreditServiceServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPublish}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CreditServiceServer).Publish(ctx, req.(*EventRequest))
	}
	return interceptor(ctx, in, info, handler)
}
