package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/trendy-design/llmchat-sub004/internal/model"
	"github.com/trendy-design/llmchat-sub004/internal/repository"
	"github.com/trendy-design/llmchat-sub004/internal/service"
)

var _ CreditServiceServer = (*Server)(nil)

type Server struct {
	svc    service.CreditService
	srv    *grpc.Server
	addr   string
	logger *zap.Logger
}

func NewServer(addr string, svc service.CreditService, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, addr: addr, srv: grpc.NewServer(), logger: logger}
	RegisterCreditServiceServer(s.srv, s)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
	return s.srv.Serve(lis)
}

func (s *Server) Stop(ctx context.Context) error {
	s.srv.GracefulStop()
	return nil
}

func (s *Server) Remaining(ctx context.Context, req *RemainingRequest) (*model.BalanceResult, error) {
	res := s.svc.Remaining(ctx, req.AccountID)
	return &res, nil
}

func (s *Server) Deduct(ctx context.Context, req *model.DeductRequest) (*model.DeductResult, error) {
	res := s.svc.Deduct(ctx, *req)
	return &res, nil
}

// Publish receives bus events from GrpcBus peers and syncs charges to the audit store.
func (s *Server) Publish(ctx context.Context, req *EventRequest) (*EventResponse, error) {
	if req.Topic != repository.TopicCharged {
		return &EventResponse{Success: false, ErrorMessage: fmt.Sprintf("unknown topic %q", req.Topic)}, nil
	}

	var event model.ChargeEvent
	if err := json.Unmarshal(req.Payload, &event); err != nil {
		return &EventResponse{Success: false, ErrorMessage: "invalid payload: " + err.Error()}, nil
	}
	if err := s.svc.RecordCharge(ctx, event); err != nil {
		s.logger.Error("grpc: failed to record charge",
			zap.String("account_id", event.AccountID),
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return &EventResponse{Success: false, ErrorMessage: err.Error()}, nil
	}
	return &EventResponse{Success: true}, nil
}
