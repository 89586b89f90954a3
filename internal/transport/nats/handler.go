package nats

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/trendy-design/llmchat-sub004/internal/model"
	"github.com/trendy-design/llmchat-sub004/internal/service"
)

const (
	SubjectRemaining = "credits.remaining"
	SubjectDeduct    = "credits.deduct"
	queueGroup       = "credits_group"
	messageTimeout   = 5 * time.Second
)

type remainingRequest struct {
	AccountID string `json:"account_id"`
}

// Handler answers credit requests over NATS request/reply and delegates to the credit service.
type Handler struct {
	svc    service.CreditService
	nc     *nats.Conn
	subs   []*nats.Subscription
	logger *zap.Logger
}

func NewHandler(svc service.CreditService, nc *nats.Conn, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, nc: nc, logger: logger}
}

// Start subscribes to request subjects and blocks until ctx is cancelled (graceful shutdown).
func (h *Handler) Start(ctx context.Context) error {
	if err := h.Subscribe(ctx); err != nil {
		return err
	}
	h.logger.Info("NATS credit handler is running")

	<-ctx.Done()
	h.logger.Info("NATS credit handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

// Subscribe registers the queue subscriptions without blocking.
func (h *Handler) Subscribe(ctx context.Context) error {
	s1, err := h.nc.QueueSubscribe(SubjectRemaining, queueGroup, func(m *nats.Msg) {
		h.handleRemaining(ctx, m)
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s1)

	s2, err := h.nc.QueueSubscribe(SubjectDeduct, queueGroup, func(m *nats.Msg) {
		h.handleDeduct(ctx, m)
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s2)
	return nil
}

// messageContext keeps ctx values but not its cancellation, so messages
// delivered while subscriptions drain still reach the store.
func messageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), messageTimeout)
}

func (h *Handler) handleRemaining(ctx context.Context, m *nats.Msg) {
	var req remainingRequest
	if err := json.Unmarshal(m.Data, &req); err != nil {
		h.logger.Error("nats: failed to unmarshal remaining request", zap.Error(err))
		h.respond(m, map[string]string{"error": "invalid_json"})
		return
	}
	ctx, cancel := messageContext(ctx)
	defer cancel()
	h.respond(m, h.svc.Remaining(ctx, req.AccountID))
}

func (h *Handler) handleDeduct(ctx context.Context, m *nats.Msg) {
	var req model.DeductRequest
	if err := json.Unmarshal(m.Data, &req); err != nil {
		h.logger.Error("nats: failed to unmarshal deduct request", zap.Error(err))
		h.respond(m, model.DeductResult{})
		return
	}
	if req.IdempotencyKey == "" && m.Header != nil {
		req.IdempotencyKey = m.Header.Get("Idempotency-Key")
	}

	ctx, cancel := messageContext(ctx)
	defer cancel()
	res := h.svc.Deduct(ctx, req)
	if !res.Allowed {
		h.logger.Info("nats: deduction denied",
			zap.String("account_id", req.AccountID),
			zap.Int64("cost", req.Cost),
		)
	}
	h.respond(m, res)
}

func (h *Handler) respond(m *nats.Msg, v any) {
	if m.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("nats: failed to marshal reply", zap.Error(err))
		return
	}
	if err := m.Respond(data); err != nil {
		h.logger.Warn("nats: failed to send reply", zap.String("subject", m.Subject), zap.Error(err))
	}
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
