package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trendy-design/llmchat-sub004/internal/ledger"
	"github.com/trendy-design/llmchat-sub004/internal/metrics"
	"github.com/trendy-design/llmchat-sub004/internal/model"
	"github.com/trendy-design/llmchat-sub004/internal/repository"
)

// ErrHistoryDisabled is returned by History and RecordCharge when no charge
// audit store is configured.
var ErrHistoryDisabled = errors.New("charge history is not enabled")

// CreditService defines the credit operations exposed to transports.
// All transport layers (HTTP, gRPC, NATS) depend on this interface, not on the ledger.
type CreditService interface {
	Remaining(ctx context.Context, accountID string) model.BalanceResult
	Deduct(ctx context.Context, req model.DeductRequest) model.DeductResult
	RecordCharge(ctx context.Context, event model.ChargeEvent) error
	History(ctx context.Context, accountID string, limit int) ([]model.ChargeEvent, error)
}

// ChargeStore persists charge events for auditing.
type ChargeStore interface {
	Insert(ctx context.Context, event model.ChargeEvent) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]model.ChargeEvent, error)
}

var _ CreditService = (*Credits)(nil)

type Credits struct {
	ledger      *ledger.Ledger
	bus         repository.MessageBus
	charges     ChargeStore
	auditInline bool
	logger      *zap.Logger
	now         func() time.Time
}

type Option func(*Credits)

// WithInlineAudit makes Deduct record each charge itself instead of relying
// on a bus consumer. Used when nothing subscribes to TopicCharged.
func WithInlineAudit() Option {
	return func(s *Credits) {
		s.auditInline = true
	}
}

// NewCredits wires the ledger to the bus. bus and charges may be nil.
func NewCredits(l *ledger.Ledger, bus repository.MessageBus, charges ChargeStore, logger *zap.Logger, opts ...Option) *Credits {
	if bus == nil {
		bus = repository.NopBus{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Credits{
		ledger:  l,
		bus:     bus,
		charges: charges,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Credits) Remaining(ctx context.Context, accountID string) model.BalanceResult {
	return model.BalanceResult{
		AccountID: accountID,
		Remaining: s.ledger.RemainingCredits(ctx, accountID),
		Allowance: s.ledger.Allowance(),
	}
}

// Deduct charges the ledger and, on success, publishes a ChargeEvent.
// Publishing is best-effort and never turns a granted charge into a denial.
// A replayed idempotency key is answered without a new event.
func (s *Credits) Deduct(ctx context.Context, req model.DeductRequest) model.DeductResult {
	d := s.ledger.ChargeOnce(ctx, req.AccountID, req.IdempotencyKey, req.Cost)
	if !d.Allowed {
		metrics.DeductionsTotal.WithLabelValues("denied").Inc()
		return model.DeductResult{Allowed: false, Remaining: d.Remaining}
	}
	if d.Replayed {
		metrics.DeductionsTotal.WithLabelValues("replayed").Inc()
		s.logger.Info("Idempotent deduction replayed",
			zap.String("account_id", req.AccountID),
			zap.String("idempotency_key", req.IdempotencyKey),
		)
		return model.DeductResult{Allowed: true, Replayed: true, Remaining: d.Remaining}
	}
	metrics.DeductionsTotal.WithLabelValues("allowed").Inc()

	event := model.ChargeEvent{
		EventID:   uuid.NewString(),
		AccountID: req.AccountID,
		Cost:      req.Cost,
		Remaining: d.Remaining,
		ChargedAt: s.now().UTC(),
	}
	s.publish(event)
	if s.auditInline {
		if err := s.RecordCharge(ctx, event); err != nil {
			s.logger.Warn("Failed to record charge",
				zap.String("account_id", event.AccountID),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}
	}

	return model.DeductResult{Allowed: true, Remaining: d.Remaining, EventID: event.EventID}
}

func (s *Credits) publish(event model.ChargeEvent) {
	data, err := json.Marshal(event)
	if err == nil {
		err = s.bus.Publish(repository.TopicCharged, data)
	}
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
		s.logger.Warn("Failed to publish charge event",
			zap.String("account_id", event.AccountID),
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues("ok").Inc()
}

func (s *Credits) RecordCharge(ctx context.Context, event model.ChargeEvent) error {
	if s.charges == nil {
		return ErrHistoryDisabled
	}
	return s.charges.Insert(ctx, event)
}

func (s *Credits) History(ctx context.Context, accountID string, limit int) ([]model.ChargeEvent, error) {
	if s.charges == nil {
		return nil, ErrHistoryDisabled
	}
	return s.charges.ListByAccount(ctx, accountID, limit)
}
