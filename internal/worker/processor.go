package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/trendy-design/llmchat-sub004/internal/model"
	"github.com/trendy-design/llmchat-sub004/internal/repository"
	"github.com/trendy-design/llmchat-sub004/internal/service"
)

const (
	workerGroup   = "worker_group"
	recordTimeout = 5 * time.Second
)

// ChargeWorker listens on the "credits.charged" NATS topic
// and records charge events in the PostgreSQL audit table.
type ChargeWorker struct {
	svc      service.CreditService
	natsConn *nats.Conn
	logger   *zap.Logger
}

func NewChargeWorker(svc service.CreditService, nc *nats.Conn, logger *zap.Logger) *ChargeWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChargeWorker{
		svc:      svc,
		natsConn: nc,
		logger:   logger,
	}
}

// Run subscribes to "credits.charged" and blocks until ctx is cancelled.
func (w *ChargeWorker) Run(ctx context.Context) error {
	// Each message is delivered to only one worker in the group.
	sub, err := w.natsConn.QueueSubscribe(repository.TopicCharged, workerGroup, func(m *nats.Msg) {
		_ = w.handle(ctx, m.Data)
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe to NATS: %w", err)
	}

	w.logger.Info("Charge worker is running")

	<-ctx.Done()

	w.logger.Info("Worker received shutdown signal, draining subscription...")
	return sub.Drain()
}

// handle records one event. It detaches from ctx cancellation so events
// still delivered while the subscription drains are written.
func (w *ChargeWorker) handle(ctx context.Context, data []byte) error {
	var event model.ChargeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		w.logger.Error("worker: failed to unmarshal nats message", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := w.svc.RecordCharge(ctx, event); err != nil {
		w.logger.Error("worker: failed to record charge in postgres",
			zap.String("account_id", event.AccountID),
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return err
	}

	w.logger.Debug("worker: charge recorded",
		zap.String("account_id", event.AccountID),
		zap.String("event_id", event.EventID),
	)
	return nil
}

// Start implements the infrastructure.Server interface.
func (w *ChargeWorker) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop implements the infrastructure.Server interface (no-op, shutdown is via ctx).
func (w *ChargeWorker) Stop(ctx context.Context) error {
	return nil
}
