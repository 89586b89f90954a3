package infrastructure

import (
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/trendy-design/llmchat-sub004/internal/config"
	"github.com/trendy-design/llmchat-sub004/internal/ledger"
	"github.com/trendy-design/llmchat-sub004/internal/repository"
	"github.com/trendy-design/llmchat-sub004/internal/service"
	transportGRPC "github.com/trendy-design/llmchat-sub004/internal/transport/grpc"
	transportHTTP "github.com/trendy-design/llmchat-sub004/internal/transport/http"
	transportNATS "github.com/trendy-design/llmchat-sub004/internal/transport/nats"
	"github.com/trendy-design/llmchat-sub004/internal/worker"
)

// Bootstrap connects every configured backend and wires up the application.
// Returns the App, a cleanup function, or an error.
func Bootstrap(cfg *config.Config, logger *zap.Logger) (*App, func(), error) {
	var cleanupFns []func()

	// ── Balance store ─────────────────────────────────────────────────────────
	var store ledger.Store
	switch cfg.StoreProvider {
	case "memory":
		logger.Warn("Using in-memory credit store, balances are lost on restart")
		store = repository.NewMemoryStore()
	default:
		rdb, err := connectRedis(cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		cleanupFns = append(cleanupFns, func() { _ = rdb.Close() })
		store = repository.NewRedisStore(rdb)
	}

	// ── Charge audit (optional) ───────────────────────────────────────────────
	var charges service.ChargeStore
	if cfg.AuditEnabled() {
		db, err := connectPostgres(cfg.DSN(), cfg.DBMaxConns)
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		cleanupFns = append(cleanupFns, db.Close)
		charges = repository.NewChargeRepo(db)
	}

	l := ledger.New(store,
		ledger.WithAllowance(cfg.DailyAllowance),
		ledger.WithKeyPrefix(cfg.KeyPrefix),
		ledger.WithLogger(logger.Named("ledger")),
	)

	// ── Bus and transports ────────────────────────────────────────────────────
	var bus repository.MessageBus = repository.NopBus{}
	var servers []Server
	var nc *nats.Conn

	switch cfg.BusProvider {
	case "nats":
		conn, err := connectNats(cfg.NatsAddr())
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		cleanupFns = append(cleanupFns, conn.Close)
		nc = conn
		bus = transportNATS.NewBus(nc)

	case "grpc":
		grpcBus, cleanup, err := transportGRPC.NewGrpcBusFromAddr(cfg.GRPCAddr())
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		cleanupFns = append(cleanupFns, cleanup)
		bus = grpcBus
	}

	var svcOpts []service.Option
	if cfg.InlineAudit() {
		svcOpts = append(svcOpts, service.WithInlineAudit())
	}
	svc := service.NewCredits(l, bus, charges, logger.Named("service"), svcOpts...)
	if nc != nil {
		servers = append(servers, transportNATS.NewHandler(svc, nc, logger.Named("nats")))
		if cfg.WorkerEnabled && charges != nil {
			servers = append(servers, worker.NewChargeWorker(svc, nc, logger.Named("worker")))
		}
	}

	// The gRPC server also receives events published by GrpcBus peers.
	servers = append(servers, transportGRPC.NewServer(cfg.GRPCListen, svc, logger.Named("grpc")))

	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		limiter := transportHTTP.NewClientLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		servers = append(servers, transportHTTP.NewServer(addr, svc, limiter, logger.Named("http")))
	} else {
		logger.Info("HTTP API not started", zap.String("reason", apiErr.Error()))
	}

	logger.Info("Credit ledger wired",
		zap.String("store", cfg.StoreProvider),
		zap.String("bus", cfg.BusProvider),
		zap.Bool("audit", charges != nil),
		zap.Bool("audit_inline", cfg.InlineAudit()),
		zap.Int64("daily_allowance", l.Allowance()),
	)

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
