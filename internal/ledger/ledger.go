package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/trendy-design/llmchat-sub004/internal/metrics"
)

// DefaultAllowance is the number of credits every account receives per UTC day.
const DefaultAllowance int64 = 100

const dateLayout = "2006-01-02"

// Decision is the outcome of a charge attempt. Replayed marks a charge whose
// idempotency key was already spent today; it is Allowed but nothing was deducted.
type Decision struct {
	Allowed   bool
	Replayed  bool
	Remaining int64
}

// Ledger tracks a per-account credit balance that renews lazily on the first
// access of each UTC calendar day.
//
// The ledger never returns errors: every store failure resolves to zero
// remaining credits or a denied charge.
type Ledger struct {
	store     Store
	allowance int64
	prefix    string
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*Ledger)

// WithAllowance overrides the daily allowance. Non-positive values are ignored.
func WithAllowance(n int64) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.allowance = n
		}
	}
}

// WithKeyPrefix prepends prefix to every store key.
func WithKeyPrefix(prefix string) Option {
	return func(l *Ledger) {
		l.prefix = prefix
	}
}

// WithClock replaces time.Now, mostly for tests crossing day boundaries.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		allowance: DefaultAllowance,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allowance returns the daily allowance.
func (l *Ledger) Allowance() int64 {
	return l.allowance
}

// RemainingCredits returns how many credits accountID may still spend today.
// Anonymous callers (empty accountID) get zero without touching the store.
func (l *Ledger) RemainingCredits(ctx context.Context, accountID string) int64 {
	if accountID == "" {
		metrics.ChecksTotal.WithLabelValues("anonymous").Inc()
		return 0
	}

	remaining, err := l.remaining(ctx, accountID)
	if err != nil {
		metrics.ChecksTotal.WithLabelValues("error").Inc()
		return 0
	}
	return remaining
}

// DeductCredits charges cost credits to accountID and reports whether the
// charge went through. Partial charges are never made.
func (l *Ledger) DeductCredits(ctx context.Context, accountID string, cost int64) bool {
	return l.Charge(ctx, accountID, cost).Allowed
}

// Charge is DeductCredits with the resulting balance attached.
func (l *Ledger) Charge(ctx context.Context, accountID string, cost int64) Decision {
	return l.ChargeOnce(ctx, accountID, "", cost)
}

// ChargeOnce is Charge guarded by a caller-supplied idempotency key. A key that
// already paid for a charge today is answered with Replayed and the current
// balance instead of a second deduction. An empty key disables the guard.
func (l *Ledger) ChargeOnce(ctx context.Context, accountID, idemKey string, cost int64) Decision {
	if accountID == "" {
		return Decision{}
	}
	if cost < 0 {
		l.logger.Warn("Rejected negative credit cost",
			zap.String("account_id", accountID),
			zap.Int64("cost", cost),
		)
		return Decision{}
	}

	if as, ok := l.store.(AtomicStore); ok {
		args := l.chargeArgs(accountID, cost)
		if idemKey != "" {
			args.IdemKey = l.idemKey(accountID, idemKey)
			args.IdemTTL = l.untilRollover()
		}
		out, err := as.Charge(ctx, args)
		if err != nil {
			l.storeError("charge", l.balanceKey(accountID), accountID, err)
			return Decision{}
		}
		return Decision{Allowed: out.Allowed, Replayed: out.Replayed, Remaining: l.clamp(out.Remaining)}
	}

	// Read-then-write: concurrent charges for the same account may both pass
	// this check. Stores that need exact accounting implement AtomicStore.
	remaining, err := l.remaining(ctx, accountID)
	if err != nil {
		return Decision{}
	}

	var markKey string
	if idemKey != "" {
		markKey = l.idemKey(accountID, idemKey)
		seen, err := l.store.Get(ctx, markKey)
		if err != nil && !errors.Is(err, ErrKeyNotFound) {
			l.storeError("get", markKey, accountID, err)
			return Decision{}
		}
		if seen == l.today() {
			return Decision{Allowed: true, Replayed: true, Remaining: remaining}
		}
	}

	if remaining < cost {
		return Decision{Remaining: remaining}
	}

	next := remaining - cost
	key := l.balanceKey(accountID)
	if err := l.store.Set(ctx, key, strconv.FormatInt(next, 10)); err != nil {
		l.storeError("set", key, accountID, err)
		return Decision{}
	}
	if markKey != "" {
		// The charge already landed; a lost mark only weakens replay protection.
		if err := l.store.Set(ctx, markKey, l.today()); err != nil {
			l.storeError("set", markKey, accountID, err)
		}
	}
	return Decision{Allowed: true, Remaining: next}
}

func (l *Ledger) remaining(ctx context.Context, accountID string) (int64, error) {
	if as, ok := l.store.(AtomicStore); ok {
		out, err := as.Charge(ctx, l.chargeArgs(accountID, 0))
		if err != nil {
			l.storeError("charge", l.balanceKey(accountID), accountID, err)
			return 0, err
		}
		if out.Reset {
			metrics.ChecksTotal.WithLabelValues("reset").Inc()
		} else {
			metrics.ChecksTotal.WithLabelValues("fresh").Inc()
		}
		return l.clamp(out.Remaining), nil
	}

	balanceKey, refillKey := l.balanceKey(accountID), l.refillKey(accountID)
	today := l.today()

	last, err := l.store.Get(ctx, refillKey)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		l.storeError("get", refillKey, accountID, err)
		return 0, err
	}
	if last != today {
		return l.reissue(ctx, accountID, balanceKey, refillKey, today), nil
	}

	raw, err := l.store.Get(ctx, balanceKey)
	if errors.Is(err, ErrKeyNotFound) {
		l.logger.Warn("Refill date present but balance missing",
			zap.String("account_id", accountID),
			zap.String("key", balanceKey),
		)
		metrics.ChecksTotal.WithLabelValues("fresh").Inc()
		return 0, nil
	}
	if err != nil {
		l.storeError("get", balanceKey, accountID, err)
		return 0, err
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		err = fmt.Errorf("parse balance %q: %w", raw, err)
		l.storeError("parse", balanceKey, accountID, err)
		return 0, err
	}
	metrics.ChecksTotal.WithLabelValues("fresh").Inc()
	return l.clamp(n), nil
}

// reissue stamps a fresh allowance for today. A failed write is logged and the
// allowance is still returned; the next call retries the reset.
func (l *Ledger) reissue(ctx context.Context, accountID, balanceKey, refillKey, today string) int64 {
	metrics.ChecksTotal.WithLabelValues("reset").Inc()

	if err := l.store.Set(ctx, balanceKey, strconv.FormatInt(l.allowance, 10)); err != nil {
		l.storeError("set", balanceKey, accountID, err)
		return l.allowance
	}
	if err := l.store.Set(ctx, refillKey, today); err != nil {
		l.storeError("set", refillKey, accountID, err)
		return l.allowance
	}

	l.logger.Debug("Daily credits reissued",
		zap.String("account_id", accountID),
		zap.String("date", today),
		zap.Int64("allowance", l.allowance),
	)
	return l.allowance
}

func (l *Ledger) chargeArgs(accountID string, cost int64) ChargeArgs {
	return ChargeArgs{
		BalanceKey: l.balanceKey(accountID),
		RefillKey:  l.refillKey(accountID),
		Today:      l.today(),
		Allowance:  l.allowance,
		Cost:       cost,
	}
}

func (l *Ledger) storeError(op, key, accountID string, err error) {
	metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	l.logger.Error("Credit store operation failed",
		zap.String("op", op),
		zap.String("key", key),
		zap.String("account_id", accountID),
		zap.Error(err),
	)
}

func (l *Ledger) clamp(n int64) int64 {
	if n < 0 {
		return 0
	}
	if n > l.allowance {
		return l.allowance
	}
	return n
}

func (l *Ledger) today() string {
	return l.now().UTC().Format(dateLayout)
}

// untilRollover is the time left before the next UTC midnight.
func (l *Ledger) untilRollover() time.Duration {
	now := l.now().UTC()
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC).Sub(now)
}

// BalanceKey returns the store key holding accountID's balance.
func BalanceKey(prefix, accountID string) string {
	return prefix + "credits:" + accountID
}

// RefillKey returns the store key holding the day accountID's balance was issued.
func RefillKey(prefix, accountID string) string {
	return prefix + "credits:" + accountID + ":lastRefill"
}

// IdemKey returns the store key marking that key already paid for a charge on accountID.
func IdemKey(prefix, accountID, key string) string {
	return prefix + "credits:" + accountID + ":idem:" + key
}

func (l *Ledger) balanceKey(accountID string) string { return BalanceKey(l.prefix, accountID) }
func (l *Ledger) refillKey(accountID string) string  { return RefillKey(l.prefix, accountID) }
func (l *Ledger) idemKey(accountID, key string) string {
	return IdemKey(l.prefix, accountID, key)
}
