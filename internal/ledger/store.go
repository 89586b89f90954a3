package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by a Store when the requested key is absent.
var ErrKeyNotFound = errors.New("ledger: key not found")

// Store is the key-value collaborator the ledger persists balances in.
// Every read goes to the store; the ledger keeps no copy between calls.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// ChargeArgs describes one reset-if-stale plus decrement-if-sufficient step.
//
// IdemKey is optional. When set, a granted charge marks it until IdemTTL
// elapses, and a later charge carrying the same key is reported as Replayed
// without touching the balance.
type ChargeArgs struct {
	BalanceKey string
	RefillKey  string
	IdemKey    string
	IdemTTL    time.Duration
	Today      string
	Allowance  int64
	Cost       int64
}

// ChargeOutcome is the result of an atomic charge. Remaining is the balance
// after the charge when Allowed, or the untouched balance when not. Reset
// reports that this call reissued the daily allowance.
type ChargeOutcome struct {
	Allowed   bool
	Replayed  bool
	Reset     bool
	Remaining int64
}

// AtomicStore is implemented by stores that can run the whole charge as one
// atomic operation. A zero Cost performs the daily reset and reports the
// balance without writing anything else.
type AtomicStore interface {
	Store
	Charge(ctx context.Context, args ChargeArgs) (ChargeOutcome, error)
}
