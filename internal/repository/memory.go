package repository

import (
	"context"
	"strconv"
	"sync"

	"github.com/trendy-design/llmchat-sub004/internal/ledger"
)

var _ ledger.AtomicStore = (*MemoryStore)(nil)

// MemoryStore is an in-process Store for single-instance deployments and tests.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", ledger.ErrKeyNotFound
	}
	return v, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// Charge mirrors charge.lua under the store mutex. Idempotency keys hold the
// day they were stamped and stop matching once the day rolls over.
func (s *MemoryStore) Charge(_ context.Context, args ledger.ChargeArgs) (ledger.ChargeOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out ledger.ChargeOutcome
	var balance int64
	if s.data[args.RefillKey] != args.Today {
		balance = args.Allowance
		s.data[args.BalanceKey] = strconv.FormatInt(balance, 10)
		s.data[args.RefillKey] = args.Today
		out.Reset = true
	} else if raw, ok := s.data[args.BalanceKey]; ok {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return ledger.ChargeOutcome{}, err
		}
		balance = n
	}

	if balance > args.Allowance {
		balance = args.Allowance
	}
	out.Remaining = balance

	if args.IdemKey != "" && s.data[args.IdemKey] == args.Today {
		out.Allowed = true
		out.Replayed = true
		return out, nil
	}

	if balance < args.Cost {
		return out, nil
	}
	if args.Cost > 0 {
		balance -= args.Cost
		s.data[args.BalanceKey] = strconv.FormatInt(balance, 10)
	}
	if args.IdemKey != "" {
		s.data[args.IdemKey] = args.Today
	}

	out.Allowed = true
	out.Remaining = balance
	return out, nil
}
