package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	dto "github.com/prometheus/client_model/go"

	"github.com/trendy-design/llmchat-sub004/internal/metrics"
)

// --- Mock ---

type mockStore struct {
	mu     sync.Mutex
	data   map[string]string
	calls  int
	getErr error
	setErr map[string]error
}

func newMockStore() *mockStore {
	return &mockStore{data: map[string]string{}, setErr: map[string]error{}}
}

func (m *mockStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (m *mockStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.setErr[key]; err != nil {
		return err
	}
	m.data[key] = value
	return nil
}

// atomicStub answers every Charge with a canned outcome and records the args.
type atomicStub struct {
	*mockStore
	out  ChargeOutcome
	args []ChargeArgs
}

func (a *atomicStub) Charge(_ context.Context, args ChargeArgs) (ChargeOutcome, error) {
	a.args = append(a.args, args)
	return a.out, nil
}

func counterValue(t *testing.T, label string) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.ChecksTotal.WithLabelValues(label).Write(&m); err != nil {
		t.Fatalf("read counter %s: %v", label, err)
	}
	return m.GetCounter().GetValue()
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func day(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t.Add(10 * time.Hour)
}

func newTestLedger(store Store, clock *fixedClock) *Ledger {
	return New(store, WithClock(clock.Now))
}

// --- Tests ---

func TestRemainingCredits_FirstCallIssuesAllowance(t *testing.T) {
	store := newMockStore()
	clock := &fixedClock{t: day("2024-01-01")}
	l := newTestLedger(store, clock)

	if got := l.RemainingCredits(context.Background(), "u1"); got != DefaultAllowance {
		t.Fatalf("expected %d, got %d", DefaultAllowance, got)
	}

	want := map[string]string{
		"credits:u1":            "100",
		"credits:u1:lastRefill": "2024-01-01",
	}
	if diff := cmp.Diff(want, store.data); diff != "" {
		t.Errorf("stored state mismatch (-want +got):\n%s", diff)
	}
}

func TestRemainingCredits_StableWithinDay(t *testing.T) {
	store := newMockStore()
	clock := &fixedClock{t: day("2024-01-01")}
	l := newTestLedger(store, clock)
	ctx := context.Background()

	first := l.RemainingCredits(ctx, "u1")
	clock.t = clock.t.Add(5 * time.Hour)
	second := l.RemainingCredits(ctx, "u1")
	if first != second {
		t.Errorf("expected same value within a day, got %d then %d", first, second)
	}
}

func TestRemainingCredits_AnonymousNeverTouchesStore(t *testing.T) {
	store := newMockStore()
	l := newTestLedger(store, &fixedClock{t: day("2024-01-01")})
	ctx := context.Background()

	if got := l.RemainingCredits(ctx, ""); got != 0 {
		t.Errorf("expected 0 for anonymous, got %d", got)
	}
	if l.DeductCredits(ctx, "", 1) {
		t.Error("expected anonymous deduction to be denied")
	}
	if l.DeductCredits(ctx, "", 0) {
		t.Error("expected anonymous zero-cost deduction to be denied")
	}
	if store.calls != 0 {
		t.Errorf("expected zero store calls, got %d", store.calls)
	}
}

func TestRemainingCredits_DayRollover(t *testing.T) {
	store := newMockStore()
	store.data["credits:u1"] = "5"
	store.data["credits:u1:lastRefill"] = "2024-01-01"
	clock := &fixedClock{t: day("2024-01-02")}
	l := newTestLedger(store, clock)

	if got := l.RemainingCredits(context.Background(), "u1"); got != 100 {
		t.Fatalf("expected 100 after rollover, got %d", got)
	}
	if store.data["credits:u1:lastRefill"] != "2024-01-02" {
		t.Errorf("expected lastRefill 2024-01-02, got %q", store.data["credits:u1:lastRefill"])
	}
}

func TestRemainingCredits_ResetHappensOncePerDay(t *testing.T) {
	store := newMockStore()
	store.data["credits:u1"] = "5"
	store.data["credits:u1:lastRefill"] = "2024-01-01"
	clock := &fixedClock{t: day("2024-01-02")}
	l := newTestLedger(store, clock)
	ctx := context.Background()

	if got := l.RemainingCredits(ctx, "u1"); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if !l.DeductCredits(ctx, "u1", 10) {
		t.Fatal("expected deduction to succeed")
	}
	if got := l.RemainingCredits(ctx, "u1"); got != 90 {
		t.Errorf("expected 90 (no second reset), got %d", got)
	}
}

func TestRemainingCredits_MissingBalanceIsZero(t *testing.T) {
	store := newMockStore()
	store.data["credits:u1:lastRefill"] = "2024-01-01"
	l := newTestLedger(store, &fixedClock{t: day("2024-01-01")})

	if got := l.RemainingCredits(context.Background(), "u1"); got != 0 {
		t.Errorf("expected 0 for inconsistent state, got %d", got)
	}
}

func TestRemainingCredits_StoreErrorFailsClosed(t *testing.T) {
	store := newMockStore()
	store.getErr = errors.New("connection refused")
	l := newTestLedger(store, &fixedClock{t: day("2024-01-01")})

	if got := l.RemainingCredits(context.Background(), "u1"); got != 0 {
		t.Errorf("expected 0 on store error, got %d", got)
	}
}

func TestRemainingCredits_CorruptBalanceFailsClosed(t *testing.T) {
	store := newMockStore()
	store.data["credits:u1"] = "lots"
	store.data["credits:u1:lastRefill"] = "2024-01-01"
	l := newTestLedger(store, &fixedClock{t: day("2024-01-01")})
	ctx := context.Background()

	if got := l.RemainingCredits(ctx, "u1"); got != 0 {
		t.Errorf("expected 0 for corrupt balance, got %d", got)
	}
	if l.DeductCredits(ctx, "u1", 0) {
		t.Error("expected deduction against corrupt balance to be denied")
	}
	if store.data["credits:u1"] != "lots" {
		t.Errorf("corrupt balance should be left untouched, got %q", store.data["credits:u1"])
	}
}

func TestRemainingCredits_ResetWriteFailureStillReturnsAllowance(t *testing.T) {
	store := newMockStore()
	store.setErr["credits:u1"] = errors.New("read-only replica")
	l := newTestLedger(store, &fixedClock{t: day("2024-01-01")})

	if got := l.RemainingCredits(context.Background(), "u1"); got != 100 {
		t.Errorf("expected allowance despite failed reset write, got %d", got)
	}
	if _, ok := store.data["credits:u1:lastRefill"]; ok {
		t.Error("refill date should not be stamped when the balance write failed")
	}
}

func TestRemainingCredits_ClampsToAllowance(t *testing.T) {
	store := newMockStore()
	store.data["credits:u1"] = "500"
	store.data["credits:u1:lastRefill"] = "2024-01-01"
	l := New(store, WithClock((&fixedClock{t: day("2024-01-01")}).Now), WithAllowance(50))

	if got := l.RemainingCredits(context.Background(), "u1"); got != 50 {
		t.Errorf("expected balance clamped to 50, got %d", got)
	}
}

func TestDeductCredits_Scenario(t *testing.T) {
	store := newMockStore()
	l := newTestLedger(store, &fixedClock{t: day("2024-03-10")})
	ctx := context.Background()

	steps := []struct {
		name string
		run  func() any
		want any
	}{
		{"initial", func() any { return l.RemainingCredits(ctx, "u1") }, int64(100)},
		{"deduct 30", func() any { return l.DeductCredits(ctx, "u1", 30) }, true},
		{"after deduct", func() any { return l.RemainingCredits(ctx, "u1") }, int64(70)},
		{"deduct 80", func() any { return l.DeductCredits(ctx, "u1", 80) }, false},
		{"after failed deduct", func() any { return l.RemainingCredits(ctx, "u1") }, int64(70)},
	}
	for _, s := range steps {
		if got := s.run(); got != s.want {
			t.Fatalf("%s: expected %v, got %v", s.name, s.want, got)
		}
	}
}

func TestDeductCredits_ExactBalanceAndZeroCost(t *testing.T) {
	store := newMockStore()
	l := newTestLedger(store, &fixedClock{t: day("2024-01-01")})
	ctx := context.Background()

	if !l.DeductCredits(ctx, "u1", 100) {
		t.Fatal("expected deduction of the full balance to succeed")
	}
	if got := l.RemainingCredits(ctx, "u1"); got != 0 {
		t.Fatalf("expected 0 remaining, got %d", got)
	}
	if !l.DeductCredits(ctx, "u1", 0) {
		t.Error("expected zero-cost deduction to succeed at zero balance")
	}
	if l.DeductCredits(ctx, "u1", 1) {
		t.Error("expected deduction beyond balance to be denied")
	}
}

func TestDeductCredits_NegativeCostDenied(t *testing.T) {
	store := newMockStore()
	l := newTestLedger(store, &fixedClock{t: day("2024-01-01")})

	if l.DeductCredits(context.Background(), "u1", -5) {
		t.Error("expected negative cost to be denied")
	}
	if store.calls != 0 {
		t.Errorf("expected zero store calls, got %d", store.calls)
	}
}

func TestDeductCredits_WriteFailureIsNotSuccess(t *testing.T) {
	store := newMockStore()
	store.data["credits:u1"] = "40"
	store.data["credits:u1:lastRefill"] = "2024-01-01"
	store.setErr["credits:u1"] = errors.New("timeout")
	l := newTestLedger(store, &fixedClock{t: day("2024-01-01")})

	d := l.Charge(context.Background(), "u1", 10)
	if d.Allowed {
		t.Fatal("expected failed write to deny the charge")
	}
	if store.data["credits:u1"] != "40" {
		t.Errorf("balance should be unchanged, got %q", store.data["credits:u1"])
	}
}

func TestDeductCredits_ReadFailureIsDenied(t *testing.T) {
	store := newMockStore()
	store.getErr = errors.New("connection reset")
	l := newTestLedger(store, &fixedClock{t: day("2024-01-01")})

	if l.DeductCredits(context.Background(), "u1", 0) {
		t.Error("expected store read failure to deny even a zero-cost charge")
	}
	if len(store.data) != 0 {
		t.Errorf("expected no writes, got %v", store.data)
	}
}

func TestCharge_ReportsRemaining(t *testing.T) {
	store := newMockStore()
	l := newTestLedger(store, &fixedClock{t: day("2024-01-01")})
	ctx := context.Background()

	if diff := cmp.Diff(Decision{Allowed: true, Remaining: 75}, l.Charge(ctx, "u1", 25)); diff != "" {
		t.Errorf("unexpected decision (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Decision{Allowed: false, Remaining: 75}, l.Charge(ctx, "u1", 76)); diff != "" {
		t.Errorf("unexpected decision (-want +got):\n%s", diff)
	}
}

func TestKeyPrefix(t *testing.T) {
	store := newMockStore()
	l := New(store, WithClock((&fixedClock{t: day("2024-01-01")}).Now), WithKeyPrefix("chat:"))

	l.RemainingCredits(context.Background(), "u1")
	if _, ok := store.data["chat:credits:u1"]; !ok {
		t.Errorf("expected prefixed balance key, got %v", store.data)
	}
	if _, ok := store.data["chat:credits:u1:lastRefill"]; !ok {
		t.Errorf("expected prefixed refill key, got %v", store.data)
	}
}

func TestAccountsAreIndependent(t *testing.T) {
	store := newMockStore()
	l := newTestLedger(store, &fixedClock{t: day("2024-01-01")})
	ctx := context.Background()

	if !l.DeductCredits(ctx, "a", 60) {
		t.Fatal("expected deduction for a")
	}
	if got := l.RemainingCredits(ctx, "b"); got != 100 {
		t.Errorf("expected b untouched at 100, got %d", got)
	}
}

func TestChargeOnce_ReplayedKeyChargesOnce(t *testing.T) {
	store := newMockStore()
	l := newTestLedger(store, &fixedClock{t: day("2024-01-01")})
	ctx := context.Background()

	first := l.ChargeOnce(ctx, "u1", "req-1", 30)
	if diff := cmp.Diff(Decision{Allowed: true, Remaining: 70}, first); diff != "" {
		t.Fatalf("unexpected first decision (-want +got):\n%s", diff)
	}
	again := l.ChargeOnce(ctx, "u1", "req-1", 30)
	if diff := cmp.Diff(Decision{Allowed: true, Replayed: true, Remaining: 70}, again); diff != "" {
		t.Fatalf("unexpected replay decision (-want +got):\n%s", diff)
	}
	if got := store.data["credits:u1"]; got != "70" {
		t.Errorf("expected a single deduction, balance %q", got)
	}
	if !l.ChargeOnce(ctx, "u1", "req-2", 30).Allowed {
		t.Error("expected a fresh key to charge")
	}
}

func TestChargeOnce_DeniedChargeDoesNotSpendKey(t *testing.T) {
	store := newMockStore()
	l := newTestLedger(store, &fixedClock{t: day("2024-01-01")})
	ctx := context.Background()

	if l.ChargeOnce(ctx, "u1", "req-1", 500).Allowed {
		t.Fatal("expected charge beyond balance to be denied")
	}
	d := l.ChargeOnce(ctx, "u1", "req-1", 10)
	if !d.Allowed || d.Replayed {
		t.Errorf("expected retry with a smaller cost to charge, got %+v", d)
	}
}

func TestChargeOnce_KeyExpiresWithTheDay(t *testing.T) {
	store := newMockStore()
	clock := &fixedClock{t: day("2024-01-01")}
	l := newTestLedger(store, clock)
	ctx := context.Background()

	l.ChargeOnce(ctx, "u1", "req-1", 30)
	clock.t = day("2024-01-02")
	d := l.ChargeOnce(ctx, "u1", "req-1", 30)
	if diff := cmp.Diff(Decision{Allowed: true, Remaining: 70}, d); diff != "" {
		t.Errorf("unexpected decision on the next day (-want +got):\n%s", diff)
	}
}

func TestChargeOnce_PassesKeyToAtomicStore(t *testing.T) {
	stub := &atomicStub{mockStore: newMockStore(), out: ChargeOutcome{Allowed: true, Replayed: true, Remaining: 40}}
	clock := &fixedClock{t: day("2024-01-01")} // 10:00 UTC
	l := New(stub, WithClock(clock.Now), WithKeyPrefix("chat:"))

	d := l.ChargeOnce(context.Background(), "u1", "req-1", 5)
	if diff := cmp.Diff(Decision{Allowed: true, Replayed: true, Remaining: 40}, d); diff != "" {
		t.Errorf("unexpected decision (-want +got):\n%s", diff)
	}
	want := ChargeArgs{
		BalanceKey: "chat:credits:u1",
		RefillKey:  "chat:credits:u1:lastRefill",
		IdemKey:    "chat:credits:u1:idem:req-1",
		IdemTTL:    14 * time.Hour,
		Today:      "2024-01-01",
		Allowance:  DefaultAllowance,
		Cost:       5,
	}
	if diff := cmp.Diff([]ChargeArgs{want}, stub.args); diff != "" {
		t.Errorf("unexpected charge args (-want +got):\n%s", diff)
	}
}

func TestRemainingCredits_AtomicResetIsCounted(t *testing.T) {
	stub := &atomicStub{mockStore: newMockStore(), out: ChargeOutcome{Allowed: true, Reset: true, Remaining: 100}}
	l := newTestLedger(stub, &fixedClock{t: day("2024-01-01")})
	ctx := context.Background()

	resets, fresh := counterValue(t, "reset"), counterValue(t, "fresh")
	l.RemainingCredits(ctx, "u1")
	if got := counterValue(t, "reset") - resets; got != 1 {
		t.Errorf("expected one reset lookup, got %v", got)
	}

	stub.out.Reset = false
	l.RemainingCredits(ctx, "u1")
	if got := counterValue(t, "fresh") - fresh; got != 1 {
		t.Errorf("expected one fresh lookup, got %v", got)
	}
}
