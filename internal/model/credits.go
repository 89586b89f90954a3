package model

import "time"

// DeductRequest charges Cost credits to AccountID. A retried request carrying
// the same IdempotencyKey on the same UTC day is charged at most once.
type DeductRequest struct {
	AccountID      string `json:"account_id"`
	Cost           int64  `json:"cost"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type DeductResult struct {
	Allowed   bool   `json:"allowed"`
	Replayed  bool   `json:"replayed,omitempty"`
	Remaining int64  `json:"remaining"`
	EventID   string `json:"event_id,omitempty"`
}

type BalanceResult struct {
	AccountID string `json:"account_id"`
	Remaining int64  `json:"remaining"`
	Allowance int64  `json:"allowance"`
}

// ChargeEvent is published after every successful deduction.
type ChargeEvent struct {
	EventID   string    `json:"event_id"`
	AccountID string    `json:"account_id"`
	Cost      int64     `json:"cost"`
	Remaining int64     `json:"remaining"`
	ChargedAt time.Time `json:"charged_at"`
}
