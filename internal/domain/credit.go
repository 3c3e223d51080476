package domain

import "time"

// ─── Credit Types ───────────────────────────────────────────────────────────
// These live in domain because they represent core business rules.
// The ledger service enforces them; infrastructure only stores them.

// TransactionKind is the business reason for a credit transaction.
type TransactionKind string

const (
	TxReservation TransactionKind = "RESERVATION"
	TxSettlement  TransactionKind = "SETTLEMENT"
	TxRelease     TransactionKind = "RELEASE"
	TxPurchase    TransactionKind = "PURCHASE"
	TxBonus       TransactionKind = "BONUS"
	TxRefund      TransactionKind = "REFUND"
	TxAdjustment  TransactionKind = "ADJUSTMENT"
)

// AffectsBalance reports whether a transaction of this kind moves the stored
// balance. Reservations and releases only move *available* balance; the
// stored figure stays the settled one.
func (k TransactionKind) AffectsBalance() bool {
	switch k {
	case TxSettlement, TxPurchase, TxBonus, TxRefund, TxAdjustment:
		return true
	default:
		return false
	}
}

// Account holds a user's settled credit balance. It is mutated only through
// ledger operations; at all times balance equals the sum of all
// balance-affecting transaction amounts for the account.
type Account struct {
	ID        string    `json:"id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreditTransaction is an immutable ledger entry, written inside the same
// storage transaction as the balance or reservation change it records.
type CreditTransaction struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"account_id"`
	Amount           int64           `json:"amount"`
	Kind             TransactionKind `json:"kind"`
	JobID            string          `json:"job_id,omitempty"`
	ResultingBalance int64           `json:"resulting_balance"`
	Description      string          `json:"description,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ReservationStatus is the lifecycle of a credit hold.
type ReservationStatus string

const (
	ReservationOpen     ReservationStatus = "OPEN"
	ReservationSettled  ReservationStatus = "SETTLED"
	ReservationReleased ReservationStatus = "RELEASED"
)

// Reservation is a provisional hold against an account's available balance.
// Exactly one reservation exists per job attempt; settlement converts it
// into a permanent debit of the same amount, release discards it.
type Reservation struct {
	JobID      string            `json:"job_id"`
	AccountID  string            `json:"account_id"`
	Amount     int64             `json:"amount"`
	Status     ReservationStatus `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

// BalanceSummary is the caller-facing view of an account's funds.
type BalanceSummary struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
	Reserved  int64  `json:"reserved"`
	Available int64  `json:"available"`
}
