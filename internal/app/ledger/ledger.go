// Package ledger owns credit balances and the reservation lifecycle.
//
// Every mutating operation runs under a per-account lock, so reserve calls
// for one account are strictly serialized: two concurrent jobs can never
// both observe the same headroom. The store executes each operation as a
// single transaction on top of that.
package ledger

import (
	"hash/fnv"
	"log"
	"sync"

	"github.com/deckforge/deckd/internal/domain"
	"github.com/deckforge/deckd/internal/infra/observability"
	"github.com/deckforge/deckd/internal/infra/sqlite"
)

const lockStripes = 64

// Service is the single writer for all credit state.
type Service struct {
	db    *sqlite.DB
	locks [lockStripes]sync.Mutex
}

// New creates a ledger service backed by the given store.
func New(db *sqlite.DB) *Service {
	return &Service{db: db}
}

// lock returns the stripe lock for an account. Stripes trade a bounded
// amount of false sharing for not growing a map of mutexes forever.
func (s *Service) lock(accountID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return &s.locks[h.Sum32()%lockStripes]
}

// EnsureAccount creates the account if missing.
func (s *Service) EnsureAccount(accountID string) error {
	return s.db.EnsureAccount(accountID)
}

// CheckBalance reports whether the account's available balance covers
// amount. Read-only UX pre-check; Reserve is the real gate.
func (s *Service) CheckBalance(accountID string, amount int64) (bool, error) {
	sum, err := s.db.BalanceSummary(accountID)
	if err != nil {
		return false, err
	}
	return sum.Available >= amount, nil
}

// Balance returns the account's balance summary.
func (s *Service) Balance(accountID string) (domain.BalanceSummary, error) {
	return s.db.BalanceSummary(accountID)
}

// Transactions returns the account's newest ledger entries.
func (s *Service) Transactions(accountID string, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.db.ListTransactions(accountID, limit)
}

// Reserve places a hold of amount credits for the job. Fails with
// ErrInsufficientCredits when balance minus open holds cannot cover it.
func (s *Service) Reserve(accountID string, amount int64, jobID string) error {
	mu := s.lock(accountID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.db.Reserve(accountID, amount, jobID); err != nil {
		if err == domain.ErrInsufficientCredits {
			observability.InsufficientCredits.Inc()
		}
		return err
	}
	observability.CreditsReserved.Add(float64(amount))
	log.Printf("[ledger] reserved %d credits for job %s (account %s)", amount, jobID, accountID)
	return nil
}

// Settle converts the job's open hold into a permanent debit. Idempotent.
func (s *Service) Settle(jobID string) error {
	resv, err := s.db.GetReservation(jobID)
	if err != nil {
		return err
	}
	mu := s.lock(resv.AccountID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.db.Settle(jobID); err != nil {
		return err
	}
	if resv.Status == domain.ReservationOpen {
		observability.CreditsSettled.Add(float64(resv.Amount))
		log.Printf("[ledger] settled %d credits for job %s (account %s)", resv.Amount, jobID, resv.AccountID)
	}
	return nil
}

// Release discards the job's open hold without touching the balance.
// Idempotent; releasing a job that never reserved reports
// ErrNoOpenReservation so callers can distinguish the cases.
func (s *Service) Release(jobID string) error {
	resv, err := s.db.GetReservation(jobID)
	if err != nil {
		return err
	}
	mu := s.lock(resv.AccountID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.db.Release(jobID); err != nil {
		return err
	}
	if resv.Status == domain.ReservationOpen {
		observability.CreditsReleased.Add(float64(resv.Amount))
		log.Printf("[ledger] released hold of %d credits for job %s (account %s)", resv.Amount, jobID, resv.AccountID)
	}
	return nil
}

// Credit adds funds for purchase/bonus/refund/adjustment flows.
func (s *Service) Credit(accountID string, amount int64, kind domain.TransactionKind, description string) error {
	if kind == domain.TxReservation || kind == domain.TxSettlement || kind == domain.TxRelease {
		return domain.ErrInvalidAmount
	}
	mu := s.lock(accountID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.db.Credit(accountID, amount, kind, description); err != nil {
		return err
	}
	log.Printf("[ledger] credited %d (%s) to account %s", amount, kind, accountID)
	return nil
}
