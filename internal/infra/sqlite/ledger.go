// Ledger persistence: accounts, the append-only transaction log, and
// reservation state. Every mutating operation here runs as one transaction
// wrapping "read current state → validate → write transaction record →
// write balance/reservation state", so no interleaving can produce a
// partial update.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deckforge/deckd/internal/domain"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

// EnsureAccount creates the account if it does not exist yet.
func (db *DB) EnsureAccount(accountID string) error {
	_, err := db.db.Exec(`INSERT OR IGNORE INTO accounts (id) VALUES (?)`, accountID)
	return err
}

// GetAccount retrieves an account's settled balance.
func (db *DB) GetAccount(accountID string) (*domain.Account, error) {
	var a domain.Account
	var createdStr, updatedStr string
	err := db.db.QueryRow(`
		SELECT id, balance, created_at, updated_at FROM accounts WHERE id = ?
	`, accountID).Scan(&a.ID, &a.Balance, &createdStr, &updatedStr)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdStr)
	a.UpdatedAt, _ = time.Parse(sqliteTimeLayout, updatedStr)
	return &a, nil
}

// BalanceSummary returns balance, the sum of open reservations, and the
// derived available figure.
func (db *DB) BalanceSummary(accountID string) (domain.BalanceSummary, error) {
	var s domain.BalanceSummary
	err := db.db.QueryRow(`SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&s.Balance)
	if err == sql.ErrNoRows {
		return s, domain.ErrAccountNotFound
	}
	if err != nil {
		return s, err
	}
	err = db.db.QueryRow(`
		SELECT COALESCE(SUM(amount), 0) FROM reservations
		WHERE account_id = ? AND status = 'OPEN'
	`, accountID).Scan(&s.Reserved)
	if err != nil {
		return s, err
	}
	s.AccountID = accountID
	s.Available = s.Balance - s.Reserved
	return s, nil
}

// Reserve atomically verifies available balance and opens a hold for the
// job. The stored balance is untouched; a RESERVATION transaction with
// negative amount records the hold for audit.
func (db *DB) Reserve(accountID string, amount int64, jobID string) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	return db.withTx(func(tx *sql.Tx) error {
		var balance int64
		err := tx.QueryRow(`SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&balance)
		if err == sql.ErrNoRows {
			return domain.ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		var reserved int64
		if err := tx.QueryRow(`
			SELECT COALESCE(SUM(amount), 0) FROM reservations
			WHERE account_id = ? AND status = 'OPEN'
		`, accountID).Scan(&reserved); err != nil {
			return err
		}
		if balance-reserved < amount {
			return domain.ErrInsufficientCredits
		}
		if _, err := tx.Exec(`
			INSERT INTO reservations (job_id, account_id, amount) VALUES (?, ?, ?)
		`, jobID, accountID, amount); err != nil {
			return err
		}
		return insertTransaction(tx, domain.CreditTransaction{
			ID:               uuid.NewString(),
			AccountID:        accountID,
			Amount:           -amount,
			Kind:             domain.TxReservation,
			JobID:            jobID,
			ResultingBalance: balance,
			Description:      fmt.Sprintf("hold %d credits for job %s", amount, jobID),
		})
	})
}

// Settle converts the job's open reservation into a permanent debit of the
// same amount. Idempotent: settling an already-settled job is a no-op and
// never double-charges.
func (db *DB) Settle(jobID string) error {
	return db.withTx(func(tx *sql.Tx) error {
		resv, err := openReservation(tx, jobID)
		if err == domain.ErrNoOpenReservation {
			settled, lookupErr := reservationExists(tx, jobID, "SETTLED")
			if lookupErr != nil {
				return lookupErr
			}
			if settled {
				return nil // already settled
			}
			return err
		}
		if err != nil {
			return err
		}
		var balance int64
		if err := tx.QueryRow(`SELECT balance FROM accounts WHERE id = ?`, resv.AccountID).Scan(&balance); err != nil {
			return err
		}
		newBalance := balance - resv.Amount
		if _, err := tx.Exec(`
			UPDATE accounts SET balance = ?, updated_at = datetime('now') WHERE id = ?
		`, newBalance, resv.AccountID); err != nil {
			return err
		}
		if err := resolveReservation(tx, jobID, "SETTLED"); err != nil {
			return err
		}
		return insertTransaction(tx, domain.CreditTransaction{
			ID:               uuid.NewString(),
			AccountID:        resv.AccountID,
			Amount:           -resv.Amount,
			Kind:             domain.TxSettlement,
			JobID:            jobID,
			ResultingBalance: newBalance,
			Description:      fmt.Sprintf("settle job %s", jobID),
		})
	})
}

// Release closes the job's open reservation without touching the balance.
// The RELEASE transaction carries the positive counter-amount so the
// reservation/release pair nets to zero in the log. Idempotent.
func (db *DB) Release(jobID string) error {
	return db.withTx(func(tx *sql.Tx) error {
		resv, err := openReservation(tx, jobID)
		if err == domain.ErrNoOpenReservation {
			released, lookupErr := reservationExists(tx, jobID, "RELEASED")
			if lookupErr != nil {
				return lookupErr
			}
			if released {
				return nil // already released
			}
			return err
		}
		if err != nil {
			return err
		}
		var balance int64
		if err := tx.QueryRow(`SELECT balance FROM accounts WHERE id = ?`, resv.AccountID).Scan(&balance); err != nil {
			return err
		}
		if err := resolveReservation(tx, jobID, "RELEASED"); err != nil {
			return err
		}
		return insertTransaction(tx, domain.CreditTransaction{
			ID:               uuid.NewString(),
			AccountID:        resv.AccountID,
			Amount:           resv.Amount,
			Kind:             domain.TxRelease,
			JobID:            jobID,
			ResultingBalance: balance,
			Description:      fmt.Sprintf("release hold for job %s", jobID),
		})
	})
}

// Credit increments the balance for purchase/bonus/refund/adjustment flows.
func (db *DB) Credit(accountID string, amount int64, kind domain.TransactionKind, description string) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	return db.withTx(func(tx *sql.Tx) error {
		var balance int64
		err := tx.QueryRow(`SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&balance)
		if err == sql.ErrNoRows {
			return domain.ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		newBalance := balance + amount
		if _, err := tx.Exec(`
			UPDATE accounts SET balance = ?, updated_at = datetime('now') WHERE id = ?
		`, newBalance, accountID); err != nil {
			return err
		}
		return insertTransaction(tx, domain.CreditTransaction{
			ID:               uuid.NewString(),
			AccountID:        accountID,
			Amount:           amount,
			Kind:             kind,
			ResultingBalance: newBalance,
			Description:      description,
		})
	})
}

// GetReservation returns the most recent reservation for a job, any status.
func (db *DB) GetReservation(jobID string) (*domain.Reservation, error) {
	var r domain.Reservation
	var createdStr string
	var resolvedStr sql.NullString
	err := db.db.QueryRow(`
		SELECT job_id, account_id, amount, status, created_at, resolved_at
		FROM reservations WHERE job_id = ? ORDER BY id DESC LIMIT 1
	`, jobID).Scan(&r.JobID, &r.AccountID, &r.Amount, &r.Status, &createdStr, &resolvedStr)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNoOpenReservation
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdStr)
	if resolvedStr.Valid {
		t, _ := time.Parse(sqliteTimeLayout, resolvedStr.String)
		r.ResolvedAt = &t
	}
	return &r, nil
}

// ListTransactions returns the newest transactions for an account.
func (db *DB) ListTransactions(accountID string, limit int) ([]domain.CreditTransaction, error) {
	rows, err := db.db.Query(`
		SELECT id, account_id, amount, kind, COALESCE(job_id, ''), resulting_balance, description, created_at
		FROM credit_transactions WHERE account_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.CreditTransaction
	for rows.Next() {
		var t domain.CreditTransaction
		var createdStr string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Kind, &t.JobID, &t.ResultingBalance, &t.Description, &createdStr); err != nil {
			return nil, err
		}
		t.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdStr)
		result = append(result, t)
	}
	return result, rows.Err()
}

// TransactionsForJob returns all ledger entries referencing a job.
func (db *DB) TransactionsForJob(jobID string) ([]domain.CreditTransaction, error) {
	rows, err := db.db.Query(`
		SELECT id, account_id, amount, kind, COALESCE(job_id, ''), resulting_balance, description, created_at
		FROM credit_transactions WHERE job_id = ? ORDER BY rowid
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.CreditTransaction
	for rows.Next() {
		var t domain.CreditTransaction
		var createdStr string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Kind, &t.JobID, &t.ResultingBalance, &t.Description, &createdStr); err != nil {
			return nil, err
		}
		t.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdStr)
		result = append(result, t)
	}
	return result, rows.Err()
}

// OpenReservations returns every currently open hold (incident tooling).
func (db *DB) OpenReservations() ([]domain.Reservation, error) {
	rows, err := db.db.Query(`
		SELECT job_id, account_id, amount, status, created_at
		FROM reservations WHERE status = 'OPEN' ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Reservation
	for rows.Next() {
		var r domain.Reservation
		var createdStr string
		if err := rows.Scan(&r.JobID, &r.AccountID, &r.Amount, &r.Status, &createdStr); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdStr)
		result = append(result, r)
	}
	return result, rows.Err()
}

// ─── Internal helpers ───────────────────────────────────────────────────────

func openReservation(tx *sql.Tx, jobID string) (*domain.Reservation, error) {
	var r domain.Reservation
	err := tx.QueryRow(`
		SELECT job_id, account_id, amount FROM reservations
		WHERE job_id = ? AND status = 'OPEN' ORDER BY id DESC LIMIT 1
	`, jobID).Scan(&r.JobID, &r.AccountID, &r.Amount)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNoOpenReservation
	}
	if err != nil {
		return nil, err
	}
	r.Status = domain.ReservationOpen
	return &r, nil
}

func reservationExists(tx *sql.Tx, jobID, status string) (bool, error) {
	var count int
	err := tx.QueryRow(`
		SELECT COUNT(*) FROM reservations WHERE job_id = ? AND status = ?
	`, jobID, status).Scan(&count)
	return count > 0, err
}

func resolveReservation(tx *sql.Tx, jobID, status string) error {
	_, err := tx.Exec(`
		UPDATE reservations SET status = ?, resolved_at = datetime('now')
		WHERE job_id = ? AND status = 'OPEN'
	`, status, jobID)
	return err
}

func insertTransaction(tx *sql.Tx, t domain.CreditTransaction) error {
	var jobID any
	if t.JobID != "" {
		jobID = t.JobID
	}
	_, err := tx.Exec(`
		INSERT INTO credit_transactions (id, account_id, amount, kind, job_id, resulting_balance, description)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.AccountID, t.Amount, t.Kind, jobID, t.ResultingBalance, t.Description)
	return err
}
