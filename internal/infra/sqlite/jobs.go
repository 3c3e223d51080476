// Generation job persistence. The jobs table doubles as the durable work
// queue: workers claim QUEUED rows with a guarded UPDATE so a job is never
// picked up twice, and a process restart finds interrupted work by status.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deckforge/deckd/internal/domain"
)

// InsertJob persists a new QUEUED job.
func (db *DB) InsertJob(job domain.GenerationJob) error {
	inputJSON, err := json.Marshal(job.Input)
	if err != nil {
		return err
	}
	_, err = db.db.Exec(`
		INSERT INTO jobs (id, account_id, presentation_id, status, progress, reserved_amount, input_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.AccountID, job.PresentationID, job.Status, job.Progress, job.ReservedAmount, string(inputJSON))
	return err
}

// GetJob retrieves a job by ID.
func (db *DB) GetJob(id string) (*domain.GenerationJob, error) {
	row := db.db.QueryRow(`
		SELECT id, account_id, presentation_id, status, progress, reserved_amount,
		       input_json, error, cancel_requested, created_at, started_at, completed_at
		FROM jobs WHERE id = ?
	`, id)
	return scanJob(row)
}

// ClaimNextQueued atomically picks the oldest QUEUED job, transitions it to
// GENERATING_OUTLINE and stamps started_at. Returns nil when the queue is
// empty. The guarded UPDATE protects against duplicate pickup by concurrent
// workers; cancel-flagged rows are skipped (the admin cancel path owns them).
func (db *DB) ClaimNextQueued() (*domain.GenerationJob, error) {
	var claimed *domain.GenerationJob
	err := db.withTx(func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRow(`
			SELECT id FROM jobs
			WHERE status = 'QUEUED' AND cancel_requested = 0
			ORDER BY created_at, rowid LIMIT 1
		`).Scan(&id)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		res, err := tx.Exec(`
			UPDATE jobs
			SET status = ?, progress = ?, started_at = datetime('now'),
			    completed_at = NULL, error = ''
			WHERE id = ? AND status = 'QUEUED'
		`, domain.JobGeneratingOutline, domain.ProgressOutlineStart, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return domain.ErrJobClaimed
		}
		row := tx.QueryRow(`
			SELECT id, account_id, presentation_id, status, progress, reserved_amount,
			       input_json, error, cancel_requested, created_at, started_at, completed_at
			FROM jobs WHERE id = ?
		`, id)
		claimed, err = scanJob(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// UpdateJobStage advances a non-terminal job's status and progress. The
// move is validated against the state machine inside the transaction, so a
// worker that lost a cancel or force-stop race gets ErrJobTerminal back
// instead of overwriting the terminal state.
func (db *DB) UpdateJobStage(id string, status domain.JobStatus, progress int) error {
	return db.withTx(func(tx *sql.Tx) error {
		var current domain.JobStatus
		err := tx.QueryRow(`SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return domain.ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if current.Terminal() {
			return domain.ErrJobTerminal
		}
		if !domain.ValidTransition(current, status) {
			return fmt.Errorf("invalid job transition %s -> %s", current, status)
		}
		_, err = tx.Exec(`
			UPDATE jobs SET status = ?, progress = ? WHERE id = ?
		`, status, progress, id)
		return err
	})
}

// UpdateJobProgress moves progress forward without a status change. The
// MAX() keeps observed progress monotonic even if writes race a requeue;
// the status guard keeps terminal rows untouched, reported as
// ErrJobTerminal so the worker knows to abandon the run.
func (db *DB) UpdateJobProgress(id string, progress int) error {
	res, err := db.db.Exec(`
		UPDATE jobs SET progress = MAX(progress, ?)
		WHERE id = ? AND status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')
	`, progress, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrJobTerminal
	}
	return nil
}

// SetJobReservation records the amount held for the current attempt.
func (db *DB) SetJobReservation(id string, amount int64) error {
	_, err := db.db.Exec(`UPDATE jobs SET reserved_amount = ? WHERE id = ?`, amount, id)
	return err
}

// FinishJob moves a job to a terminal state and mirrors that state onto its
// presentation in the same transaction, so the two never disagree.
func (db *DB) FinishJob(id string, status domain.JobStatus, errMsg string) error {
	return db.withTx(func(tx *sql.Tx) error {
		var presentationID string
		var current domain.JobStatus
		err := tx.QueryRow(`SELECT presentation_id, status FROM jobs WHERE id = ?`, id).
			Scan(&presentationID, &current)
		if err == sql.ErrNoRows {
			return domain.ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if current.Terminal() {
			return domain.ErrJobTerminal
		}
		if status == domain.JobCompleted {
			_, err = tx.Exec(`
				UPDATE jobs SET status = ?, progress = ?, error = '', completed_at = datetime('now')
				WHERE id = ?
			`, status, domain.ProgressComplete, id)
		} else {
			_, err = tx.Exec(`
				UPDATE jobs SET status = ?, error = ?, completed_at = datetime('now')
				WHERE id = ?
			`, status, errMsg, id)
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
			UPDATE presentations SET status = ?, updated_at = datetime('now') WHERE id = ?
		`, domain.PresentationStatusFor(status), presentationID)
		return err
	})
}

// RequestCancel sets the cooperative cancellation flag on a non-terminal
// job. Returns ErrJobTerminal when the job already finished.
func (db *DB) RequestCancel(id string) error {
	res, err := db.db.Exec(`
		UPDATE jobs SET cancel_requested = 1
		WHERE id = ? AND status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')
	`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := db.GetJob(id); err != nil {
			return err
		}
		return domain.ErrJobTerminal
	}
	return nil
}

// CancelRequested reads the cooperative cancellation flag.
func (db *DB) CancelRequested(id string) (bool, error) {
	var flag int
	err := db.db.QueryRow(`SELECT cancel_requested FROM jobs WHERE id = ?`, id).Scan(&flag)
	if err == sql.ErrNoRows {
		return false, domain.ErrJobNotFound
	}
	return flag == 1, err
}

// ResetForRetry returns a FAILED job to QUEUED with cleared progress, error
// and cancellation flag. The status guard rejects every other state.
func (db *DB) ResetForRetry(id string) error {
	return db.withTx(func(tx *sql.Tx) error {
		var presentationID string
		var current domain.JobStatus
		err := tx.QueryRow(`SELECT presentation_id, status FROM jobs WHERE id = ?`, id).
			Scan(&presentationID, &current)
		if err == sql.ErrNoRows {
			return domain.ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if current != domain.JobFailed {
			return domain.ErrNotRetryable
		}
		if _, err := tx.Exec(`
			UPDATE jobs
			SET status = 'QUEUED', progress = 0, error = '', cancel_requested = 0,
			    reserved_amount = 0, started_at = NULL, completed_at = NULL
			WHERE id = ? AND status = 'FAILED'
		`, id); err != nil {
			return err
		}
		_, err = tx.Exec(`
			UPDATE presentations SET status = ?, updated_at = datetime('now') WHERE id = ?
		`, domain.PresentationGenerating, presentationID)
		return err
	})
}

// RequeueInterrupted returns jobs stranded mid-generation by a crash to
// QUEUED so a worker can pick them up again. Their reservation (if any)
// stays open; the fresh run settles or releases it. Returns job IDs.
func (db *DB) RequeueInterrupted() ([]string, error) {
	rows, err := db.db.Query(`
		SELECT id FROM jobs
		WHERE status IN ('GENERATING_OUTLINE', 'GENERATING_CONTENT', 'APPLYING_DESIGN')
	`)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := db.db.Exec(`
			UPDATE jobs SET status = 'QUEUED', progress = 0, started_at = NULL WHERE id = ?
		`, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// ActiveJobs returns every job in a non-terminal state (incident tooling).
func (db *DB) ActiveJobs() ([]domain.GenerationJob, error) {
	return db.queryJobs(`
		SELECT id, account_id, presentation_id, status, progress, reserved_amount,
		       input_json, error, cancel_requested, created_at, started_at, completed_at
		FROM jobs WHERE status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')
		ORDER BY created_at, rowid
	`)
}

// ListJobs returns recent jobs, optionally filtered by status.
func (db *DB) ListJobs(status domain.JobStatus, limit int) ([]domain.GenerationJob, error) {
	if status == "" {
		return db.queryJobs(`
			SELECT id, account_id, presentation_id, status, progress, reserved_amount,
			       input_json, error, cancel_requested, created_at, started_at, completed_at
			FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?
		`, limit)
	}
	return db.queryJobs(`
		SELECT id, account_id, presentation_id, status, progress, reserved_amount,
		       input_json, error, cancel_requested, created_at, started_at, completed_at
		FROM jobs WHERE status = ? ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, status, limit)
}

// QueueCounts returns how many jobs are waiting and how many are being
// processed right now.
func (db *DB) QueueCounts() (queued, processing int, err error) {
	err = db.db.QueryRow(`
		SELECT
			SUM(CASE WHEN status = 'QUEUED' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status IN ('GENERATING_OUTLINE', 'GENERATING_CONTENT', 'APPLYING_DESIGN') THEN 1 ELSE 0 END)
		FROM jobs
	`).Scan(&nullableInt{&queued}, &nullableInt{&processing})
	return
}

// nullableInt scans a possibly-NULL aggregate into an int.
type nullableInt struct{ v *int }

func (n *nullableInt) Scan(src any) error {
	if src == nil {
		*n.v = 0
		return nil
	}
	switch x := src.(type) {
	case int64:
		*n.v = int(x)
	case int:
		*n.v = x
	}
	return nil
}

// ─── Internal helpers ───────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.GenerationJob, error) {
	var j domain.GenerationJob
	var inputJSON string
	var cancelFlag int
	var createdStr string
	var startedStr, completedStr sql.NullString
	err := row.Scan(&j.ID, &j.AccountID, &j.PresentationID, &j.Status, &j.Progress,
		&j.ReservedAmount, &inputJSON, &j.Error, &cancelFlag, &createdStr, &startedStr, &completedStr)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(inputJSON), &j.Input); err != nil {
		return nil, err
	}
	j.CancelRequested = cancelFlag == 1
	j.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdStr)
	if startedStr.Valid {
		t, _ := time.Parse(sqliteTimeLayout, startedStr.String)
		j.StartedAt = &t
	}
	if completedStr.Valid {
		t, _ := time.Parse(sqliteTimeLayout, completedStr.String)
		j.CompletedAt = &t
	}
	return &j, nil
}

func (db *DB) queryJobs(query string, args ...any) ([]domain.GenerationJob, error) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.GenerationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *j)
	}
	return result, rows.Err()
}
