// Presentation and slide persistence.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/deckforge/deckd/internal/domain"
)

// InsertPresentation creates an empty draft in GENERATING.
func (db *DB) InsertPresentation(p domain.Presentation) error {
	_, err := db.db.Exec(`
		INSERT INTO presentations (id, account_id, title, status, slide_count, language)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.AccountID, p.Title, p.Status, p.SlideCount, p.Language)
	return err
}

// GetPresentation retrieves a presentation by ID.
func (db *DB) GetPresentation(id string) (*domain.Presentation, error) {
	var p domain.Presentation
	var createdStr, updatedStr string
	err := db.db.QueryRow(`
		SELECT id, account_id, title, status, slide_count, language, created_at, updated_at
		FROM presentations WHERE id = ?
	`, id).Scan(&p.ID, &p.AccountID, &p.Title, &p.Status, &p.SlideCount, &p.Language, &createdStr, &updatedStr)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPresentationNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdStr)
	p.UpdatedAt, _ = time.Parse(sqliteTimeLayout, updatedStr)
	return &p, nil
}

// MarkPresentationStatus sets the presentation status directly. Terminal
// transitions driven by a job go through FinishJob instead, which updates
// job and presentation in one transaction.
func (db *DB) MarkPresentationStatus(id string, status domain.PresentationStatus) error {
	_, err := db.db.Exec(`
		UPDATE presentations SET status = ?, updated_at = datetime('now') WHERE id = ?
	`, status, id)
	return err
}

// WriteDeck persists the final title and the full slide set in one durable
// write. Any error leaves the presentation untouched; the caller rolls the
// job to FAILED.
func (db *DB) WriteDeck(presentationID, title string, slides []domain.Slide) error {
	return db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE presentations
			SET title = ?, slide_count = ?, updated_at = datetime('now')
			WHERE id = ?
		`, title, len(slides), presentationID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrPresentationNotFound
		}
		// Retried jobs rewrite the deck from scratch.
		if _, err := tx.Exec(`DELETE FROM slides WHERE presentation_id = ?`, presentationID); err != nil {
			return err
		}
		for _, s := range slides {
			bullets, err := json.Marshal(s.Body.Bullets)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`
				INSERT INTO slides (presentation_id, ord, title, type, layout, heading, subheading, body, bullets_json)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, presentationID, s.Order, s.Title, s.Type, s.Layout,
				s.Body.Heading, s.Body.Subheading, s.Body.Body, string(bullets)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListSlides returns a presentation's slides in deck order.
func (db *DB) ListSlides(presentationID string) ([]domain.Slide, error) {
	rows, err := db.db.Query(`
		SELECT presentation_id, ord, title, type, layout, heading, subheading, body, bullets_json
		FROM slides WHERE presentation_id = ? ORDER BY ord
	`, presentationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Slide
	for rows.Next() {
		var s domain.Slide
		var bulletsJSON string
		if err := rows.Scan(&s.PresentationID, &s.Order, &s.Title, &s.Type, &s.Layout,
			&s.Body.Heading, &s.Body.Subheading, &s.Body.Body, &bulletsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(bulletsJSON), &s.Body.Bullets); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
