package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/models"
)

// GetQuotaWindow returns the open quota window, creating one starting now
// if none exists.
func (s *Store) GetQuotaWindow(windowHours int) (*models.QuotaWindow, error) {
	window := &models.QuotaWindow{
		WindowHours: windowHours,
		Consumed:    make(map[string]int),
	}

	var lastCorrection sql.NullTime
	err := s.db.QueryRow(
		`SELECT started_at, last_correction_at FROM quota_window WHERE id = 1`,
	).Scan(&window.StartedAt, &lastCorrection)
	if err == sql.ErrNoRows {
		window.StartedAt = time.Now().UTC()
		_, err = s.db.Exec(
			`INSERT INTO quota_window (id, started_at) VALUES (1, ?)`,
			window.StartedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("create quota window: %w", err)
		}
		return window, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query quota window: %w", err)
	}
	if lastCorrection.Valid {
		window.LastCorrectionAt = &lastCorrection.Time
	}

	rows, err := s.db.Query(`SELECT model, consumed FROM quota_counts`)
	if err != nil {
		return nil, fmt.Errorf("query quota counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var model string
		var consumed int
		if err := rows.Scan(&model, &consumed); err != nil {
			return nil, fmt.Errorf("scan quota count: %w", err)
		}
		window.Consumed[model] = consumed
	}
	return window, rows.Err()
}

// RollQuotaWindow resets all per-model counts and advances the window start.
// Both happen in one transaction so a crash cannot leave counts from the old
// window attributed to the new one.
func (s *Store) RollQuotaWindow(newStart time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM quota_counts`); err != nil {
		return fmt.Errorf("reset quota counts: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE quota_window SET started_at = ?, last_correction_at = NULL WHERE id = 1`,
		newStart.UTC(),
	); err != nil {
		return fmt.Errorf("advance quota window: %w", err)
	}
	return tx.Commit()
}

// AddQuotaConsumption adjusts the consumed count for a model. Negative
// deltas refund; the count never drops below zero.
func (s *Store) AddQuotaConsumption(model string, delta int) error {
	_, err := s.db.Exec(
		`INSERT INTO quota_counts (model, consumed) VALUES (?, MAX(0, ?))
		 ON CONFLICT(model) DO UPDATE SET consumed = MAX(0, consumed + ?)`,
		model, delta, delta,
	)
	if err != nil {
		return fmt.Errorf("adjust quota consumption: %w", err)
	}
	return nil
}

// SetQuotaConsumed overwrites the consumed count for a model and records
// the correction time on the window.
func (s *Store) SetQuotaConsumed(model string, consumed int, correctedAt time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO quota_counts (model, consumed) VALUES (?, ?)
		 ON CONFLICT(model) DO UPDATE SET consumed = excluded.consumed`,
		model, consumed,
	); err != nil {
		return fmt.Errorf("set quota consumption: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE quota_window SET last_correction_at = ? WHERE id = 1`,
		correctedAt.UTC(),
	); err != nil {
		return fmt.Errorf("record correction time: %w", err)
	}
	return tx.Commit()
}
