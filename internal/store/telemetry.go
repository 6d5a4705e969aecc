package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/models"
)

// Samples older than this are pruned on insert; the predictor needs at
// least 14 days of history.
const sampleRetention = 30 * 24 * time.Hour

// RecordUsageSample appends one presence observation and prunes samples
// past the retention window.
func (s *Store) RecordUsageSample(ts time.Time, active bool) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_samples (timestamp, active) VALUES (?, ?)`,
		ts.UTC(), active,
	)
	if err != nil {
		return fmt.Errorf("insert usage sample: %w", err)
	}
	_, err = s.db.Exec(
		`DELETE FROM usage_samples WHERE timestamp < ?`,
		ts.UTC().Add(-sampleRetention),
	)
	if err != nil {
		return fmt.Errorf("prune usage samples: %w", err)
	}
	return nil
}

// SamplesSince returns usage samples at or after the given time, oldest
// first.
func (s *Store) SamplesSince(since time.Time) ([]models.UsageSample, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, active FROM usage_samples WHERE timestamp >= ? ORDER BY timestamp ASC`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage samples: %w", err)
	}
	defer rows.Close()

	var samples []models.UsageSample
	for rows.Next() {
		var sample models.UsageSample
		if err := rows.Scan(&sample.Timestamp, &sample.Active); err != nil {
			return nil, fmt.Errorf("scan usage sample: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// LastActiveSampleTime returns the timestamp of the most recent sample with
// active = true. ok is false when none exists.
func (s *Store) LastActiveSampleTime() (time.Time, bool, error) {
	var ts time.Time
	err := s.db.QueryRow(
		`SELECT timestamp FROM usage_samples WHERE active = 1 ORDER BY timestamp DESC LIMIT 1`,
	).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last active sample: %w", err)
	}
	return ts, true, nil
}

// RecordUsage appends one Assistant CLI usage record.
func (s *Store) RecordUsage(rec *models.UsageRecord) (int64, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO usage_log (timestamp, model, input_tokens, output_tokens, cost_usd, task_id, autonomous)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp, rec.Model, rec.InputTokens, rec.OutputTokens,
		rec.CostUSD, nullableID(rec.TaskID), rec.Autonomous,
	)
	if err != nil {
		return 0, fmt.Errorf("insert usage record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("usage record id: %w", err)
	}
	rec.ID = id
	return id, nil
}

// UsageSince returns usage records at or after the given time, newest first.
func (s *Store) UsageSince(since time.Time) ([]models.UsageRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, timestamp, model, input_tokens, output_tokens, cost_usd, task_id, autonomous
		 FROM usage_log WHERE timestamp >= ? ORDER BY timestamp DESC`,
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage log: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var rec models.UsageRecord
		var taskID sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Model, &rec.InputTokens,
			&rec.OutputTokens, &rec.CostUSD, &taskID, &rec.Autonomous); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		if taskID.Valid {
			rec.TaskID = taskID.Int64
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DailyAutonomousCost sums autonomous spend for the UTC day containing t.
func (s *Store) DailyAutonomousCost(t time.Time) (float64, error) {
	day := t.UTC().Truncate(24 * time.Hour)
	var total sql.NullFloat64
	err := s.db.QueryRow(
		`SELECT SUM(cost_usd) FROM usage_log
		 WHERE autonomous = 1 AND timestamp >= ? AND timestamp < ?`,
		day, day.Add(24*time.Hour),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("query daily cost: %w", err)
	}
	return total.Float64, nil
}

// SetDaemonMeta writes the singleton daemon row.
func (s *Store) SetDaemonMeta(meta *models.DaemonMeta) error {
	_, err := s.db.Exec(
		`INSERT INTO daemon_meta (id, pid, instance_id, started_at, last_tick_at)
		 VALUES (1, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET pid = excluded.pid,
			instance_id = excluded.instance_id,
			started_at = excluded.started_at,
			last_tick_at = excluded.last_tick_at`,
		meta.PID, meta.InstanceID, meta.StartedAt.UTC(), meta.LastTickAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("write daemon meta: %w", err)
	}
	return nil
}

// TouchDaemonTick updates last_tick_at on the daemon row.
func (s *Store) TouchDaemonTick(now time.Time) error {
	_, err := s.db.Exec(`UPDATE daemon_meta SET last_tick_at = ? WHERE id = 1`, now.UTC())
	return err
}

// GetDaemonMeta reads the singleton daemon row, or nil if absent.
func (s *Store) GetDaemonMeta() (*models.DaemonMeta, error) {
	meta := &models.DaemonMeta{}
	err := s.db.QueryRow(
		`SELECT pid, instance_id, started_at, last_tick_at FROM daemon_meta WHERE id = 1`,
	).Scan(&meta.PID, &meta.InstanceID, &meta.StartedAt, &meta.LastTickAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query daemon meta: %w", err)
	}
	return meta, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
