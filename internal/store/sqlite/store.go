// Package sqlite provides a SQLite-backed implementation of the incidents
// and alert_rules collections.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Store is a SQLite-backed incident and rule store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ store.IncidentStore = (*Store)(nil)
	_ store.RuleStore     = (*Store)(nil)
)

// Open creates (or opens) the database at path and applies the schema. Use
// ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Append assigns an id and inserts the incident.
func (s *Store) Append(ctx context.Context, incident models.Incident) (models.Incident, error) {
	incident.ID = uuid.NewString()

	analysis, err := json.Marshal(incident.Analysis)
	if err != nil {
		return models.Incident{}, fmt.Errorf("marshal analysis: %w", err)
	}
	logs := incident.Logs
	if logs == nil {
		logs = []models.LogEntry{}
	}
	logsJSON, err := json.Marshal(logs)
	if err != nil {
		return models.Incident{}, fmt.Errorf("marshal logs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incidents (id, trace_id, service_name, timestamp, occurrence_count, category, priority, status, analysis, logs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		incident.ID,
		incident.TraceID,
		incident.ServiceName,
		incident.Timestamp.UnixNano(),
		incident.OccurrenceCount,
		incident.Analysis.Category,
		string(incident.Analysis.Priority),
		string(incident.Status),
		string(analysis),
		string(logsJSON),
	)
	if err != nil {
		return models.Incident{}, fmt.Errorf("insert incident: %w", err)
	}
	return incident, nil
}

const incidentColumns = `id, trace_id, service_name, timestamp, occurrence_count, status, analysis, logs`

// Get returns the incident with the given id.
func (s *Store) Get(ctx context.Context, id string) (models.Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Incident{}, store.ErrNotFound
	}
	return inc, err
}

// Recent returns up to limit incidents, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.Incident, error) {
	if limit <= 0 {
		limit = store.DefaultIncidentWindow
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent incidents: %w", err)
	}
	return collectIncidents(rows)
}

// Since returns incidents at or after t, newest first.
func (s *Store) Since(ctx context.Context, t time.Time) ([]models.Incident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE timestamp >= ? ORDER BY timestamp DESC, rowid DESC`, t.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query incidents since: %w", err)
	}
	return collectIncidents(rows)
}

// Counts aggregates incidents since the cutoff along with open and open
// critical incidents.
func (s *Store) Counts(ctx context.Context, since time.Time) (models.IncidentCounts, error) {
	critical := models.CriticalPriorities
	var c models.IncidentCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN timestamp >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? AND priority IN (?, ?, ?) THEN 1 ELSE 0 END), 0)
		FROM incidents`,
		since.UnixNano(),
		string(models.StatusOpen),
		string(models.StatusOpen), string(critical[0]), string(critical[1]), string(critical[2]),
	).Scan(&c.Since, &c.Open, &c.OpenCritical)
	if err != nil {
		return models.IncidentCounts{}, fmt.Errorf("count incidents: %w", err)
	}
	return c, nil
}

// UpdateStatus transitions an incident's status.
func (s *Store) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE incidents SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update incident status: %w", err)
	}
	return expectOneRow(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIncident(row scanner) (models.Incident, error) {
	var (
		inc      models.Incident
		ts       int64
		status   string
		analysis string
		logs     string
	)
	if err := row.Scan(&inc.ID, &inc.TraceID, &inc.ServiceName, &ts, &inc.OccurrenceCount, &status, &analysis, &logs); err != nil {
		return models.Incident{}, err
	}
	inc.Timestamp = time.Unix(0, ts).UTC()
	inc.Status = models.Status(status)
	if err := json.Unmarshal([]byte(analysis), &inc.Analysis); err != nil {
		return models.Incident{}, fmt.Errorf("decode analysis for %s: %w", inc.ID, err)
	}
	if err := json.Unmarshal([]byte(logs), &inc.Logs); err != nil {
		return models.Incident{}, fmt.Errorf("decode logs for %s: %w", inc.ID, err)
	}
	return inc, nil
}

func collectIncidents(rows *sql.Rows) ([]models.Incident, error) {
	defer rows.Close()
	out := make([]models.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// CreateRule inserts an alert rule.
func (s *Store) CreateRule(ctx context.Context, rule models.AlertRule) (models.AlertRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_rules (id, name, category, threshold, window_minutes, severity, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Name, rule.Category, rule.Threshold, rule.WindowMinutes, rule.Severity, boolToInt(rule.Enabled), s.now().UnixNano(),
	)
	if err != nil {
		return models.AlertRule{}, fmt.Errorf("insert alert rule: %w", err)
	}
	return rule, nil
}

const ruleColumns = `id, name, category, threshold, window_minutes, severity, enabled`

// GetRule returns one rule.
func (s *Store) GetRule(ctx context.Context, id string) (models.AlertRule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AlertRule{}, store.ErrNotFound
	}
	return rule, err
}

// ListRules returns all rules in creation order.
func (s *Store) ListRules(ctx context.Context) ([]models.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM alert_rules ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query alert rules: %w", err)
	}
	return collectRules(rows)
}

// ListEnabledRules returns only enabled rules.
func (s *Store) ListEnabledRules(ctx context.Context) ([]models.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE enabled = 1 ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query enabled alert rules: %w", err)
	}
	return collectRules(rows)
}

// UpdateRule replaces an existing rule.
func (s *Store) UpdateRule(ctx context.Context, rule models.AlertRule) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_rules SET name = ?, category = ?, threshold = ?, window_minutes = ?, severity = ?, enabled = ?
		WHERE id = ?`,
		rule.Name, rule.Category, rule.Threshold, rule.WindowMinutes, rule.Severity, boolToInt(rule.Enabled), rule.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert rule: %w", err)
	}
	return expectOneRow(res)
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}
	return expectOneRow(res)
}

func scanRule(row scanner) (models.AlertRule, error) {
	var (
		rule    models.AlertRule
		enabled int
	)
	if err := row.Scan(&rule.ID, &rule.Name, &rule.Category, &rule.Threshold, &rule.WindowMinutes, &rule.Severity, &enabled); err != nil {
		return models.AlertRule{}, err
	}
	rule.Enabled = enabled != 0
	return rule, nil
}

func collectRules(rows *sql.Rows) ([]models.AlertRule, error) {
	defer rows.Close()
	out := make([]models.AlertRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
