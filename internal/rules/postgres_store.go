package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists rules in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed rule store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const ruleColumns = `id, name, checkpoint, type, status, priority, action, severity, conditions,
	perf_triggered, perf_true_positives, perf_false_positives, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, r *Rule) error {
	condJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO rules (id, name, checkpoint, type, status, priority, action, severity, conditions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID, r.Name, string(r.Checkpoint), string(r.Type), string(r.Status),
		r.Priority, string(r.Action), string(r.Severity), condJSON,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrNameTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Rule, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id)
	return scanRule(row)
}

func (p *PostgresStore) List(ctx context.Context, q Query) ([]*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE 1=1`
	var args []any
	if q.Checkpoint != "" {
		// Checkpoint-agnostic rules (empty checkpoint) match every filter.
		args = append(args, string(q.Checkpoint))
		query += fmt.Sprintf(" AND (checkpoint = $%d OR checkpoint = '')", len(args))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if q.Priority != nil {
		args = append(args, *q.Priority)
		query += fmt.Sprintf(" AND priority = $%d", len(args))
	}
	query += ` ORDER BY priority ASC, id ASC`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, r *Rule) error {
	condJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return err
	}
	// Performance counters are deliberately not written here; they are owned
	// by the increment statements below.
	result, err := p.db.ExecContext(ctx, `
		UPDATE rules
		SET name = $1, checkpoint = $2, type = $3, status = $4, priority = $5,
		    action = $6, severity = $7, conditions = $8, updated_at = $9
		WHERE id = $10`,
		r.Name, string(r.Checkpoint), string(r.Type), string(r.Status), r.Priority,
		string(r.Action), string(r.Severity), condJSON, r.UpdatedAt, r.ID,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrNameTaken
		}
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (p *PostgresStore) IncrementTriggered(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	// Single atomic per-field increment; no read-modify-write.
	_, err := p.db.ExecContext(ctx,
		`UPDATE rules SET perf_triggered = perf_triggered + 1 WHERE id = ANY($1)`,
		pq.Array(ids))
	return err
}

func (p *PostgresStore) RecordOutcome(ctx context.Context, ids []string, truePositive bool) error {
	if len(ids) == 0 {
		return nil
	}
	column := "perf_false_positives"
	if truePositive {
		column = "perf_true_positives"
	}
	_, err := p.db.ExecContext(ctx,
		`UPDATE rules SET `+column+` = `+column+` + 1 WHERE id = ANY($1)`,
		pq.Array(ids))
	return err
}

// Migrate creates the rules table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rules (
			id                   TEXT PRIMARY KEY,
			name                 TEXT NOT NULL,
			checkpoint           TEXT NOT NULL DEFAULT '',
			type                 TEXT NOT NULL,
			status               TEXT NOT NULL,
			priority             INTEGER NOT NULL DEFAULT 0,
			action               TEXT NOT NULL,
			severity             TEXT NOT NULL,
			conditions           JSONB NOT NULL DEFAULT '[]',
			perf_triggered       BIGINT NOT NULL DEFAULT 0,
			perf_true_positives  BIGINT NOT NULL DEFAULT 0,
			perf_false_positives BIGINT NOT NULL DEFAULT 0,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_rules_name ON rules(name);
		CREATE INDEX IF NOT EXISTS idx_rules_checkpoint_status ON rules(checkpoint, status);
	`)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	r := &Rule{}
	var condJSON []byte
	var checkpoint, ruleType, status, action, severity string
	err := row.Scan(&r.ID, &r.Name, &checkpoint, &ruleType, &status, &r.Priority,
		&action, &severity, &condJSON,
		&r.Performance.Triggered, &r.Performance.TruePositives, &r.Performance.FalsePositives,
		&r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(condJSON) > 0 {
		if err := json.Unmarshal(condJSON, &r.Conditions); err != nil {
			return nil, fmt.Errorf("corrupt conditions for rule %s: %w", r.ID, err)
		}
	}
	r.Checkpoint = Checkpoint(checkpoint)
	r.Type = Type(ruleType)
	r.Status = Status(status)
	r.Action = Action(action)
	r.Severity = Severity(severity)
	return r, nil
}

var _ Store = (*PostgresStore)(nil)
