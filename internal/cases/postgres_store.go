package cases

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/wardlabs/ward/internal/rules"
)

// PostgresStore persists cases in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed case store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const caseColumns = `id, decision_id, checkpoint, priority, status, resolution, assignee,
	rule_ids, notes, created_at, updated_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, c *Case) error {
	notes, err := json.Marshal(c.Notes)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO cases (id, decision_id, checkpoint, priority, status, resolution, assignee,
			rule_ids, notes, created_at, updated_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.DecisionID, string(c.Checkpoint), string(c.Priority), string(c.Status),
		string(c.Resolution), c.Assignee, pq.Array(c.RuleIDs), notes,
		c.CreatedAt, c.UpdatedAt, c.ResolvedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Case, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE id = $1`, id)
	return scanCase(row)
}

func (p *PostgresStore) List(ctx context.Context, q Query) ([]*Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE 1=1`
	var args []any
	if q.Status != "" {
		args = append(args, string(q.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if q.Priority != "" {
		args = append(args, string(q.Priority))
		query += fmt.Sprintf(" AND priority = $%d", len(args))
	}
	if q.Checkpoint != "" {
		args = append(args, string(q.Checkpoint))
		query += fmt.Sprintf(" AND checkpoint = $%d", len(args))
	}
	if q.Assignee != "" {
		args = append(args, q.Assignee)
		query += fmt.Sprintf(" AND assignee = $%d", len(args))
	}
	if q.Cursor != nil {
		args = append(args, q.Cursor.CreatedAt, q.Cursor.ID)
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, c *Case) error {
	notes, err := json.Marshal(c.Notes)
	if err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE cases
		SET status = $1, resolution = $2, assignee = $3, notes = $4, updated_at = $5, resolved_at = $6
		WHERE id = $7`,
		string(c.Status), string(c.Resolution), c.Assignee, notes, c.UpdatedAt, c.ResolvedAt, c.ID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCaseNotFound
	}
	return nil
}

// Migrate creates the cases table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cases (
			id          TEXT PRIMARY KEY,
			decision_id TEXT NOT NULL,
			checkpoint  TEXT NOT NULL,
			priority    TEXT NOT NULL,
			status      TEXT NOT NULL,
			resolution  TEXT NOT NULL DEFAULT '',
			assignee    TEXT NOT NULL DEFAULT '',
			rule_ids    TEXT[] NOT NULL DEFAULT '{}',
			notes       JSONB NOT NULL DEFAULT '[]',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_cases_status_priority ON cases(status, priority);
		CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases(created_at DESC, id DESC);
	`)
	return err
}

func scanCase(row interface{ Scan(dest ...any) error }) (*Case, error) {
	c := &Case{}
	var checkpoint, priority, status, resolution string
	var notes []byte
	var ruleIDs pq.StringArray
	err := row.Scan(&c.ID, &c.DecisionID, &checkpoint, &priority, &status, &resolution,
		&c.Assignee, &ruleIDs, &notes, &c.CreatedAt, &c.UpdatedAt, &c.ResolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(notes, &c.Notes); err != nil {
		return nil, fmt.Errorf("corrupt notes for case %s: %w", c.ID, err)
	}
	c.RuleIDs = []string(ruleIDs)
	c.Checkpoint = rules.Checkpoint(checkpoint)
	c.Priority = rules.Severity(priority)
	c.Status = Status(status)
	c.Resolution = Resolution(resolution)
	return c, nil
}

var _ Store = (*PostgresStore)(nil)
