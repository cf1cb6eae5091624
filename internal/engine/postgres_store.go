package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/wardlabs/ward/internal/rules"
)

// PostgresDecisionStore persists the decision audit log in PostgreSQL.
type PostgresDecisionStore struct {
	db *sql.DB
}

// NewPostgresDecisionStore creates a new PostgreSQL-backed decision store.
func NewPostgresDecisionStore(db *sql.DB) *PostgresDecisionStore {
	return &PostgresDecisionStore{db: db}
}

const decisionColumns = `id, checkpoint, action, risk_score, confidence, triggered_rules,
	shadow_rules, reasons, evidence_gaps, rules_evaluated, latency_us, dry_run, created_at`

func (p *PostgresDecisionStore) Record(ctx context.Context, d *Decision) error {
	triggered, err := json.Marshal(d.TriggeredRules)
	if err != nil {
		return err
	}
	shadow, err := json.Marshal(d.ShadowRules)
	if err != nil {
		return err
	}
	reasons, err := json.Marshal(d.Reasons)
	if err != nil {
		return err
	}
	gaps, err := json.Marshal(d.EvidenceGaps)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO decisions (id, checkpoint, action, risk_score, confidence, triggered_rules,
			shadow_rules, reasons, evidence_gaps, rules_evaluated, latency_us, dry_run, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		d.ID, string(d.Checkpoint), string(d.Action), d.RiskScore, d.Confidence,
		triggered, shadow, reasons, gaps, d.RulesEvaluated, d.LatencyUs, d.DryRun, d.CreatedAt,
	)
	return err
}

func (p *PostgresDecisionStore) Get(ctx context.Context, id string) (*Decision, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = $1`, id)
	return scanDecision(row)
}

func (p *PostgresDecisionStore) List(ctx context.Context, q DecisionQuery) ([]*Decision, error) {
	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + decisionColumns + ` FROM decisions WHERE 1=1`
	var args []any
	if q.Checkpoint != "" {
		args = append(args, string(q.Checkpoint))
		query += fmt.Sprintf(" AND checkpoint = $%d", len(args))
	}
	if q.Action != "" {
		args = append(args, string(q.Action))
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// Migrate creates the decisions table if it doesn't exist.
func (p *PostgresDecisionStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS decisions (
			id              TEXT PRIMARY KEY,
			checkpoint      TEXT NOT NULL,
			action          TEXT NOT NULL,
			risk_score      INTEGER NOT NULL,
			confidence      DOUBLE PRECISION NOT NULL,
			triggered_rules JSONB NOT NULL DEFAULT '[]',
			shadow_rules    JSONB NOT NULL DEFAULT '[]',
			reasons         JSONB NOT NULL DEFAULT '[]',
			evidence_gaps   JSONB NOT NULL DEFAULT '[]',
			rules_evaluated INTEGER NOT NULL DEFAULT 0,
			latency_us      BIGINT NOT NULL DEFAULT 0,
			dry_run         BOOLEAN NOT NULL DEFAULT FALSE,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_decisions_checkpoint_action ON decisions(checkpoint, action);
		CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions(created_at DESC);
	`)
	return err
}

func scanDecision(row interface{ Scan(dest ...any) error }) (*Decision, error) {
	d := &Decision{}
	var checkpoint, action string
	var triggered, shadow, reasons, gaps []byte
	err := row.Scan(&d.ID, &checkpoint, &action, &d.RiskScore, &d.Confidence,
		&triggered, &shadow, &reasons, &gaps,
		&d.RulesEvaluated, &d.LatencyUs, &d.DryRun, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDecisionNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(triggered, &d.TriggeredRules); err != nil {
		return nil, fmt.Errorf("corrupt triggered_rules for decision %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(shadow, &d.ShadowRules); err != nil {
		return nil, fmt.Errorf("corrupt shadow_rules for decision %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(reasons, &d.Reasons); err != nil {
		return nil, fmt.Errorf("corrupt reasons for decision %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(gaps, &d.EvidenceGaps); err != nil {
		return nil, fmt.Errorf("corrupt evidence_gaps for decision %s: %w", d.ID, err)
	}
	d.Checkpoint = rules.Checkpoint(checkpoint)
	d.Action = rules.Action(action)
	return d, nil
}

var _ DecisionStore = (*PostgresDecisionStore)(nil)
