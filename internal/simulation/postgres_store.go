package simulation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/wardlabs/ward/internal/rules"
)

// PostgresCorpusStore persists the replay corpus in PostgreSQL.
type PostgresCorpusStore struct {
	db *sql.DB
}

// NewPostgresCorpusStore creates a new PostgreSQL-backed corpus store.
func NewPostgresCorpusStore(db *sql.DB) *PostgresCorpusStore {
	return &PostgresCorpusStore{db: db}
}

func (p *PostgresCorpusStore) Add(ctx context.Context, r *Record) error {
	attrs, err := json.Marshal(r.Attributes)
	if err != nil {
		return err
	}
	scores, err := json.Marshal(r.ModelScores)
	if err != nil {
		return err
	}
	datasets, err := json.Marshal(r.Datasets)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO corpus_records (id, checkpoint, attributes, model_scores, datasets, fraud_label, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, string(r.Checkpoint), attrs, scores, datasets, r.FraudLabel, r.OccurredAt,
	)
	return err
}

func (p *PostgresCorpusStore) List(ctx context.Context, q CorpusQuery) ([]*Record, error) {
	query := `SELECT id, checkpoint, attributes, model_scores, datasets, fraud_label, occurred_at
		FROM corpus_records WHERE 1=1`
	var args []any
	if q.Checkpoint != "" {
		args = append(args, string(q.Checkpoint))
		query += fmt.Sprintf(" AND checkpoint = $%d", len(args))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		query += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
	}
	// Stable replay order regardless of physical row order.
	query += ` ORDER BY occurred_at ASC, id ASC`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		r := &Record{}
		var checkpoint string
		var attrs, scores, datasets []byte
		if err := rows.Scan(&r.ID, &checkpoint, &attrs, &scores, &datasets, &r.FraudLabel, &r.OccurredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(attrs, &r.Attributes); err != nil {
			return nil, fmt.Errorf("corrupt attributes for record %s: %w", r.ID, err)
		}
		if err := json.Unmarshal(scores, &r.ModelScores); err != nil {
			return nil, fmt.Errorf("corrupt model_scores for record %s: %w", r.ID, err)
		}
		if err := json.Unmarshal(datasets, &r.Datasets); err != nil {
			return nil, fmt.Errorf("corrupt datasets for record %s: %w", r.ID, err)
		}
		r.Checkpoint = rules.Checkpoint(checkpoint)
		result = append(result, r)
	}
	return result, rows.Err()
}

func (p *PostgresCorpusStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM corpus_records`).Scan(&n)
	return n, err
}

// Migrate creates the corpus table if it doesn't exist.
func (p *PostgresCorpusStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS corpus_records (
			id           TEXT PRIMARY KEY,
			checkpoint   TEXT NOT NULL,
			attributes   JSONB NOT NULL DEFAULT '{}',
			model_scores JSONB NOT NULL DEFAULT '{}',
			datasets     JSONB NOT NULL DEFAULT '{}',
			fraud_label  BOOLEAN,
			occurred_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_corpus_checkpoint_occurred ON corpus_records(checkpoint, occurred_at);
	`)
	return err
}

var _ CorpusStore = (*PostgresCorpusStore)(nil)
