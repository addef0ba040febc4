package assignments

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TimurManjosov/gopaywall/internal/campaign"
)

// schema is applied at startup. Confirmed assignments are one row per
// (user, experiment); the variant's fields are flattened into columns.
const schema = `
CREATE TABLE IF NOT EXISTS confirmed_assignments (
	user_id       TEXT NOT NULL,
	experiment_id TEXT NOT NULL,
	variant_id    TEXT NOT NULL,
	variant_type  TEXT NOT NULL,
	paywall_id    TEXT,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, experiment_id)
)`

// PostgresPersistence is a PostgreSQL implementation of Persistence.
type PostgresPersistence struct {
	pool *pgxpool.Pool
}

// NewPostgresPersistence connects a pool and ensures the schema exists.
func NewPostgresPersistence(ctx context.Context, dsn string) (*PostgresPersistence, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure assignments schema: %w", err)
	}

	return &PostgresPersistence{pool: pool}, nil
}

// LoadConfirmed reads every confirmed assignment row for the user.
func (p *PostgresPersistence) LoadConfirmed(ctx context.Context, userID string) (map[string]campaign.Variant, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT experiment_id, variant_id, variant_type, paywall_id
		 FROM confirmed_assignments WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query confirmed assignments: %w", err)
	}
	defer rows.Close()

	confirmed := make(map[string]campaign.Variant)
	for rows.Next() {
		var experimentID, variantID, variantType string
		var paywallID *string
		if err := rows.Scan(&experimentID, &variantID, &variantType, &paywallID); err != nil {
			return nil, fmt.Errorf("scan confirmed assignment: %w", err)
		}
		confirmed[experimentID] = campaign.Variant{
			ID:        variantID,
			Type:      campaign.VariantType(variantType),
			PaywallID: paywallID,
		}
	}
	return confirmed, rows.Err()
}

// SaveConfirmed replaces the user's rows with the given mapping in one
// transaction.
func (p *PostgresPersistence) SaveConfirmed(ctx context.Context, userID string, confirmed map[string]campaign.Variant) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin save confirmed: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM confirmed_assignments WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear confirmed assignments: %w", err)
	}
	for experimentID, variant := range confirmed {
		_, err := tx.Exec(ctx,
			`INSERT INTO confirmed_assignments (user_id, experiment_id, variant_id, variant_type, paywall_id)
			 VALUES ($1, $2, $3, $4, $5)`,
			userID, experimentID, variant.ID, string(variant.Type), variant.PaywallID)
		if err != nil {
			return fmt.Errorf("insert confirmed assignment: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// DeleteConfirmed removes every row for the user.
func (p *PostgresPersistence) DeleteConfirmed(ctx context.Context, userID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM confirmed_assignments WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete confirmed assignments: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *PostgresPersistence) Close() error {
	p.pool.Close()
	return nil
}
