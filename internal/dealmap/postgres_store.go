package dealmap

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists mappings in a PostgreSQL table so a restarted bridge
// can still resolve deposits for deals created by an earlier process.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS deal_mappings (
    deal_id TEXT PRIMARY KEY,
    contract_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Put(ctx context.Context, dealID, contractID string) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO deal_mappings (deal_id, contract_id)
VALUES ($1, $2)
ON CONFLICT (deal_id) DO UPDATE
SET contract_id = EXCLUDED.contract_id
`, dealID, contractID)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, dealID string) (string, bool, error) {
	row := p.pool.QueryRow(ctx, `
SELECT contract_id
FROM deal_mappings
WHERE deal_id = $1
`, dealID)

	var cid string
	if err := row.Scan(&cid); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return cid, true, nil
}
