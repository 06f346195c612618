package portfolio

import (
	"context"
	"database/sql"
)

// PostgresStore persists portfolio snapshots in PostgreSQL and reads
// holdings from the asset_holdings table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed portfolio store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, accountID string) (*Snapshot, error) {
	var s Snapshot
	err := p.db.QueryRowContext(ctx, `
		SELECT account_id, total_value, asset_count, recalculated_at
		FROM portfolios WHERE account_id = $1`, accountID).
		Scan(&s.AccountID, &s.TotalValue, &s.AssetCount, &s.RecalculatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPortfolioNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) Upsert(ctx context.Context, s *Snapshot) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO portfolios (account_id, total_value, asset_count, recalculated_at)
		VALUES ($1, $2::NUMERIC(20,2), $3, $4)
		ON CONFLICT (account_id) DO UPDATE SET
			total_value = EXCLUDED.total_value,
			asset_count = EXCLUDED.asset_count,
			recalculated_at = EXCLUDED.recalculated_at`,
		s.AccountID, s.TotalValue, s.AssetCount, s.RecalculatedAt,
	)
	return err
}

func (p *PostgresStore) ListAccountIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT account_id FROM asset_holdings LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *PostgresStore) Holdings(ctx context.Context, accountID string) ([]Holding, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT asset_id, current_value FROM asset_holdings
		WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []Holding
	for rows.Next() {
		var h Holding
		if err := rows.Scan(&h.AssetID, &h.Value); err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}
