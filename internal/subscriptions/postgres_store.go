package subscriptions

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists subscription data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const subscriptionColumns = `id, account_id, plan, status, billing_ref,
		period_start, period_end, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, s *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, account_id, plan, status, billing_ref,
			period_start, period_end, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.AccountID, string(s.Plan), string(s.Status), nullString(s.BillingRef),
		s.PeriodStart, s.PeriodEnd, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	s, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	return s, err
}

func (p *PostgresStore) Update(ctx context.Context, s *Subscription) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE subscriptions SET
			plan = $1, status = $2, billing_ref = $3,
			period_start = $4, period_end = $5, updated_at = $6
		WHERE id = $7`,
		string(s.Plan), string(s.Status), nullString(s.BillingRef),
		s.PeriodStart, s.PeriodEnd, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (p *PostgresStore) GetActiveByAccount(ctx context.Context, accountID string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE account_id = $1 AND status IN ('active', 'past_due')
		ORDER BY created_at DESC
		LIMIT 1`, accountID)
	s, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	return s, err
}

func (p *PostgresStore) ListDueForReconcile(ctx context.Context, before time.Time, limit int) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE plan IN ('monthly', 'annual')
		  AND status IN ('active', 'past_due')
		  AND period_end < $1
		ORDER BY period_end ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	var s Subscription
	var plan, status string
	var billingRef sql.NullString

	err := row.Scan(
		&s.ID, &s.AccountID, &plan, &status, &billingRef,
		&s.PeriodStart, &s.PeriodEnd, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Plan = Plan(plan)
	s.Status = Status(status)
	s.BillingRef = billingRef.String
	return &s, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
