package escrow

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists escrow data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const escrowColumns = `id, listing_id, offer_id, buyer_id, seller_id, amount, currency,
		commission, status, payment_ref, dispute_reason, resolved_by,
		released_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_transactions (
			id, listing_id, offer_id, buyer_id, seller_id, amount, currency,
			commission, status, payment_ref, dispute_reason, resolved_by,
			released_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6::NUMERIC(20,2), $7,
			$8::NUMERIC(20,2), $9, $10, $11, $12,
			$13, $14, $15
		)`,
		t.ID, t.ListingID, t.OfferID, t.BuyerID, t.SellerID, t.Amount, t.Currency,
		nullNumeric(t.Commission), string(t.Status), nullString(t.PaymentRef),
		nullString(t.DisputeReason), nullString(t.ResolvedBy),
		nullTime(t.ReleasedAt), t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow_transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	return t, err
}

func (p *PostgresStore) Update(ctx context.Context, t *Transaction) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrow_transactions SET
			commission = $1::NUMERIC(20,2), status = $2, payment_ref = $3,
			dispute_reason = $4, resolved_by = $5, released_at = $6,
			updated_at = $7
		WHERE id = $8`,
		nullNumeric(t.Commission), string(t.Status), nullString(t.PaymentRef),
		nullString(t.DisputeReason), nullString(t.ResolvedBy), nullTime(t.ReleasedAt),
		t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrEscrowNotFound
	}
	return nil
}

func (p *PostgresStore) GetByOffer(ctx context.Context, offerID string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow_transactions WHERE offer_id = $1`, offerID)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	return t, err
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+` FROM escrow_transactions
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (p *PostgresStore) HasActiveForListing(ctx context.Context, listingID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM escrow_transactions
			WHERE listing_id = $1 AND status NOT IN ('released', 'refunded')
		)`, listingID).Scan(&exists)
	return exists, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var t Transaction
	var status string
	var commission, paymentRef, disputeReason, resolvedBy sql.NullString
	var releasedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.ListingID, &t.OfferID, &t.BuyerID, &t.SellerID, &t.Amount, &t.Currency,
		&commission, &status, &paymentRef, &disputeReason, &resolvedBy,
		&releasedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	t.Commission = commission.String
	t.PaymentRef = paymentRef.String
	t.DisputeReason = disputeReason.String
	t.ResolvedBy = resolvedBy.String
	if releasedAt.Valid {
		ts := releasedAt.Time
		t.ReleasedAt = &ts
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullNumeric maps an unset commission to NULL rather than 0.00.
func nullNumeric(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
