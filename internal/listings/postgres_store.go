package listings

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists listing data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed listing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const listingColumns = `id, account_id, asset_id, title, description,
		asking_price, currency, listing_fee, listing_fee_paid, status,
		approved_by, approved_at, reject_reason, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, l *Listing) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO marketplace_listings (
			id, account_id, asset_id, title, description,
			asking_price, currency, listing_fee, listing_fee_paid, status,
			approved_by, approved_at, reject_reason, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::NUMERIC(20,2), $7, $8::NUMERIC(20,2), $9, $10,
			$11, $12, $13, $14, $15
		)`,
		l.ID, l.AccountID, l.AssetID, l.Title, nullString(l.Description),
		l.AskingPrice, l.Currency, l.ListingFee, l.ListingFeePaid, string(l.Status),
		nullString(l.ApprovedBy), nullTime(l.ApprovedAt), nullString(l.RejectReason),
		l.CreatedAt, l.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Listing, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM marketplace_listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, ErrListingNotFound
	}
	return l, err
}

func (p *PostgresStore) Update(ctx context.Context, l *Listing) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE marketplace_listings SET
			title = $1, description = $2, asking_price = $3::NUMERIC(20,2),
			listing_fee_paid = $4, status = $5, approved_by = $6,
			approved_at = $7, reject_reason = $8, updated_at = $9
		WHERE id = $10`,
		l.Title, nullString(l.Description), l.AskingPrice,
		l.ListingFeePaid, string(l.Status), nullString(l.ApprovedBy),
		nullTime(l.ApprovedAt), nullString(l.RejectReason), l.UpdatedAt,
		l.ID,
	)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrListingNotFound
	}
	return nil
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string, status string, limit int) ([]*Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM marketplace_listings WHERE account_id = $1`
	args := []interface{}{accountID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	return p.queryListings(ctx, query, args...)
}

func (p *PostgresStore) ListLive(ctx context.Context, limit int) ([]*Listing, error) {
	return p.queryListings(ctx, `
		SELECT `+listingColumns+` FROM marketplace_listings
		WHERE status = 'active'
		ORDER BY created_at DESC
		LIMIT $1`, limit)
}

func (p *PostgresStore) SearchLive(ctx context.Context, query string, limit int) ([]*Listing, error) {
	return p.queryListings(ctx, `
		SELECT `+listingColumns+` FROM marketplace_listings
		WHERE status = 'active'
		  AND (title ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%')
		ORDER BY created_at DESC
		LIMIT $2`, query, limit)
}

func (p *PostgresStore) ListActiveOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Listing, error) {
	return p.queryListings(ctx, `
		SELECT `+listingColumns+` FROM marketplace_listings
		WHERE status = 'active' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, cutoff, limit)
}

func (p *PostgresStore) queryListings(ctx context.Context, query string, args ...interface{}) ([]*Listing, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row rowScanner) (*Listing, error) {
	var l Listing
	var status string
	var description, approvedBy, rejectReason sql.NullString
	var approvedAt sql.NullTime

	err := row.Scan(
		&l.ID, &l.AccountID, &l.AssetID, &l.Title, &description,
		&l.AskingPrice, &l.Currency, &l.ListingFee, &l.ListingFeePaid, &status,
		&approvedBy, &approvedAt, &rejectReason, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Status = Status(status)
	l.Description = description.String
	l.ApprovedBy = approvedBy.String
	l.RejectReason = rejectReason.String
	if approvedAt.Valid {
		t := approvedAt.Time
		l.ApprovedAt = &t
	}
	return &l, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
