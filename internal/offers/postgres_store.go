package offers

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists offer data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed offer store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const offerColumns = `id, listing_id, account_id, amount, currency, status,
		message, expires_at, warned_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, o *Offer) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO offers (
			id, listing_id, account_id, amount, currency, status,
			message, expires_at, warned_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4::NUMERIC(20,2), $5, $6,
			$7, $8, $9, $10, $11
		)`,
		o.ID, o.ListingID, o.AccountID, o.Amount, o.Currency, string(o.Status),
		nullString(o.Message), o.ExpiresAt, nullTime(o.WarnedAt), o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Offer, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)
	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, ErrOfferNotFound
	}
	return o, err
}

func (p *PostgresStore) Update(ctx context.Context, o *Offer) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE offers SET
			status = $1, message = $2, expires_at = $3,
			warned_at = $4, updated_at = $5
		WHERE id = $6`,
		string(o.Status), nullString(o.Message), o.ExpiresAt,
		nullTime(o.WarnedAt), o.UpdatedAt, o.ID,
	)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrOfferNotFound
	}
	return nil
}

func (p *PostgresStore) ListByListing(ctx context.Context, listingID string, status string, limit int) ([]*Offer, error) {
	return p.listBy(ctx, "listing_id", listingID, status, limit)
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string, status string, limit int) ([]*Offer, error) {
	return p.listBy(ctx, "account_id", accountID, status, limit)
}

func (p *PostgresStore) listBy(ctx context.Context, column, value, status string, limit int) ([]*Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE ` + column + ` = $1`
	args := []interface{}{value}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	return p.queryOffers(ctx, query, args...)
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Offer, error) {
	return p.queryOffers(ctx, `
		SELECT `+offerColumns+` FROM offers
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2`, before, limit)
}

func (p *PostgresStore) ListExpiringUnwarned(ctx context.Context, from, to time.Time, limit int) ([]*Offer, error) {
	return p.queryOffers(ctx, `
		SELECT `+offerColumns+` FROM offers
		WHERE status = 'pending' AND warned_at IS NULL
		  AND expires_at > $1 AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3`, from, to, limit)
}

func (p *PostgresStore) queryOffers(ctx context.Context, query string, args ...interface{}) ([]*Offer, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOffer(row rowScanner) (*Offer, error) {
	var o Offer
	var status string
	var message sql.NullString
	var warnedAt sql.NullTime

	err := row.Scan(
		&o.ID, &o.ListingID, &o.AccountID, &o.Amount, &o.Currency, &status,
		&message, &o.ExpiresAt, &warnedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = Status(status)
	o.Message = message.String
	if warnedAt.Valid {
		t := warnedAt.Time
		o.WarnedAt = &t
	}
	return &o, nil
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
