package sla

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists ticket data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ticket store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const ticketColumns = `id, account_id, subject, priority, status,
		first_response_at, sla_breached_at, escalation_count, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Ticket) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO support_tickets (
			id, account_id, subject, priority, status,
			first_response_at, sla_breached_at, escalation_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.AccountID, t.Subject, string(t.Priority), string(t.Status),
		nullTime(t.FirstResponseAt), nullTime(t.SLABreachedAt), t.EscalationCount,
		t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Ticket, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM support_tickets WHERE id = $1`, id)
	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, ErrTicketNotFound
	}
	return t, err
}

func (p *PostgresStore) Update(ctx context.Context, t *Ticket) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE support_tickets SET
			priority = $1, status = $2, first_response_at = $3,
			sla_breached_at = $4, escalation_count = $5, updated_at = $6
		WHERE id = $7`,
		string(t.Priority), string(t.Status), nullTime(t.FirstResponseAt),
		nullTime(t.SLABreachedAt), t.EscalationCount, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrTicketNotFound
	}
	return nil
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Ticket, error) {
	return p.queryTickets(ctx, `
		SELECT `+ticketColumns+` FROM support_tickets
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
}

func (p *PostgresStore) ListOpen(ctx context.Context, limit int) ([]*Ticket, error) {
	return p.queryTickets(ctx, `
		SELECT `+ticketColumns+` FROM support_tickets
		WHERE status NOT IN ('resolved', 'closed')
		ORDER BY created_at ASC
		LIMIT $1`, limit)
}

func (p *PostgresStore) queryTickets(ctx context.Context, query string, args ...interface{}) ([]*Ticket, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (*Ticket, error) {
	var t Ticket
	var priority, status string
	var firstResponseAt, slaBreachedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.AccountID, &t.Subject, &priority, &status,
		&firstResponseAt, &slaBreachedAt, &t.EscalationCount,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Priority = Priority(priority)
	t.Status = Status(status)
	if firstResponseAt.Valid {
		ts := firstResponseAt.Time
		t.FirstResponseAt = &ts
	}
	if slaBreachedAt.Valid {
		ts := slaBreachedAt.Time
		t.SLABreachedAt = &ts
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
