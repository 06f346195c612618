package notify

import (
	"context"
	"database/sql"
)

// PostgresStore persists notifications in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed notification store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, n *Notification) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notifications (id, account_id, type, title, message, read_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.AccountID, string(n.Type), n.Title, n.Message, n.ReadAt, n.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Notification, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, account_id, type, title, message, read_at, created_at
		FROM notifications
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Notification
	for rows.Next() {
		var n Notification
		var typ string
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.AccountID, &typ, &n.Title, &n.Message, &readAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Type = Type(typ)
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		result = append(result, &n)
	}
	return result, rows.Err()
}

func (p *PostgresStore) MarkRead(ctx context.Context, id, accountID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = NOW()
		WHERE id = $1 AND account_id = $2 AND read_at IS NULL`,
		id, accountID,
	)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		// Either missing, not owned by the account, or already read.
		var exists bool
		err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1 AND account_id = $2)`,
			id, accountID,
		).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotificationNotFound
		}
	}
	return nil
}
