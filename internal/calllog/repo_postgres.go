package calllog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresRepo appends call events to the call_events table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO call_events
			(id, call_control_id, conference_name, type, direction, from_number, to_number, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.CallControlID, e.ConferenceName, e.Type, e.Direction, e.From, e.To, e.UserID, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("calllog: append: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID string, from, to time.Time, limit int) ([]Event, error) {
	q := `
		SELECT id, call_control_id, conference_name, type, direction, from_number, to_number, user_id, created_at
		FROM call_events
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC`
	args := []any{userID, from, to}
	if limit > 0 {
		q += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("calllog: list: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.CallControlID, &e.ConferenceName, &e.Type,
			&e.Direction, &e.From, &e.To, &e.UserID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("calllog: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
