package blocklist

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Checker reports whether a destination number must not be dialed.
type Checker interface {
	IsBlocked(ctx context.Context, number string) (bool, error)
}

// PostgresChecker looks numbers up in the blocked_numbers table.
type PostgresChecker struct {
	db *sql.DB
}

func NewPostgresChecker(db *sql.DB) *PostgresChecker {
	return &PostgresChecker{db: db}
}

func (c *PostgresChecker) IsBlocked(ctx context.Context, number string) (bool, error) {
	var blocked bool
	err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM blocked_numbers WHERE number = $1)`,
		Normalize(number),
	).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("blocklist: lookup: %w", err)
	}
	return blocked, nil
}

// Normalize strips separators so formatting differences cannot dodge the
// blocklist. The leading + is kept; numbers are compared in E.164 shape.
func Normalize(number string) string {
	var b strings.Builder
	for i, r := range number {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MemoryChecker is an in-memory Checker useful for tests.
type MemoryChecker struct {
	blocked map[string]struct{}
}

func NewMemoryChecker(numbers ...string) *MemoryChecker {
	m := &MemoryChecker{blocked: make(map[string]struct{}, len(numbers))}
	for _, n := range numbers {
		m.blocked[Normalize(n)] = struct{}{}
	}
	return m
}

func (m *MemoryChecker) IsBlocked(_ context.Context, number string) (bool, error) {
	_, ok := m.blocked[Normalize(number)]
	return ok, nil
}
