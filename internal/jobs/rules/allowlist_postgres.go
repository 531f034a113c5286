package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresAllowlistService is the default AllowlistService AllowlistChecker
// consults on a cache miss: a direct lookup against the allowlist_entries
// table. An unlisted domain is treated as not allowed (closed by default).
type PostgresAllowlistService struct {
	db *sql.DB
}

func NewPostgresAllowlistService(db *sql.DB) *PostgresAllowlistService {
	return &PostgresAllowlistService{db: db}
}

func (s *PostgresAllowlistService) IsAllowed(ctx context.Context, domain string) (bool, error) {
	var allowed bool
	err := s.db.QueryRowContext(ctx, `SELECT allowed FROM allowlist_entries WHERE domain = $1`, domain).Scan(&allowed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("allowlist lookup: %w", err)
	}
	return allowed, nil
}
