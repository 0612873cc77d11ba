package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Strob0t/VPNForge/internal/domain"
)

// SQLSTATE codes mapped to domain errors.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// constraints whose violation means an allocation race was lost.
var allocationConstraints = map[string]bool{
	"tenants_listen_port_key":         true,
	"tenants_subnet_cidr_key":         true,
	"tenant_networks_subnet_cidr_key": true,
	"subnet_in_use":                   true,
}

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// nullIfEmpty returns nil for empty strings (for nullable columns).
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// orEmpty returns items unchanged if non-nil, or an empty slice if nil.
// Useful to ensure JSON serialization produces [] instead of null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// notFoundWrap checks whether err is pgx.ErrNoRows and, if so, wraps
// notFound with the given message. Otherwise it wraps the original error.
func notFoundWrap(err, notFound error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, notFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// execExpectOne verifies that an Exec affected exactly one row. If not
// (and err is nil), it returns notFound with the given message.
func execExpectOne(tag pgconn.CommandTag, err, notFound error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", msg, constraintErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", msg, notFound)
	}
	return nil
}

// constraintErr translates integrity violations into domain errors and
// returns other errors unchanged.
func constraintErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		if allocationConstraints[pgErr.ConstraintName] {
			return fmt.Errorf("%w: %s", domain.ErrResourceConflict, pgErr.Message)
		}
		return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.Message)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %s", domain.ErrTenantNotFound, pgErr.Message)
	}
	return err
}
