package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/records/internal/platform/apperr"
)

// Postgres SQLSTATE codes surfaced as conflicts.
const (
	codeForeignKeyViolation = "23503"
	codeUniqueViolation     = "23505"
)

// MapError wraps a store error with op. Foreign key and unique violations
// become apperr.ConstraintError so handlers answer 409.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeForeignKeyViolation:
			return apperr.Constraint("%s: referenced row no longer exists (%s)", op, pgErr.ConstraintName)
		case codeUniqueViolation:
			return apperr.Constraint("%s: duplicate value violates %s", op, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
