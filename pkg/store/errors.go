package store

import (
	"errors"
	"fmt"

	"vapidispatch/pkg/apperr"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// ErrTenantRequired is returned before any query runs when the tenant id is
// blank.
var ErrTenantRequired = apperr.Validation("Your account could not be determined. Please sign in again.", errors.New("store: tenant scope required"))

// ErrStaleUpdate means the row changed since it was read, or was not in the
// expected status.
var ErrStaleUpdate = apperr.Validation("That update was changed by someone else. Please try again.", errors.New("store: stale progress update"))

// classify maps gorm and Postgres errors onto the caller-facing kinds.
func classify(op string, err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(notFoundMsg, fmt.Errorf("%s: %w", op, err))
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperr.Validation("That record already exists.", fmt.Errorf("%s: %w", op, err))
		case pgForeignKeyViolation:
			return apperr.Validation("A referenced record does not exist.", fmt.Errorf("%s: %w", op, err))
		case pgCheckViolation:
			return apperr.Validation("Some details were not valid.", fmt.Errorf("%s: %w", op, err))
		}
	}
	return apperr.Upstream("I couldn't reach the database. Please try again.", fmt.Errorf("%s: %w", op, err))
}
