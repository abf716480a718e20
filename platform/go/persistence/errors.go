package persistence

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates a missing (or invisible to the bound org) record.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("record conflict")
	// ErrTransient marks failures that may succeed when retried (lock contention, lost connections).
	ErrTransient = errors.New("transient database failure")
	// ErrRowSecurity indicates a write rejected by a row level security policy or missing privilege.
	ErrRowSecurity = errors.New("row security violation")
	// ErrImmutable indicates an attempt to modify an append-only record.
	ErrImmutable = errors.New("record is immutable")
	// ErrSlugTaken indicates that another organization already owns the slug.
	ErrSlugTaken = errors.New("organization slug is already taken")
	// ErrNoOrgContext is returned when a tenant-scoped transaction is requested without an org id.
	ErrNoOrgContext = errors.New("organization context is required")
)

// mapPostgresError classifies PostgreSQL errors into the package sentinels while keeping the cause.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %s: %w", ErrConflict, pgErr.ConstraintName, err)

	case pgerrcode.InsufficientPrivilege:
		return fmt.Errorf("%w: %w", ErrRowSecurity, err)

	case pgerrcode.ObjectNotInPrerequisiteState:
		return fmt.Errorf("%w: %w", ErrImmutable, err)

	case pgerrcode.SerializationFailure,
		pgerrcode.DeadlockDetected,
		pgerrcode.LockNotAvailable,
		pgerrcode.ConnectionException,
		pgerrcode.ConnectionDoesNotExist,
		pgerrcode.ConnectionFailure,
		pgerrcode.CannotConnectNow,
		pgerrcode.SQLClientUnableToEstablishSQLConnection,
		pgerrcode.AdminShutdown,
		pgerrcode.TooManyConnections:
		return fmt.Errorf("%w: %w", ErrTransient, err)

	default:
		return fmt.Errorf("postgres error [%s]: %s: %w", pgErr.Code, pgErr.Message, err)
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	return errors.Is(mapPostgresError(err), ErrTransient)
}
