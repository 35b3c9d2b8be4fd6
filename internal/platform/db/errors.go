package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the services branch on.
const (
	codeUndefinedTable  = "42P01"
	codeUniqueViolation = "23505"
)

// IsUndefinedTable reports whether err is Postgres "relation does not exist".
func IsUndefinedTable(err error) bool {
	return hasCode(err, codeUndefinedTable)
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return hasCode(err, codeUniqueViolation)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
