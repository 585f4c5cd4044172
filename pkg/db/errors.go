package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint failure from
// Postgres or sqlite. A non-empty column narrows the match to constraints
// covering that column.
func IsUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code == pgUniqueViolation && mentionsColumn(column, pgxErr.ConstraintName, pgxErr.Detail)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation && mentionsColumn(column, pqErr.Constraint, pqErr.Detail)
	}

	// sqlite: "UNIQUE constraint failed: refund_requests.refund_intent_id"
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return column == "" || strings.Contains(msg, "."+column)
}

func mentionsColumn(column string, fields ...string) bool {
	if column == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(f, column) {
			return true
		}
	}
	return false
}
