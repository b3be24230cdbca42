package db

import (
	"database/sql"
	"strings"
)

// DatabaseGetter returns a database handle. Used to defer retrieval until first use.
type DatabaseGetter func() *sql.DB

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed: unique")
}
