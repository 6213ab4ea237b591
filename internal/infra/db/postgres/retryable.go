package postgres

import (
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgconn"
)

// transientPgCodes are Postgres error codes for admin shutdown and
// connection-establishment failure (spec.md §4.1): 57P01-57P03, 08003, 08006.
var transientPgCodes = map[string]bool{
	"57P01": true,
	"57P02": true,
	"57P03": true,
	"08003": true,
	"08006": true,
}

var transientSubstrings = []string{
	"socket hang up",
	"connection reset",
	"connection timed out",
	"econnreset",
	"econnrefused",
	"etimedout",
	"epipe",
}

// IsRetryable classifies an error as a transient connection problem per the
// whitelist in spec.md §4.1. Non-transient errors (constraint violations,
// syntax errors, context cancellation) are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientPgCodes[pgErr.Code]
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		// Any network-level failure (reset, refused, timeout) on a pooled
		// connection is treated as transient; the pool will hand out a
		// fresh connection on the next attempt.
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
