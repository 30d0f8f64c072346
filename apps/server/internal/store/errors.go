package store

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique or primary key conflict
// from either backend.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
