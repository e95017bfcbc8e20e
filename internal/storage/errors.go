package storage

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrNoAggregations reports a statistics response without an aggregation section.
	ErrNoAggregations = errors.New("storage: response has no aggregations")
	// ErrIndexNotFound reports a query against an index or table that does not exist yet.
	ErrIndexNotFound = errors.New("storage: index does not exist")
	// ErrNotConfigured indicates the backend client was not initialised.
	ErrNotConfigured = errors.New("storage: client not configured")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateIdentifier guards table names that are interpolated into SQL.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("storage: invalid table name %q", name)
	}
	return nil
}
