package store

import (
	"strings"

	"github.com/google/uuid"
)

// escapeLikePattern escapes LIKE wildcards for use with ESCAPE '\'.
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

func newID() string {
	return uuid.NewString()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// isUniqueViolation reports whether err came from a UNIQUE constraint.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
