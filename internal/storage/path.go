package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildDatasetObjectKey returns <prefix>/<table>.parquet. Every prefix
// segment and the table name must be a plain path component.
func BuildDatasetObjectKey(prefix, tableName string) (string, error) {
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	segments := make([]string, 0)
	for _, segment := range strings.Split(strings.Trim(strings.TrimSpace(prefix), "/"), "/") {
		if segment == "" {
			continue
		}
		if err := validatePathComponent(segment, "dataset prefix"); err != nil {
			return "", err
		}
		segments = append(segments, segment)
	}
	segments = append(segments, tableName+".parquet")
	return path.Join(segments...), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) || strings.Contains(value, "..") {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
