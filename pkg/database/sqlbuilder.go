package database

import (
	"fmt"
	"strings"
)

// OnConflictIncrement renders an upsert suffix that bumps column by one on a key
// collision and refreshes the listed columns from the rejected row.
func OnConflictIncrement(table string, conflictColumns []string, column string, refresh ...string) string {
	sets := make([]string, 0, len(refresh)+1)
	sets = append(sets, fmt.Sprintf("%s = %s.%s + 1", column, table, column))
	for _, col := range refresh {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s",
		strings.Join(conflictColumns, ", "), strings.Join(sets, ", "))
}

// OnConflictDoNothing renders an insert-if-absent suffix for the given key.
func OnConflictDoNothing(conflictColumns ...string) string {
	return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(conflictColumns, ", "))
}

// Returning renders a RETURNING clause. Both PostgreSQL and SQLite (3.35+) support it.
func Returning(columns ...string) string {
	return " RETURNING " + strings.Join(columns, ", ")
}
