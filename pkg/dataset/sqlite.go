package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

const defaultSQLiteTable = "hybrid_dataset"

var tableNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// SQLiteSource reads reference rows from a table in a SQLite database file.
// Columns are matched by name the same way as CSV headers; other columns are
// ignored. Rows are returned in rowid order.
type SQLiteSource struct {
	Path  string
	Table string
}

func (s *SQLiteSource) Location() string {
	return "sqlite://" + s.Path + "?table=" + s.Table
}

// Rows implements Source.
func (s *SQLiteSource) Rows(ctx context.Context) ([]Row, error) {
	if !tableNameRegex.MatchString(s.Table) {
		return nil, fmt.Errorf("%w: invalid table name %q", ErrCorrupt, s.Table)
	}

	// sql.Open would create a missing database file.
	info, err := os.Stat(s.Path)
	if err != nil {
		return nil, notFound(s.Path, err)
	}
	if info.IsDir() {
		return nil, notFound(s.Path, errors.New("is a directory"))
	}

	db, err := sql.Open("sqlite", s.Path)
	if err != nil {
		return nil, notFound(s.Path, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+s.Table+" ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %w", ErrCorrupt, s.Table, err)
	}
	defer rows.Close()

	out, err := scanSQLRows(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: table %s: %w", ErrCorrupt, s.Table, err)
	}
	return out, nil
}

func scanSQLRows(rows *sql.Rows) ([]Row, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	index := [numColumns]int{-1, -1, -1, -1}
	for i, name := range names {
		if c, ok := lookupColumn(name); ok && index[c] < 0 {
			index[c] = i
		}
	}
	for c, i := range index {
		if i < 0 {
			return nil, fmt.Errorf("missing column %s", columnNames[c])
		}
	}

	values := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range values {
		ptrs[i] = &values[i]
	}

	var out []Row
	for n := 0; rows.Next(); n++ {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("row %d: %w", n, err)
		}

		var row Row
		for c, i := range index {
			v, err := sqlFloat(values[i])
			if err != nil {
				return nil, fmt.Errorf("row %d: %s: %w", n, columnNames[c], err)
			}
			row.set(column(c), v)
		}
		out = append(out, row)
	}

	return out, rows.Err()
}

func sqlFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case nil:
		return 0, errors.New("null value")
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}
