package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects SQL flavor differences between the supported engines.
type Dialect string

// Supported dialects
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// driverName returns the database/sql driver registered for d.
func (d Dialect) driverName() (string, error) {
	switch d {
	case DialectSQLite:
		return "sqlite", nil
	case DialectPostgres:
		return "pgx", nil
	}
	return "", fmt.Errorf("unsupported dialect %q", d)
}

// rebind rewrites ? placeholders to $n for postgres.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// schema returns the DDL statements, one per Exec.
func (d Dialect) schema() []string {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	realType := "REAL"
	if d == DialectPostgres {
		idColumn = "id BIGSERIAL PRIMARY KEY"
		realType = "DOUBLE PRECISION"
	}

	// Timestamps are unix nanoseconds so both engines compare them the same way.
	return []string{
		`CREATE TABLE IF NOT EXISTS audio_records (
			` + idColumn + `,
			original_filename TEXT NOT NULL,
			stored_filename TEXT NOT NULL,
			file_path TEXT NOT NULL,
			size_bytes BIGINT NOT NULL,
			duration_seconds ` + realType + `,
			format TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error_message TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			processed_at BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audio_records_status ON audio_records(status, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_audio_records_created_at ON audio_records(created_at)`,
		`CREATE TABLE IF NOT EXISTS stage_results (
			audio_id BIGINT NOT NULL REFERENCES audio_records(id) ON DELETE CASCADE,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT,
			error_detail TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (audio_id, stage)
		)`,
	}
}
