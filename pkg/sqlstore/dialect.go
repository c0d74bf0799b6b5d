package sqlstore

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/orneryd/vertexdb/pkg/sqlstore/migrations"
	"github.com/orneryd/vertexdb/pkg/storage"
)

// Dialect names a supported SQL engine.
type Dialect string

const (
	// Postgres runs against PostgreSQL through pgx.
	Postgres Dialect = "postgres"
	// SQLite runs against an embedded SQLite file through modernc.org/sqlite.
	SQLite Dialect = "sqlite"
)

// ParseDialect accepts the dialect names used in configuration.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unknown SQL dialect %q", s)
}

// dialect hides the SQL differences between engines. Queries are written
// with ? placeholders and rebound before execution.
type dialect interface {
	gooseDialect() string
	migrations() (fs.FS, error)
	rebind(query string) string

	// idParam is the placeholder expression for a vertex id operand.
	idParam() string
	// valueParam is the placeholder expression for a JSON property value.
	valueParam() string
	// numberParam is the placeholder expression for a float operand.
	numberParam() string

	// idList returns a row source with columns (id, ord) built from a
	// single parameter, and that parameter.
	idList(ids []uuid.UUID) (string, any, error)
	// keyList returns a row source with columns
	// (outbound_id, type, inbound_id, ord) built from a single parameter.
	keyList(keys []storage.EdgeKey) (string, any, error)

	// predicate renders p against the JSON column col.
	predicate(col string, p storage.Predicate) (string, []any, error)
}

func dialectFor(d Dialect) (dialect, error) {
	switch d {
	case Postgres:
		return postgresDialect{}, nil
	case SQLite:
		return sqliteDialect{}, nil
	}
	return nil, fmt.Errorf("unknown SQL dialect %q", d)
}

type keyListEntry struct {
	Out  uuid.UUID    `json:"o"`
	Type storage.Type `json:"t"`
	In   uuid.UUID    `json:"i"`
}

func encodeKeyList(keys []storage.EdgeKey) (string, error) {
	entries := make([]keyListEntry, len(keys))
	for i, k := range keys {
		entries[i] = keyListEntry{Out: k.OutboundID, Type: k.Type, In: k.InboundID}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ============================================================================
// PostgreSQL
// ============================================================================

type postgresDialect struct{}

func (postgresDialect) gooseDialect() string { return "postgres" }

func (postgresDialect) migrations() (fs.FS, error) { return fs.Sub(migrations.FS, "postgres") }

func (postgresDialect) rebind(query string) string {
	var sb strings.Builder
	sb.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

func (postgresDialect) idParam() string     { return "CAST(? AS uuid)" }
func (postgresDialect) valueParam() string  { return "CAST(? AS jsonb)" }
func (postgresDialect) numberParam() string { return "CAST(? AS double precision)" }

func (postgresDialect) idList(ids []uuid.UUID) (string, any, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	src := "SELECT u.id, u.ord FROM unnest(CAST(? AS uuid[])) WITH ORDINALITY AS u(id, ord)"
	return src, "{" + strings.Join(parts, ",") + "}", nil
}

func (postgresDialect) keyList(keys []storage.EdgeKey) (string, any, error) {
	arg, err := encodeKeyList(keys)
	if err != nil {
		return "", nil, err
	}
	src := "SELECT CAST(k.x->>'o' AS uuid) AS outbound_id, k.x->>'t' AS type, " +
		"CAST(k.x->>'i' AS uuid) AS inbound_id, k.ord " +
		"FROM jsonb_array_elements(CAST(? AS jsonb)) WITH ORDINALITY AS k(x, ord)"
	return src, arg, nil
}

func (d postgresDialect) predicate(col string, p storage.Predicate) (string, []any, error) {
	switch p := p.(type) {
	case storage.ExistsPredicate:
		return "TRUE", nil, nil
	case storage.EqualsPredicate:
		canon, err := p.Canonical()
		if err != nil {
			return "", nil, err
		}
		return col + " = " + d.valueParam(), []any{string(canon)}, nil
	case storage.ComparePredicate:
		// The CASE keeps the cast away from non-numeric values.
		expr := fmt.Sprintf("jsonb_typeof(%[1]s) = 'number' AND "+
			"(CASE WHEN jsonb_typeof(%[1]s) = 'number' THEN CAST(%[1]s #>> '{}' AS double precision) END) %[2]s %[3]s",
			col, p.Op, d.numberParam())
		return expr, []any{p.Operand}, nil
	case storage.ContainsPredicate:
		expr := fmt.Sprintf("jsonb_typeof(%[1]s) = 'string' AND strpos(%[1]s #>> '{}', ?) > 0", col)
		return expr, []any{p.Substring}, nil
	}
	return "", nil, fmt.Errorf("%w: unsupported predicate %T", storage.ErrInvalidQuery, p)
}

// ============================================================================
// SQLite
// ============================================================================

type sqliteDialect struct{}

func (sqliteDialect) gooseDialect() string { return "sqlite3" }

func (sqliteDialect) migrations() (fs.FS, error) { return fs.Sub(migrations.FS, "sqlite") }

func (sqliteDialect) rebind(query string) string { return query }

func (sqliteDialect) idParam() string     { return "?" }
func (sqliteDialect) valueParam() string  { return "?" }
func (sqliteDialect) numberParam() string { return "?" }

func (sqliteDialect) idList(ids []uuid.UUID) (string, any, error) {
	data, err := json.Marshal(ids)
	if err != nil {
		return "", nil, err
	}
	return "SELECT j.value AS id, j.key AS ord FROM json_each(?) AS j", string(data), nil
}

func (sqliteDialect) keyList(keys []storage.EdgeKey) (string, any, error) {
	arg, err := encodeKeyList(keys)
	if err != nil {
		return "", nil, err
	}
	src := "SELECT json_extract(k.value, '$.o') AS outbound_id, json_extract(k.value, '$.t') AS type, " +
		"json_extract(k.value, '$.i') AS inbound_id, k.key AS ord FROM json_each(?) AS k"
	return src, arg, nil
}

func (sqliteDialect) predicate(col string, p storage.Predicate) (string, []any, error) {
	switch p := p.(type) {
	case storage.ExistsPredicate:
		return "1", nil, nil
	case storage.EqualsPredicate:
		canon, err := p.Canonical()
		if err != nil {
			return "", nil, err
		}
		// Stored values are canonical text.
		return col + " = ?", []any{string(canon)}, nil
	case storage.ComparePredicate:
		expr := fmt.Sprintf("json_type(%[1]s) IN ('integer', 'real') AND json_extract(%[1]s, '$') %[2]s ?", col, p.Op)
		return expr, []any{p.Operand}, nil
	case storage.ContainsPredicate:
		expr := fmt.Sprintf("json_type(%[1]s) = 'text' AND instr(json_extract(%[1]s, '$'), ?) > 0", col)
		return expr, []any{p.Substring}, nil
	}
	return "", nil, fmt.Errorf("%w: unsupported predicate %T", storage.ErrInvalidQuery, p)
}
