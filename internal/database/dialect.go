package database

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect covers the SQL differences between the supported backends.
// Queries are written with ? placeholders and passed through Rebind.
type Dialect interface {
	Name() string
	DriverName() string
	Rebind(query string) string
	// UpsertClause is appended to a multi-row INSERT to turn it into an
	// upsert on pk that overwrites cols and bumps updated_at.
	UpsertClause(pk string, cols []string) string
	// RefreshView returns the statement refreshing a materialized view, or
	// "" when the backend has none.
	RefreshView(name string) string
}

// DialectFor returns the dialect for a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	case "mysql":
		return MySQL{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

type Postgres struct{}

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return "pgx" }

// Rebind rewrites ? placeholders as $1, $2, ...
func (Postgres) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (Postgres) UpsertClause(pk string, cols []string) string {
	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, c+" = EXCLUDED."+c)
	}
	sets = append(sets, "updated_at = now()")
	return "ON CONFLICT (" + pk + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

func (Postgres) RefreshView(name string) string {
	return "REFRESH MATERIALIZED VIEW CONCURRENTLY " + name
}

type MySQL struct{}

func (MySQL) Name() string       { return "mysql" }
func (MySQL) DriverName() string { return "mysql" }

func (MySQL) Rebind(query string) string { return query }

func (MySQL) UpsertClause(_ string, cols []string) string {
	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, c+" = VALUES("+c+")")
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

func (MySQL) RefreshView(string) string { return "" }
