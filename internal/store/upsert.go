package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/MaximeMichaud/oura-dashboard/internal/database"
	"github.com/MaximeMichaud/oura-dashboard/internal/endpoint"
)

const DefaultBatchSize = 500

// Execer runs one statement atomically against a dialect-aware database.
type Execer interface {
	Dialect() database.Dialect
	ExecAtomic(ctx context.Context, query string, args ...any) (int64, error)
}

// Upserter writes flattened rows into their destination table, insert or
// overwrite by primary key.
type Upserter struct {
	db        Execer
	batchSize int
}

func NewUpserter(db Execer, batchSize int) *Upserter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Upserter{db: db, batchSize: batchSize}
}

func (u *Upserter) BatchSize() int { return u.batchSize }

// Upsert writes rows in batches, each in its own transaction. Batches
// committed before a failing one stay committed; the returned count covers
// them.
func (u *Upserter) Upsert(ctx context.Context, table, pk string, rows []endpoint.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if _, err := unionColumns(table, pk, rows); err != nil {
		return 0, err
	}

	total := 0
	for start := 0; start < len(rows); start += u.batchSize {
		end := min(start+u.batchSize, len(rows))
		n, err := u.UpsertBatch(ctx, table, pk, rows[start:end])
		total += n
		if err != nil {
			return total, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
	}
	return total, nil
}

// UpsertBatch writes rows with a single multi-row statement.
func (u *Upserter) UpsertBatch(ctx context.Context, table, pk string, rows []endpoint.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	query, args, n, err := buildUpsert(u.db.Dialect(), table, pk, rows)
	if err != nil || n == 0 {
		return 0, err
	}
	if _, err := u.db.ExecAtomic(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("upsert into %s failed: %w", table, err)
	}
	return n, nil
}

// unionColumns validates every identifier and returns the sorted union of
// the rows' columns.
func unionColumns(table, pk string, rows []endpoint.Row) ([]string, error) {
	if err := ValidateIdent(table); err != nil {
		return nil, err
	}
	if err := ValidateIdent(pk); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, r := range rows {
		for _, c := range r.Columns() {
			seen[c] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for c := range seen {
		if err := ValidateIdent(c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols, nil
}

// buildUpsert renders the INSERT ... upsert statement with ? placeholders.
// Rows sharing a primary key collapse to the last one. n is the number of
// rows the statement writes; 0 means there is nothing to update.
func buildUpsert(d database.Dialect, table, pk string, rows []endpoint.Row) (string, []any, int, error) {
	cols, err := unionColumns(table, pk, rows)
	if err != nil {
		return "", nil, 0, err
	}

	update := make([]string, 0, len(cols))
	for _, c := range cols {
		if c != pk {
			update = append(update, c)
		}
	}
	if len(update) == 0 {
		return "", nil, 0, nil
	}

	rows, err = dedupe(pk, rows)
	if err != nil {
		return "", nil, 0, err
	}

	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
		for _, c := range cols {
			v, _ := r.Get(c)
			args = append(args, v.SQLArg())
		}
	}
	b.WriteString(" ")
	b.WriteString(d.UpsertClause(pk, update))

	return b.String(), args, len(rows), nil
}

// dedupe keeps the last row for each primary key, in first-seen order.
func dedupe(pk string, rows []endpoint.Row) ([]endpoint.Row, error) {
	index := make(map[string]int, len(rows))
	out := make([]endpoint.Row, 0, len(rows))
	for i, r := range rows {
		v, ok := r.Get(pk)
		if !ok || v.IsNull() {
			return nil, fmt.Errorf("row %d has no value for primary key %s", i, pk)
		}
		key := v.Kind().String() + ":" + v.Text()
		if j, dup := index[key]; dup {
			out[j] = r
			continue
		}
		index[key] = len(out)
		out = append(out, r)
	}
	return out, nil
}
