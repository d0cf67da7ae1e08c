package codemaster

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Rows is the subset of pgx.Rows the loader reads.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Querier runs a query. Wrap a *pgxpool.Pool with FromPool, or pass a fake
// in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}

// poolQuerier adapts *pgxpool.Pool to Querier; pgx returns pgx.Rows, which
// satisfies Rows but not the method signature.
type poolQuerier struct {
	pool *pgxpool.Pool
}

// FromPool wraps a pgx connection pool.
func FromPool(pool *pgxpool.Pool) Querier {
	return poolQuerier{pool: pool}
}

func (q poolQuerier) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return q.pool.Query(ctx, sql, args...)
}

// DefaultTable is the table read when none is configured.
const DefaultTable = "code_master"

// LoadPostgres reads (system, code) pairs from table, which must have text
// columns named system and code. The table name may be schema-qualified
// ("terminology.codes").
func LoadPostgres(ctx context.Context, q Querier, table string) (*CodeMaster, error) {
	if table == "" {
		table = DefaultTable
	}
	sql := fmt.Sprintf("SELECT system, code FROM %s ORDER BY system, code", identifier(table).Sanitize())

	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("querying code master table %s: %w", table, err)
	}
	defer rows.Close()

	b := NewBuilder()
	for rows.Next() {
		var system, code string
		if err := rows.Scan(&system, &code); err != nil {
			return nil, fmt.Errorf("scanning code master row: %w", err)
		}
		b.Add(system, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading code master rows: %w", err)
	}
	return b.Build(), nil
}

func identifier(table string) pgx.Identifier {
	var id pgx.Identifier
	start := 0
	for i := 0; i < len(table); i++ {
		if table[i] == '.' {
			id = append(id, table[start:i])
			start = i + 1
		}
	}
	return append(id, table[start:])
}
