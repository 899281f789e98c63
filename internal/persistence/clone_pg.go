package persistence

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otoedi/o3mig/internal/migrate"
)

// PgCloneSource reads whole rows from a v3 store for the clone path. Table
// and column names are code-owned constants, never operator input; they are
// still quoted defensively because "order" is a reserved word.
type PgCloneSource struct {
	pool *pgxpool.Pool
}

func OpenCloneSource(ctx context.Context, dsn string) (*PgCloneSource, error) {
	pool, err := OpenPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &PgCloneSource{pool: pool}, nil
}

func NewPgCloneSource(pool *pgxpool.Pool) *PgCloneSource {
	return &PgCloneSource{pool: pool}
}

func (s *PgCloneSource) Close() {
	s.pool.Close()
}

func (s *PgCloneSource) SelectRows(ctx context.Context, table string, filter migrate.Row, orderBy string) ([]migrate.Row, error) {
	cols := sortedColumns(filter)
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", pgx.Identifier{table}.Sanitize())
	args := make([]any, 0, len(cols))
	for i, col := range cols {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = $%d", pgx.Identifier{col}.Sanitize(), i+1)
		args = append(args, filter[col])
	}
	fmt.Fprintf(&b, " ORDER BY %s", pgx.Identifier{orderBy}.Sanitize())

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, errors.Wrapf(err, "select from %s", table)
	}
	defer rows.Close()

	out := []migrate.Row{}
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrapf(err, "scan %s row", table)
		}
		row := make(migrate.Row, len(fields))
		for i, f := range fields {
			row[f.Name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "iterate %s rows", table)
	}
	return out, nil
}

// PgCloneTarget writes whole rows into a v3 store inside one transaction.
type PgCloneTarget struct {
	pool *pgxpool.Pool
}

func NewPgCloneTarget(pool *pgxpool.Pool) *PgCloneTarget {
	return &PgCloneTarget{pool: pool}
}

func (s *PgCloneTarget) Begin(ctx context.Context) (migrate.CloneTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgCloneTx{tx: tx}, nil
}

type pgCloneTx struct {
	tx pgx.Tx
}

func (t *pgCloneTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgCloneTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

func (t *pgCloneTx) InsertRow(ctx context.Context, table, idColumn string, row migrate.Row) (int64, error) {
	query, args := buildInsert(table, row)
	query += " RETURNING " + pgx.Identifier{idColumn}.Sanitize()
	var id int64
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, conflict(table, err)
	}
	return id, nil
}

func (t *pgCloneTx) InsertRowNoID(ctx context.Context, table string, row migrate.Row) error {
	query, args := buildInsert(table, row)
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return conflict(table, err)
	}
	return nil
}

func buildInsert(table string, row migrate.Row) (string, []any) {
	cols := sortedColumns(row)
	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		names[i] = pgx.Identifier{col}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[col]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "))
	return query, args
}

func sortedColumns(row migrate.Row) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

var _ migrate.CloneSource = (*PgCloneSource)(nil)
var _ migrate.CloneTarget = (*PgCloneTarget)(nil)
