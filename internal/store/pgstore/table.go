// internal/store/pgstore/table.go
package pgstore

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"libradesk/internal/store"
)

const dialectPostgres = "postgres"

var dialect = goqu.Dialect(dialectPostgres)

// Table is a store.Repository over one Postgres table. T must be a flat
// struct whose db tags name the table's columns.
type Table[T any] struct {
	db       *DB
	name     string
	idColumn string
	orderBy  string
}

// NewTable binds T to table name. Rows are listed by orderBy ascending.
func NewTable[T any](db *DB, name, idColumn, orderBy string) *Table[T] {
	return &Table[T]{db: db, name: name, idColumn: idColumn, orderBy: orderBy}
}

// Select starts a query over the table returning T's columns.
func (t *Table[T]) Select() *goqu.SelectDataset {
	return dialect.From(t.name).Select(new(T)).Order(goqu.I(t.orderBy).Asc())
}

func (t *Table[T]) FindByID(ctx context.Context, id uuid.UUID) (T, error) {
	return t.FindOne(ctx, goqu.Ex{t.idColumn: id})
}

// FindOne returns the first row matching every expression.
func (t *Table[T]) FindOne(ctx context.Context, where ...exp.Expression) (T, error) {
	var row T
	query, args, err := t.Select().Where(where...).Limit(1).Prepared(true).ToSQL()
	if err != nil {
		return row, fmt.Errorf("build %s query: %w", t.name, err)
	}
	if err := sqlx.GetContext(ctx, t.db.Executor(ctx), &row, query, args...); err != nil {
		return row, TranslateError(err)
	}
	return row, nil
}

// FindMany returns every row matching the expressions.
func (t *Table[T]) FindMany(ctx context.Context, where ...exp.Expression) ([]T, error) {
	return t.Query(ctx, t.Select().Where(where...))
}

// Query runs an arbitrary select built from Select.
func (t *Table[T]) Query(ctx context.Context, ds *goqu.SelectDataset) ([]T, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", t.name, err)
	}
	rows := make([]T, 0)
	if err := sqlx.SelectContext(ctx, t.db.Executor(ctx), &rows, query, args...); err != nil {
		return nil, TranslateError(err)
	}
	return rows, nil
}

func (t *Table[T]) FindAll(ctx context.Context) ([]T, error) {
	return t.FindMany(ctx)
}

func (t *Table[T]) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := t.Count(ctx, goqu.Ex{t.idColumn: id})
	return n > 0, err
}

// Count returns how many rows match the expressions.
func (t *Table[T]) Count(ctx context.Context, where ...exp.Expression) (int64, error) {
	query, args, err := dialect.From(t.name).Select(goqu.COUNT(goqu.Star())).Where(where...).Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build %s count: %w", t.name, err)
	}
	var n int64
	if err := sqlx.GetContext(ctx, t.db.Executor(ctx), &n, query, args...); err != nil {
		return 0, TranslateError(err)
	}
	return n, nil
}

// Save inserts entity or overwrites the row with the same id.
func (t *Table[T]) Save(ctx context.Context, entity T) error {
	query, args, err := t.upsert(entity)
	if err != nil {
		return err
	}
	if _, err := t.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		return TranslateError(err)
	}
	return nil
}

func (t *Table[T]) upsert(entity T) (string, []any, error) {
	query, args, err := dialect.Insert(t.name).
		Rows(entity).
		OnConflict(goqu.DoUpdate(t.idColumn, entity)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build %s upsert: %w", t.name, err)
	}
	return query, args, nil
}

// InsertIgnore inserts entity unless it collides with a unique constraint.
// It reports whether a row was written. Unlike Save, a collision leaves the
// surrounding transaction usable.
func (t *Table[T]) InsertIgnore(ctx context.Context, entity T) (bool, error) {
	query, args, err := dialect.Insert(t.name).
		Rows(entity).
		OnConflict(goqu.DoNothing()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return false, fmt.Errorf("build %s insert: %w", t.name, err)
	}
	res, err := t.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return false, TranslateError(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (t *Table[T]) DeleteByID(ctx context.Context, id uuid.UUID) error {
	n, err := t.DeleteWhere(ctx, goqu.Ex{t.idColumn: id})
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteWhere removes the matching rows and returns how many went.
func (t *Table[T]) DeleteWhere(ctx context.Context, where ...exp.Expression) (int64, error) {
	query, args, err := dialect.Delete(t.name).Where(where...).Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build %s delete: %w", t.name, err)
	}
	res, err := t.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, TranslateError(err)
	}
	return res.RowsAffected()
}

// Scalar runs a single value select, for aggregates.
func (t *Table[T]) Scalar(ctx context.Context, dest any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build %s aggregate: %w", t.name, err)
	}
	return TranslateError(sqlx.GetContext(ctx, t.db.Executor(ctx), dest, query, args...))
}

// From starts a bare query over the table.
func (t *Table[T]) From() *goqu.SelectDataset {
	return dialect.From(t.name)
}
