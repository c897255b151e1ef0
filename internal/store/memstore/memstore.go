// internal/store/memstore/memstore.go
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"libradesk/internal/store"
)

// Table is a map backed store.Repository. Rows are kept by value and
// returned in insertion order.
type Table[T any] struct {
	mu     sync.RWMutex
	rows   map[uuid.UUID]T
	order  []uuid.UUID
	idOf   func(T) uuid.UUID
	unique []uniqueKey[T]
}

type uniqueKey[T any] struct {
	name string
	key  func(T) (string, bool)
}

// NewTable returns an empty table keyed by idOf.
func NewTable[T any](idOf func(T) uuid.UUID) *Table[T] {
	return &Table[T]{rows: make(map[uuid.UUID]T), idOf: idOf}
}

// Unique adds a uniqueness rule. key returns false for rows the rule does
// not cover, mirroring a partial index.
func (t *Table[T]) Unique(name string, key func(T) (string, bool)) *Table[T] {
	t.unique = append(t.unique, uniqueKey[T]{name: name, key: key})
	return t
}

func (t *Table[T]) FindByID(_ context.Context, id uuid.UUID) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, store.ErrNotFound
	}
	return row, nil
}

func (t *Table[T]) FindAll(ctx context.Context) ([]T, error) {
	return t.Filter(ctx, func(T) bool { return true })
}

func (t *Table[T]) ExistsByID(_ context.Context, id uuid.UUID) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rows[id]
	return ok, nil
}

func (t *Table[T]) Save(ctx context.Context, entity T) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.idOf(entity)
	for _, u := range t.unique {
		k, ok := u.key(entity)
		if !ok {
			continue
		}
		for otherID, other := range t.rows {
			if otherID == id {
				continue
			}
			if k2, ok := u.key(other); ok && k2 == k {
				return fmt.Errorf("%w: %s", store.ErrDuplicate, u.name)
			}
		}
	}

	prev, existed := t.rows[id]
	if !existed {
		t.order = append(t.order, id)
	}
	t.rows[id] = entity

	OnRollback(ctx, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if existed {
			t.rows[id] = prev
			return
		}
		t.remove(id)
	})
	return nil
}

func (t *Table[T]) DeleteByID(ctx context.Context, id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[id]; !ok {
		return store.ErrNotFound
	}
	t.delete(ctx, id)
	return nil
}

// Filter returns every row matching pred.
func (t *Table[T]) Filter(_ context.Context, pred func(T) bool) ([]T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]T, 0, len(t.order))
	for _, id := range t.order {
		if row := t.rows[id]; pred(row) {
			out = append(out, row)
		}
	}
	return out, nil
}

// First returns the earliest inserted row matching pred.
func (t *Table[T]) First(ctx context.Context, pred func(T) bool) (T, error) {
	rows, _ := t.Filter(ctx, pred)
	if len(rows) == 0 {
		var zero T
		return zero, store.ErrNotFound
	}
	return rows[0], nil
}

// DeleteWhere removes every row matching pred and returns how many went.
func (t *Table[T]) DeleteWhere(ctx context.Context, pred func(T) bool) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	for _, id := range append([]uuid.UUID(nil), t.order...) {
		if pred(t.rows[id]) {
			t.delete(ctx, id)
			n++
		}
	}
	return n, nil
}

// Len is the number of stored rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// delete removes id and registers its restore at the original position.
// Callers hold t.mu.
func (t *Table[T]) delete(ctx context.Context, id uuid.UUID) {
	row := t.rows[id]
	pos := t.remove(id)
	OnRollback(ctx, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.rows[id]; ok {
			return
		}
		pos := min(pos, len(t.order))
		t.order = append(t.order[:pos], append([]uuid.UUID{id}, t.order[pos:]...)...)
		t.rows[id] = row
	})
}

func (t *Table[T]) remove(id uuid.UUID) int {
	delete(t.rows, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return i
		}
	}
	return len(t.order)
}

type undoKey struct{}

type undoLog struct {
	mu    sync.Mutex
	steps []func()
}

func (l *undoLog) rollback() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.steps) - 1; i >= 0; i-- {
		l.steps[i]()
	}
	l.steps = nil
}

// OnRollback registers fn to run if the unit of work carried by ctx fails.
// Outside a unit of work it does nothing.
func OnRollback(ctx context.Context, fn func()) {
	l, ok := ctx.Value(undoKey{}).(*undoLog)
	if !ok {
		return
	}
	l.mu.Lock()
	l.steps = append(l.steps, fn)
	l.mu.Unlock()
}

// Tx runs units of work against memory tables. When fn fails or panics,
// every write made through ctx is undone in reverse order. Nested calls
// join the outer unit. Writes from concurrent units are not isolated.
type Tx struct{}

func (Tx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(undoKey{}).(*undoLog); ok {
		return fn(ctx)
	}

	l := &undoLog{}
	ctx = context.WithValue(ctx, undoKey{}, l)
	defer func() {
		if p := recover(); p != nil {
			l.rollback()
			panic(p)
		}
		if err != nil {
			l.rollback()
		}
	}()
	return fn(ctx)
}

var _ store.TxRunner = Tx{}
