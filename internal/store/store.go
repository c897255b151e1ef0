// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"libradesk/internal/apperr"
)

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a write violates a uniqueness rule.
	ErrDuplicate = errors.New("store: duplicate key")
)

// Repository is the capability set every entity store provides.
type Repository[T any] interface {
	FindByID(ctx context.Context, id uuid.UUID) (T, error)
	FindAll(ctx context.Context) ([]T, error)
	ExistsByID(ctx context.Context, id uuid.UUID) (bool, error)
	Save(ctx context.Context, entity T) error
	DeleteByID(ctx context.Context, id uuid.UUID) error
}

// TxRunner runs fn inside one unit of work. Repositories called with the
// context passed to fn take part in the same transaction.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type finder[T any] interface {
	FindByID(ctx context.Context, id uuid.UUID) (T, error)
}

type deleter interface {
	ExistsByID(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteByID(ctx context.Context, id uuid.UUID) error
}

// Load fetches one entity and turns a missing row into a ResourceNotFound
// error naming kind and id.
func Load[T any](ctx context.Context, repo finder[T], kind string, id uuid.UUID) (T, error) {
	entity, err := repo.FindByID(ctx, id)
	if err != nil {
		var zero T
		if errors.Is(err, ErrNotFound) {
			return zero, apperr.NotFound(kind, id)
		}
		return zero, fmt.Errorf("load %s: %w", kind, err)
	}
	return entity, nil
}

// DeleteExisting removes the entity with id, failing with ResourceNotFound
// and deleting nothing when it is absent.
func DeleteExisting(ctx context.Context, repo deleter, kind string, id uuid.UUID) error {
	exists, err := repo.ExistsByID(ctx, id)
	if err != nil {
		return fmt.Errorf("check %s: %w", kind, err)
	}
	if !exists {
		return apperr.NotFound(kind, id)
	}
	if err := repo.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound(kind, id)
		}
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	return nil
}
