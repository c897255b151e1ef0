// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// AddBookParams carries a new title and how many copies to shelve with it.
type AddBookParams struct {
	ISBN          string
	Title         string
	Author        string
	Publisher     string
	PublishedYear int
	Copies        int
}

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, params AddBookParams) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	ListBooks(ctx context.Context, query string) ([]Book, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error
	Availability(ctx context.Context, bookID uuid.UUID) (Availability, error)

	AddCopy(ctx context.Context, bookID uuid.UUID, barcode string) (*Copy, error)
	GetCopy(ctx context.Context, id uuid.UUID) (*Copy, error)
	ListCopies(ctx context.Context, bookID uuid.NullUUID) ([]Copy, error)
	DeleteCopy(ctx context.Context, id uuid.UUID) error
	// UpdateShelfStatus is the staff facing status change (lost, found, withdrawn).
	UpdateShelfStatus(ctx context.Context, id uuid.UUID, status CopyStatus) (*Copy, error)

	// SetCopyStatus moves a copy without shelf rules. Used by circulation.
	SetCopyStatus(ctx context.Context, id uuid.UUID, status CopyStatus) (*Copy, error)
	FindAvailableCopy(ctx context.Context, bookID uuid.UUID) (*Copy, error)
}
