// internal/catalog/repository.go
package catalog

import (
	"context"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"libradesk/internal/store"
	"libradesk/internal/store/memstore"
	"libradesk/internal/store/pgstore"
)

type BookRepository interface {
	store.Repository[Book]
	// Search matches query against title and author, case insensitively.
	Search(ctx context.Context, query string) ([]Book, error)
}

type CopyRepository interface {
	store.Repository[Copy]
	ListByBook(ctx context.Context, bookID uuid.NullUUID) ([]Copy, error)
	FirstAvailable(ctx context.Context, bookID uuid.UUID) (Copy, error)
}

type Repositories struct {
	Books  BookRepository
	Copies CopyRepository
}

func NewPostgresRepositories(db *pgstore.DB) Repositories {
	return Repositories{
		Books:  &pgBooks{Table: pgstore.NewTable[Book](db, "books", "id", "title")},
		Copies: &pgCopies{Table: pgstore.NewTable[Copy](db, "copies", "id", "created_at")},
	}
}

type pgBooks struct {
	*pgstore.Table[Book]
}

func (r *pgBooks) Search(ctx context.Context, query string) ([]Book, error) {
	if query == "" {
		return r.FindAll(ctx)
	}
	pattern := "%" + likeEscaper.Replace(query) + "%"
	return r.FindMany(ctx, goqu.Or(
		goqu.C("title").ILike(pattern),
		goqu.C("author").ILike(pattern),
	))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type pgCopies struct {
	*pgstore.Table[Copy]
}

func (r *pgCopies) ListByBook(ctx context.Context, bookID uuid.NullUUID) ([]Copy, error) {
	if bookID.Valid {
		return r.FindMany(ctx, goqu.Ex{"book_id": bookID.UUID})
	}
	return r.FindAll(ctx)
}

func (r *pgCopies) FirstAvailable(ctx context.Context, bookID uuid.UUID) (Copy, error) {
	return r.FindOne(ctx, goqu.Ex{"book_id": bookID, "status": CopyAvailable})
}

func NewMemoryRepositories() Repositories {
	books := memstore.NewTable(func(b Book) uuid.UUID { return b.ID }).
		Unique("books_isbn_key", func(b Book) (string, bool) { return b.ISBN, true })
	copies := memstore.NewTable(func(c Copy) uuid.UUID { return c.ID }).
		Unique("copies_barcode_key", func(c Copy) (string, bool) { return c.Barcode, true })

	return Repositories{
		Books:  &memBooks{Table: books},
		Copies: &memCopies{Table: copies},
	}
}

type memBooks struct {
	*memstore.Table[Book]
}

func (r *memBooks) Search(ctx context.Context, query string) ([]Book, error) {
	q := strings.ToLower(query)
	return r.Filter(ctx, func(b Book) bool {
		return strings.Contains(strings.ToLower(b.Title), q) || strings.Contains(strings.ToLower(b.Author), q)
	})
}

type memCopies struct {
	*memstore.Table[Copy]
}

func (r *memCopies) ListByBook(ctx context.Context, bookID uuid.NullUUID) ([]Copy, error) {
	return r.Filter(ctx, func(c Copy) bool { return !bookID.Valid || c.BookID == bookID.UUID })
}

func (r *memCopies) FirstAvailable(ctx context.Context, bookID uuid.UUID) (Copy, error) {
	return r.First(ctx, func(c Copy) bool { return c.BookID == bookID && c.Status == CopyAvailable })
}
