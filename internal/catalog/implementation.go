// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"libradesk/internal/apperr"
	"libradesk/internal/eventstore"
	"libradesk/internal/logging"
	"libradesk/internal/store"
)

const (
	serviceName   = "catalog"
	kindBook      = "Book"
	kindCopy      = "Copy"
	maxBookCopies = 100
)

// service implements the Service interface.
type service struct {
	repos   Repositories
	tx      store.TxRunner
	journal eventstore.Journal
	now     func() time.Time
	newID   func() uuid.UUID
	tracer  trace.Tracer
}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(s *service) { s.newID = newID }
}

// NewService creates a new catalog service instance.
func NewService(repos Repositories, tx store.TxRunner, journal eventstore.Journal, opts ...Option) Service {
	s := &service{
		repos:   repos,
		tx:      tx,
		journal: journal,
		now:     time.Now,
		newID:   uuid.New,
		tracer:  otel.Tracer("libradesk/catalog"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, serviceName+"."+operation, trace.WithAttributes(attrs...))
}

func (s *service) finish(ctx context.Context, span trace.Span, operation string, err error) {
	defer span.End()
	if err == nil {
		return
	}
	kind := apperr.Kind(err)
	span.SetAttributes(attribute.String("error.kind", kind))
	logger := logging.For(ctx, serviceName, operation)
	if kind == "unexpected" {
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorContext(ctx, "operation failed", "error_kind", kind, "error", err)
		return
	}
	logger.InfoContext(ctx, "operation rejected", "error_kind", kind, "error", err)
}

// AddBook creates a new title and shelves the requested number of copies.
func (s *service) AddBook(ctx context.Context, params AddBookParams) (_ *Book, err error) {
	ctx, span := s.start(ctx, "AddBook")
	defer func() { s.finish(ctx, span, "AddBook", err) }()

	params.ISBN = normalizeISBN(params.ISBN)
	params.Title = strings.TrimSpace(params.Title)
	params.Author = strings.TrimSpace(params.Author)
	params.Publisher = strings.TrimSpace(params.Publisher)
	if err := s.validateBook(params); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	book := Book{
		ID:            s.newID(),
		ISBN:          params.ISBN,
		Title:         params.Title,
		Author:        params.Author,
		Publisher:     params.Publisher,
		PublishedYear: params.PublishedYear,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repos.Books.Save(ctx, book); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.Conflict("Book with ISBN %s already exists", book.ISBN)
			}
			return fmt.Errorf("failed to save book: %w", err)
		}
		if err := s.journal.Record(ctx, aggregateBook, book.ID, eventBookAdded, BookAddedEvent{
			ID: book.ID, ISBN: book.ISBN, Title: book.Title, Author: book.Author,
		}); err != nil {
			return err
		}
		for i := 0; i < params.Copies; i++ {
			if _, err := s.addCopy(ctx, book.ID, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (s *service) validateBook(p AddBookParams) error {
	v := &apperr.ValidationError{}
	if p.ISBN == "" {
		v.Add("isbn", "isbn is required")
	} else if !validISBN(p.ISBN) {
		v.Add("isbn", "isbn must have 10 or 13 digits")
	}
	if p.Title == "" {
		v.Add("title", "title is required")
	}
	if p.Author == "" {
		v.Add("author", "author is required")
	}
	if p.PublishedYear < 0 || p.PublishedYear > s.now().Year()+1 {
		v.Add("published_year", "published year is out of range")
	}
	if p.Copies < 0 || p.Copies > maxBookCopies {
		v.Add("copies", fmt.Sprintf("copies must be between 0 and %d", maxBookCopies))
	}
	return v.OrNil()
}

func normalizeISBN(raw string) string {
	return strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(strings.TrimSpace(raw)))
}

func validISBN(isbn string) bool {
	switch len(isbn) {
	case 10:
		for i, r := range isbn {
			if !(r >= '0' && r <= '9') && !(i == 9 && r == 'X') {
				return false
			}
		}
		return true
	case 13:
		for _, r := range isbn {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}
	return false
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	book, err := store.Load[Book](ctx, s.repos.Books, kindBook, id)
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// ListBooks finds books whose title or author contains query.
func (s *service) ListBooks(ctx context.Context, query string) ([]Book, error) {
	books, err := s.repos.Books.Search(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	return books, nil
}

// DeleteBook removes a title together with its copies. It refuses while any
// copy is on loan or held for a reservation.
func (s *service) DeleteBook(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.start(ctx, "DeleteBook", attribute.String("book.id", id.String()))
	defer func() { s.finish(ctx, span, "DeleteBook", err) }()

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		exists, err := s.repos.Books.ExistsByID(ctx, id)
		if err != nil {
			return fmt.Errorf("check book: %w", err)
		}
		if !exists {
			return apperr.NotFound(kindBook, id)
		}

		copies, err := s.repos.Copies.ListByBook(ctx, uuid.NullUUID{UUID: id, Valid: true})
		if err != nil {
			return fmt.Errorf("list copies: %w", err)
		}
		for _, c := range copies {
			switch c.Status {
			case CopyOnLoan:
				return apperr.InvalidTransition("Cannot delete a book with copies on loan")
			case CopyReserved:
				return apperr.InvalidTransition("Cannot delete a book with copies held for a reservation")
			}
		}
		for _, c := range copies {
			if err := s.repos.Copies.DeleteByID(ctx, c.ID); err != nil {
				return fmt.Errorf("delete copy %s: %w", c.ID, err)
			}
		}
		return store.DeleteExisting(ctx, s.repos.Books, kindBook, id)
	})
}

func (s *service) Availability(ctx context.Context, bookID uuid.UUID) (Availability, error) {
	copies, err := s.repos.Copies.ListByBook(ctx, uuid.NullUUID{UUID: bookID, Valid: true})
	if err != nil {
		return Availability{}, fmt.Errorf("list copies: %w", err)
	}
	var a Availability
	for _, c := range copies {
		if c.Status == CopyWithdrawn {
			continue
		}
		a.Total++
		if c.Status == CopyAvailable {
			a.Available++
		}
	}
	return a, nil
}

// AddCopy registers a physical copy. An empty barcode is generated.
func (s *service) AddCopy(ctx context.Context, bookID uuid.UUID, barcode string) (_ *Copy, err error) {
	ctx, span := s.start(ctx, "AddCopy", attribute.String("book.id", bookID.String()))
	defer func() { s.finish(ctx, span, "AddCopy", err) }()

	var c Copy
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		exists, err := s.repos.Books.ExistsByID(ctx, bookID)
		if err != nil {
			return fmt.Errorf("check book: %w", err)
		}
		if !exists {
			return apperr.NotFound(kindBook, bookID)
		}
		c, err = s.addCopy(ctx, bookID, strings.TrimSpace(barcode))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *service) addCopy(ctx context.Context, bookID uuid.UUID, barcode string) (Copy, error) {
	id := s.newID()
	if barcode == "" {
		barcode = "C-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12])
	}
	now := s.now().UTC()
	c := Copy{ID: id, BookID: bookID, Barcode: barcode, Status: CopyAvailable, CreatedAt: now, UpdatedAt: now}

	if err := s.repos.Copies.Save(ctx, c); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Copy{}, apperr.Conflict("Copy with barcode %s already exists", barcode)
		}
		return Copy{}, fmt.Errorf("failed to save copy: %w", err)
	}
	if err := s.journal.Record(ctx, aggregateCopy, c.ID, eventCopyAdded, CopyAddedEvent{
		ID: c.ID, BookID: bookID, Barcode: barcode,
	}); err != nil {
		return Copy{}, err
	}
	return c, nil
}

func (s *service) GetCopy(ctx context.Context, id uuid.UUID) (*Copy, error) {
	c, err := store.Load[Copy](ctx, s.repos.Copies, kindCopy, id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *service) ListCopies(ctx context.Context, bookID uuid.NullUUID) ([]Copy, error) {
	copies, err := s.repos.Copies.ListByBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("list copies: %w", err)
	}
	return copies, nil
}

// DeleteCopy removes a copy that is neither on loan nor held.
func (s *service) DeleteCopy(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.start(ctx, "DeleteCopy", attribute.String("copy.id", id.String()))
	defer func() { s.finish(ctx, span, "DeleteCopy", err) }()

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := store.Load[Copy](ctx, s.repos.Copies, kindCopy, id)
		if err != nil {
			return err
		}
		switch c.Status {
		case CopyOnLoan:
			return apperr.InvalidTransition("Cannot delete a copy that is on loan")
		case CopyReserved:
			return apperr.InvalidTransition("Cannot delete a copy held for a reservation")
		}
		return store.DeleteExisting(ctx, s.repos.Copies, kindCopy, id)
	})
}

func (s *service) UpdateShelfStatus(ctx context.Context, id uuid.UUID, status CopyStatus) (*Copy, error) {
	return s.changeStatus(ctx, "UpdateShelfStatus", id, status, true)
}

func (s *service) SetCopyStatus(ctx context.Context, id uuid.UUID, status CopyStatus) (*Copy, error) {
	return s.changeStatus(ctx, "SetCopyStatus", id, status, false)
}

func (s *service) changeStatus(ctx context.Context, operation string, id uuid.UUID, status CopyStatus, shelfRules bool) (_ *Copy, err error) {
	ctx, span := s.start(ctx, operation,
		attribute.String("copy.id", id.String()),
		attribute.String("copy.status", string(status)),
	)
	defer func() { s.finish(ctx, span, operation, err) }()

	var c Copy
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		c, err = store.Load[Copy](ctx, s.repos.Copies, kindCopy, id)
		if err != nil {
			return err
		}
		if shelfRules {
			if err := ValidateShelfChange(c.Status, status); err != nil {
				return err
			}
		}
		from := c.Status
		c.Status = status
		c.UpdatedAt = s.now().UTC()
		if err := s.repos.Copies.Save(ctx, c); err != nil {
			return fmt.Errorf("failed to save copy: %w", err)
		}
		return s.journal.Record(ctx, aggregateCopy, c.ID, eventCopyStatusChanged, CopyStatusChangedEvent{
			ID: c.ID, From: from, To: status,
		})
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindAvailableCopy returns an AVAILABLE copy of the book, or nil when every
// copy is taken.
func (s *service) FindAvailableCopy(ctx context.Context, bookID uuid.UUID) (*Copy, error) {
	c, err := s.repos.Copies.FirstAvailable(ctx, bookID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find available copy: %w", err)
	}
	return &c, nil
}
