// internal/catalog/handler.go
package catalog

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"libradesk/internal/web"
)

type Handler struct {
	service Service
	respond web.Responder
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, respond: web.NewResponder(logger)}
}

// Routes mounts the catalog endpoints.
func (h *Handler) Routes(public, _ chi.Router) {
	public.Post("/books", h.HandleAddBook)
	public.Get("/books", h.HandleListBooks)
	public.Get("/books/{id}", h.HandleGetBook)
	public.Delete("/books/{id}", h.HandleDeleteBook)
	public.Post("/books/{id}/copies", h.HandleAddCopy)

	public.Get("/copies", h.HandleListCopies)
	public.Get("/copies/{id}", h.HandleGetCopy)
	public.Patch("/copies/{id}", h.HandleUpdateCopy)
	public.Delete("/copies/{id}", h.HandleDeleteCopy)
}

func (h *Handler) HandleAddBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ISBN          string `json:"isbn"`
		Title         string `json:"title"`
		Author        string `json:"author"`
		Publisher     string `json:"publisher"`
		PublishedYear int    `json:"published_year"`
		Copies        int    `json:"copies"`
	}
	if err := h.respond.Decode(r, &req); err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	book, err := h.service.AddBook(r.Context(), AddBookParams{
		ISBN:          req.ISBN,
		Title:         req.Title,
		Author:        req.Author,
		Publisher:     req.Publisher,
		PublishedYear: req.PublishedYear,
		Copies:        req.Copies,
	})
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.writeBook(w, r, http.StatusCreated, book)
}

func (h *Handler) HandleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListBooks(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	out := make([]bookResponse, 0, len(books))
	for _, b := range books {
		out = append(out, toBookResponse(b, nil))
	}
	h.respond.JSON(r.Context(), w, http.StatusOK, out)
}

func (h *Handler) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.writeBook(w, r, http.StatusOK, book)
}

func (h *Handler) writeBook(w http.ResponseWriter, r *http.Request, status int, book *Book) {
	availability, err := h.service.Availability(r.Context(), book.ID)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.respond.JSON(r.Context(), w, status, toBookResponse(*book, &availability))
}

func (h *Handler) HandleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	if err := h.service.DeleteBook(r.Context(), id); err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.respond.JSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *Handler) HandleAddCopy(w http.ResponseWriter, r *http.Request) {
	bookID, err := web.PathID(r, "id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	var req struct {
		Barcode string `json:"barcode"`
	}
	if r.ContentLength != 0 {
		if err := h.respond.Decode(r, &req); err != nil {
			h.respond.Error(r.Context(), w, err)
			return
		}
	}

	c, err := h.service.AddCopy(r.Context(), bookID, req.Barcode)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.respond.JSON(r.Context(), w, http.StatusCreated, toCopyResponse(*c))
}

func (h *Handler) HandleListCopies(w http.ResponseWriter, r *http.Request) {
	bookID, err := web.QueryID(r, "book_id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	copies, err := h.service.ListCopies(r.Context(), bookID)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	out := make([]copyResponse, 0, len(copies))
	for _, c := range copies {
		out = append(out, toCopyResponse(c))
	}
	h.respond.JSON(r.Context(), w, http.StatusOK, out)
}

func (h *Handler) HandleGetCopy(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	c, err := h.service.GetCopy(r.Context(), id)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.respond.JSON(r.Context(), w, http.StatusOK, toCopyResponse(*c))
}

func (h *Handler) HandleUpdateCopy(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := h.respond.Decode(r, &req); err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	status, ok := ParseCopyStatus(req.Status)
	if !ok {
		h.respond.Error(r.Context(), w, fmt.Errorf("%w: unknown copy status %q", web.ErrBadRequest, req.Status))
		return
	}

	c, err := h.service.UpdateShelfStatus(r.Context(), id, status)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.respond.JSON(r.Context(), w, http.StatusOK, toCopyResponse(*c))
}

func (h *Handler) HandleDeleteCopy(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	if err := h.service.DeleteCopy(r.Context(), id); err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.respond.JSON(r.Context(), w, http.StatusNoContent, nil)
}

type bookResponse struct {
	ID            uuid.UUID     `json:"id"`
	ISBN          string        `json:"isbn"`
	Title         string        `json:"title"`
	Author        string        `json:"author"`
	Publisher     string        `json:"publisher,omitempty"`
	PublishedYear int           `json:"published_year,omitempty"`
	Availability  *Availability `json:"availability,omitempty"`
}

func toBookResponse(b Book, a *Availability) bookResponse {
	return bookResponse{
		ID:            b.ID,
		ISBN:          b.ISBN,
		Title:         b.Title,
		Author:        b.Author,
		Publisher:     b.Publisher,
		PublishedYear: b.PublishedYear,
		Availability:  a,
	}
}

type copyResponse struct {
	ID      uuid.UUID  `json:"id"`
	BookID  uuid.UUID  `json:"book_id"`
	Barcode string     `json:"barcode"`
	Status  CopyStatus `json:"status"`
}

func toCopyResponse(c Copy) copyResponse {
	return copyResponse{ID: c.ID, BookID: c.BookID, Barcode: c.Barcode, Status: c.Status}
}
