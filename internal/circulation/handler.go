// internal/circulation/handler.go
package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

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

// Routes mounts the circulation endpoints.
func (h *Handler) Routes(public, authed chi.Router) {
	public.Post("/loans", h.HandleCheckout)
	public.Get("/loans", h.HandleListLoans)
	public.Get("/loans/{id}", h.HandleGetLoan)
	public.Post("/loans/{id}/return", h.HandleReturn)
	public.Post("/loans/{id}/extend", h.HandleExtend)
	public.Post("/loans/{id}/penalty", h.HandleAssessPenalty)

	public.Post("/reservations", h.HandleReserve)
	public.Get("/reservations", h.HandleListReservations)
	public.Get("/reservations/{id}", h.HandleGetReservation)
	public.Delete("/reservations/{id}", h.HandleDeleteReservation)
	public.Post("/reservations/{id}/cancel", h.HandleCancelReservation)

	public.Get("/penalties", h.HandleListPenalties)
	public.Get("/penalties/{id}", h.HandleGetPenalty)
	authed.Delete("/penalties/{id}", h.HandleDeletePenalty)
	authed.Post("/penalties/{id}/pay", h.HandlePayPenalty)
	authed.Post("/penalties/{id}/waive", h.HandleWaivePenalty)

	public.Get("/members/{id}/standing", h.HandleMemberStanding)
	authed.Post("/sweep", h.HandleSweep)
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID uuid.UUID `json:"member_id"`
		CopyID   uuid.UUID `json:"copy_id"`
	}
	if err := h.respond.Decode(r, &req); err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	loan, err := h.service.Checkout(r.Context(), req.MemberID, req.CopyID)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.respond.JSON(r.Context(), w, http.StatusCreated, toLoanResponse(*loan))
}

func (h *Handler) HandleListLoans(w http.ResponseWriter, r *http.Request) {
	memberID, err := web.QueryID(r, "member_id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	filter := LoanFilter{MemberID: memberID}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := ParseLoanStatus(raw)
		if !ok {
			h.respond.Error(r.Context(), w, fmt.Errorf("%w: unknown loan status %q", web.ErrBadRequest, raw))
			return
		}
		filter.Status = status
	}

	loans, err := h.service.ListLoans(r.Context(), filter)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	out := make([]loanResponse, 0, len(loans))
	for _, l := range loans {
		out = append(out, toLoanResponse(l))
	}
	h.respond.JSON(r.Context(), w, http.StatusOK, out)
}

func (h *Handler) HandleGetLoan(w http.ResponseWriter, r *http.Request) {
	h.loanResult(w, r, h.service.GetLoan)
}

func (h *Handler) HandleExtend(w http.ResponseWriter, r *http.Request) {
	h.loanResult(w, r, h.service.Extend)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	result, err := h.service.Return(r.Context(), id)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	out := returnResponse{Loan: toLoanResponse(result.Loan)}
	if result.Penalty != nil {
		p := toPenaltyResponse(*result.Penalty)
		out.Penalty = &p
	}
	if result.Reservation != nil {
		res := toReservationResponse(*result.Reservation)
		out.Reservation = &res
	}
	h.respond.JSON(r.Context(), w, http.StatusOK, out)
}

func (h *Handler) HandleAssessPenalty(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	penalty, err := h.service.AssessPenalty(r.Context(), id)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	if penalty == nil {
		h.respond.JSON(r.Context(), w, http.StatusOK, map[string]bool{"created": false})
		return
	}
	h.respond.JSON(r.Context(), w, http.StatusCreated, toPenaltyResponse(*penalty))
}

func (h *Handler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID uuid.UUID `json:"member_id"`
		BookID   uuid.UUID `json:"book_id"`
	}
	if err := h.respond.Decode(r, &req); err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	res, err := h.service.Reserve(r.Context(), req.MemberID, req.BookID)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.respond.JSON(r.Context(), w, http.StatusCreated, toReservationResponse(*res))
}

func (h *Handler) HandleListReservations(w http.ResponseWriter, r *http.Request) {
	var filter ReservationFilter
	var err error
	if filter.MemberID, err = web.QueryID(r, "member_id"); err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	if filter.BookID, err = web.QueryID(r, "book_id"); err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := ParseReservationStatus(raw)
		if !ok {
			h.respond.Error(r.Context(), w, fmt.Errorf("%w: unknown reservation status %q", web.ErrBadRequest, raw))
			return
		}
		filter.Status = status
	}

	reservations, err := h.service.ListReservations(r.Context(), filter)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	out := make([]reservationResponse, 0, len(reservations))
	for _, res := range reservations {
		out = append(out, toReservationResponse(res))
	}
	h.respond.JSON(r.Context(), w, http.StatusOK, out)
}

func (h *Handler) HandleGetReservation(w http.ResponseWriter, r *http.Request) {
	h.reservationResult(w, r, h.service.GetReservation)
}

func (h *Handler) HandleCancelReservation(w http.ResponseWriter, r *http.Request) {
	h.reservationResult(w, r, h.service.CancelReservation)
}

func (h *Handler) HandleDeleteReservation(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, h.service.DeleteReservation)
}

func (h *Handler) HandleListPenalties(w http.ResponseWriter, r *http.Request) {
	memberID, err := web.QueryID(r, "member_id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	penalties, err := h.service.ListPenalties(r.Context(), memberID)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	out := make([]penaltyResponse, 0, len(penalties))
	for _, p := range penalties {
		out = append(out, toPenaltyResponse(p))
	}
	h.respond.JSON(r.Context(), w, http.StatusOK, out)
}

func (h *Handler) HandleGetPenalty(w http.ResponseWriter, r *http.Request) {
	h.penaltyResult(w, r, h.service.GetPenalty)
}

func (h *Handler) HandlePayPenalty(w http.ResponseWriter, r *http.Request) {
	h.penaltyResult(w, r, h.service.PayPenalty)
}

func (h *Handler) HandleWaivePenalty(w http.ResponseWriter, r *http.Request) {
	h.penaltyResult(w, r, h.service.WaivePenalty)
}

func (h *Handler) HandleDeletePenalty(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, h.service.DeletePenalty)
}

func (h *Handler) HandleMemberStanding(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	standing, err := h.service.MemberStanding(r.Context(), id)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.respond.JSON(r.Context(), w, http.StatusOK, standingResponse{
		MemberID:    standing.MemberID,
		OpenLoans:   standing.OpenLoans,
		Outstanding: standing.Outstanding.StringFixed(2),
		Blocked:     standing.Blocked,
	})
}

func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Sweep(r.Context())
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.respond.JSON(r.Context(), w, http.StatusOK, report)
}

func (h *Handler) loanResult(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*Loan, error)) {
	byID(h, w, r, fn, toLoanResponse)
}

func (h *Handler) reservationResult(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*Reservation, error)) {
	byID(h, w, r, fn, toReservationResponse)
}

func (h *Handler) penaltyResult(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*Penalty, error)) {
	byID(h, w, r, fn, toPenaltyResponse)
}

// byID runs fn on the {id} path parameter and writes the projected result.
func byID[T, R any](h *Handler, w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*T, error), project func(T) R) {
	id, err := web.PathID(r, "id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	v, err := fn(r.Context(), id)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.respond.JSON(r.Context(), w, http.StatusOK, project(*v))
}

func (h *Handler) deleteByID(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) error) {
	id, err := web.PathID(r, "id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	if err := fn(r.Context(), id); err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.respond.JSON(r.Context(), w, http.StatusNoContent, nil)
}

type loanResponse struct {
	ID         uuid.UUID  `json:"id"`
	MemberID   uuid.UUID  `json:"member_id"`
	CopyID     uuid.UUID  `json:"copy_id"`
	BookID     uuid.UUID  `json:"book_id"`
	LoanedAt   time.Time  `json:"loaned_at"`
	DueDate    time.Time  `json:"due_date"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	Extensions int        `json:"extensions"`
	Status     LoanStatus `json:"status"`
}

func toLoanResponse(l Loan) loanResponse {
	return loanResponse{
		ID:         l.ID,
		MemberID:   l.MemberID,
		CopyID:     l.CopyID,
		BookID:     l.BookID,
		LoanedAt:   l.LoanedAt,
		DueDate:    l.DueDate,
		ReturnedAt: l.ReturnedAt,
		Extensions: l.Extensions,
		Status:     l.Status,
	}
}

type reservationResponse struct {
	ID        uuid.UUID         `json:"id"`
	MemberID  uuid.UUID         `json:"member_id"`
	BookID    uuid.UUID         `json:"book_id"`
	CopyID    *uuid.UUID        `json:"copy_id,omitempty"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	PickupBy  *time.Time        `json:"pickup_by,omitempty"`
}

func toReservationResponse(r Reservation) reservationResponse {
	out := reservationResponse{
		ID:        r.ID,
		MemberID:  r.MemberID,
		BookID:    r.BookID,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		PickupBy:  r.PickupBy,
	}
	if r.CopyID.Valid {
		id := r.CopyID.UUID
		out.CopyID = &id
	}
	return out
}

type penaltyResponse struct {
	ID          uuid.UUID     `json:"id"`
	MemberID    uuid.UUID     `json:"member_id"`
	LoanID      uuid.UUID     `json:"loan_id"`
	Amount      string        `json:"amount"`
	DaysOverdue int           `json:"days_overdue"`
	Status      PenaltyStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	SettledAt   *time.Time    `json:"settled_at,omitempty"`
}

func toPenaltyResponse(p Penalty) penaltyResponse {
	return penaltyResponse{
		ID:          p.ID,
		MemberID:    p.MemberID,
		LoanID:      p.LoanID,
		Amount:      p.Amount.StringFixed(2),
		DaysOverdue: p.DaysOverdue,
		Status:      p.Status,
		CreatedAt:   p.CreatedAt,
		SettledAt:   p.SettledAt,
	}
}

type returnResponse struct {
	Loan        loanResponse         `json:"loan"`
	Penalty     *penaltyResponse     `json:"penalty,omitempty"`
	Reservation *reservationResponse `json:"reservation,omitempty"`
}

type standingResponse struct {
	MemberID    uuid.UUID `json:"member_id"`
	OpenLoans   int       `json:"open_loans"`
	Outstanding string    `json:"outstanding"`
	Blocked     bool      `json:"blocked"`
}
