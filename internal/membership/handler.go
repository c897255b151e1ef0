// internal/membership/handler.go
package membership

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"libradesk/internal/apperr"
	"libradesk/internal/web"
)

// TokenIssuer signs session tokens for authenticated members.
type TokenIssuer interface {
	Issue(memberID uuid.UUID, membershipNumber string) (string, time.Time, error)
}

type Handler struct {
	service Service
	tokens  TokenIssuer
	respond web.Responder
}

func NewHandler(service Service, tokens TokenIssuer, logger *slog.Logger) *Handler {
	return &Handler{service: service, tokens: tokens, respond: web.NewResponder(logger)}
}

// Routes mounts the membership endpoints.
func (h *Handler) Routes(public, authed chi.Router) {
	public.Post("/login", h.HandleLogin)
	authed.Get("/me", h.HandleMe)

	public.Post("/members", h.HandleRegisterMember)
	public.Get("/members", h.HandleListMembers)
	public.Get("/members/{id}", h.HandleGetMember)
	public.Delete("/members/{id}", h.HandleDeleteMember)
	public.Post("/members/{id}/suspend", h.HandleSuspendMember)
	public.Post("/members/{id}/activate", h.HandleActivateMember)
	public.Get("/members/{id}/history", h.HandleMemberHistory)

	public.Post("/visits", h.HandleCheckIn)
	public.Get("/visits", h.HandleListVisits)
	public.Get("/visits/{id}", h.HandleGetVisit)
	public.Delete("/visits/{id}", h.HandleDeleteVisit)
	public.Post("/visits/{id}/checkout", h.HandleCheckOut)
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := h.respond.Decode(r, &req); err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	member, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	token, expiresAt, err := h.tokens.Issue(member.ID, member.MembershipNumber)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	h.respond.JSON(r.Context(), w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
		Member:    toMemberResponse(*member),
	})
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := web.SubjectFromContext(r.Context())
	if !ok {
		h.respond.Error(r.Context(), w, apperr.ErrUnauthorized)
		return
	}
	h.memberResult(w, r, http.StatusOK, func(ctx context.Context) (*Member, error) {
		return h.service.GetMember(ctx, id)
	})
}

func (h *Handler) HandleRegisterMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string `json:"name"`
		Email          string `json:"email"`
		Phone          string `json:"phone"`
		Password       string `json:"password"`
		MaxActiveLoans int    `json:"max_active_loans"`
	}
	if err := h.respond.Decode(r, &req); err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	h.memberResult(w, r, http.StatusCreated, func(ctx context.Context) (*Member, error) {
		return h.service.RegisterMember(ctx, RegisterMemberParams{
			Name:           req.Name,
			Email:          req.Email,
			Phone:          req.Phone,
			Password:       req.Password,
			MaxActiveLoans: req.MaxActiveLoans,
		})
	})
}

func (h *Handler) HandleListMembers(w http.ResponseWriter, r *http.Request) {
	var filter MemberFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := ParseMemberStatus(raw)
		if !ok {
			h.respond.Error(r.Context(), w, fmt.Errorf("%w: unknown member status %q", web.ErrBadRequest, raw))
			return
		}
		filter.Status = status
	}

	members, err := h.service.ListMembers(r.Context(), filter)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	out := make([]memberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, toMemberResponse(m))
	}
	h.respond.JSON(r.Context(), w, http.StatusOK, out)
}

func (h *Handler) HandleGetMember(w http.ResponseWriter, r *http.Request) {
	h.memberByID(w, r, h.service.GetMember)
}

func (h *Handler) HandleSuspendMember(w http.ResponseWriter, r *http.Request) {
	h.memberByID(w, r, h.service.SuspendMember)
}

func (h *Handler) HandleActivateMember(w http.ResponseWriter, r *http.Request) {
	h.memberByID(w, r, h.service.ActivateMember)
}

func (h *Handler) HandleDeleteMember(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, h.service.DeleteMember)
}

func (h *Handler) HandleMemberHistory(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	events, err := h.service.MemberHistory(r.Context(), id)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.respond.JSON(r.Context(), w, http.StatusOK, events)
}

func (h *Handler) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID uuid.UUID `json:"member_id"`
	}
	if err := h.respond.Decode(r, &req); err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	if req.MemberID == uuid.Nil {
		v := &apperr.ValidationError{}
		v.Add("member_id", "member_id is required")
		h.respond.Error(r.Context(), w, v)
		return
	}

	visit, err := h.service.CheckIn(r.Context(), req.MemberID)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.respond.JSON(r.Context(), w, http.StatusCreated, toVisitResponse(*visit))
}

func (h *Handler) HandleCheckOut(w http.ResponseWriter, r *http.Request) {
	h.visitByID(w, r, h.service.CheckOut)
}

func (h *Handler) HandleGetVisit(w http.ResponseWriter, r *http.Request) {
	h.visitByID(w, r, h.service.GetVisit)
}

func (h *Handler) HandleListVisits(w http.ResponseWriter, r *http.Request) {
	memberID, err := web.QueryID(r, "member_id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	visits, err := h.service.ListVisits(r.Context(), memberID)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}

	out := make([]visitResponse, 0, len(visits))
	for _, v := range visits {
		out = append(out, toVisitResponse(v))
	}
	h.respond.JSON(r.Context(), w, http.StatusOK, out)
}

func (h *Handler) HandleDeleteVisit(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, h.service.DeleteVisit)
}

func (h *Handler) memberByID(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*Member, error)) {
	id, err := web.PathID(r, "id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.memberResult(w, r, http.StatusOK, func(ctx context.Context) (*Member, error) {
		return fn(ctx, id)
	})
}

func (h *Handler) memberResult(w http.ResponseWriter, r *http.Request, status int, fn func(context.Context) (*Member, error)) {
	member, err := fn(r.Context())
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.respond.JSON(r.Context(), w, status, toMemberResponse(*member))
}

func (h *Handler) visitByID(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*Visit, error)) {
	id, err := web.PathID(r, "id")
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	visit, err := fn(r.Context(), id)
	if err != nil {
		h.respond.Error(r.Context(), w, err)
		return
	}
	h.respond.JSON(r.Context(), w, http.StatusOK, toVisitResponse(*visit))
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

type memberResponse struct {
	ID               uuid.UUID    `json:"id"`
	MembershipNumber string       `json:"membership_number"`
	Name             string       `json:"name"`
	Email            string       `json:"email"`
	Phone            string       `json:"phone,omitempty"`
	Status           MemberStatus `json:"status"`
	MaxActiveLoans   int          `json:"max_active_loans"`
	ExpiresAt        time.Time    `json:"expires_at"`
}

func toMemberResponse(m Member) memberResponse {
	return memberResponse{
		ID:               m.ID,
		MembershipNumber: m.MembershipNumber,
		Name:             m.Name,
		Email:            m.Email,
		Phone:            m.Phone,
		Status:           m.Status,
		MaxActiveLoans:   m.MaxActiveLoans,
		ExpiresAt:        m.ExpiresAt,
	}
}

type visitResponse struct {
	ID           uuid.UUID  `json:"id"`
	MemberID     uuid.UUID  `json:"member_id"`
	CheckInTime  time.Time  `json:"check_in_time"`
	CheckOutTime *time.Time `json:"check_out_time"`
	Active       bool       `json:"active"`
}

func toVisitResponse(v Visit) visitResponse {
	return visitResponse{
		ID:           v.ID,
		MemberID:     v.MemberID,
		CheckInTime:  v.CheckInTime,
		CheckOutTime: v.CheckOutTime,
		Active:       v.IsActive(),
	}
}

type loginResponse struct {
	Token     string         `json:"token"`
	TokenType string         `json:"token_type"`
	ExpiresAt time.Time      `json:"expires_at"`
	Member    memberResponse `json:"member"`
}
