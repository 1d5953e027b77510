package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/application"
	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/contracts"
)

// Handler is the HTTP adapter entrypoint for routing operations.
type Handler struct {
	service *application.Service
}

func NewHandler(service *application.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) routeRequest(w http.ResponseWriter, r *http.Request) {
	var req contracts.RouteRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body", requestIDFromContext(r.Context()))
		return
	}
	session, err := h.service.RouteRequest(r.Context(), application.RouteRequestInput{
		RequestID:      req.RequestID,
		UserAddress:    req.UserAddress,
		Category:       req.Category,
		Priority:       req.Priority,
		InitialMessage: req.InitialMessage,
		Language:       req.Language,
		UserScore:      req.UserScore,
	})
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusCreated, session)
}

func (h *Handler) matchProbe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userScore := 0
	if raw := strings.TrimSpace(q.Get("user_score")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "user_score must be an integer", requestIDFromContext(r.Context()))
			return
		}
		userScore = v
	}
	volunteer, err := h.service.FindBestVolunteer(r.Context(), application.RouteRequestInput{
		UserAddress: q.Get("user_address"),
		Category:    q.Get("category"),
		Priority:    q.Get("priority"),
		Language:    q.Get("language"),
		UserScore:   userScore,
	})
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	if volunteer == nil {
		writeSuccess(w, http.StatusOK, map[string]any{"match": nil})
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"match": volunteer})
}

func (h *Handler) routingStats(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, h.service.GetRoutingStats(r.Context()))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, session)
}

func (h *Handler) acceptSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.AcceptSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, session)
}

func (h *Handler) resolveSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.ResolveSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, session)
}

func (h *Handler) cancelSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.CancelSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, session)
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readyz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ready"})
}
