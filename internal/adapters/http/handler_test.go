package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/application"
	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/contracts"
	"github.com/viralforge/mesh/services/integrations/M74-support-routing-service/internal/domain"
)

func newTestRouter(t *testing.T, volunteers ...domain.SupportVolunteer) http.Handler {
	t.Helper()
	repos := memory.NewRepositories()
	for _, v := range volunteers {
		if err := repos.Volunteers.Upsert(context.Background(), v); err != nil {
			t.Fatalf("seed volunteer: %v", err)
		}
	}
	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			LanguageWeight:     0.3,
			ExpertiseWeight:    0.25,
			RatingWeight:       0.2,
			ResponseTimeWeight: 0.15,
			LoadWeight:         0.1,
			UserScoreBoost:     true,
		},
		Volunteers: repos.Volunteers,
		Sessions:   repos.Sessions,
		Claims:     repos.Claims,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewRouter(NewHandler(svc))
}

func availableVolunteer() domain.SupportVolunteer {
	return domain.SupportVolunteer{
		Address:               "0xv1",
		DisplayName:           "Ada",
		Status:                domain.VolunteerAvailable,
		Languages:             []string{"en"},
		ExpertiseCategories:   []domain.RequestCategory{domain.CategoryTechnical},
		Rating:                4.5,
		MaxConcurrentSessions: 3,
	}
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) domain.SupportSession {
	t.Helper()
	var envelope struct {
		Status string                `json:"status"`
		Data   domain.SupportSession `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Status != "success" {
		t.Fatalf("expected success envelope, got %q", envelope.Status)
	}
	return envelope.Data
}

func TestRouteRequestEndpointAssigns(t *testing.T) {
	router := newTestRouter(t, availableVolunteer())

	rec := postJSON(t, router, "/api/v1/routing/requests", contracts.RouteRequestBody{
		UserAddress:    "0xuser",
		Category:       "technical",
		Priority:       "high",
		InitialMessage: "cannot log in",
		Language:       "en",
		UserScore:      70,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	session := decodeSession(t, rec)
	if session.Status != domain.SessionAssigned || session.VolunteerAddress != "0xv1" {
		t.Fatalf("unexpected session %+v", session)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestRouteRequestEndpointQueuesWithoutVolunteers(t *testing.T) {
	router := newTestRouter(t)

	rec := postJSON(t, router, "/api/v1/routing/requests", contracts.RouteRequestBody{
		UserAddress: "0xuser",
		Category:    "billing",
		Language:    "en",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	session := decodeSession(t, rec)
	if session.Status != domain.SessionWaiting {
		t.Fatalf("expected waiting session, got %s", session.Status)
	}
}

func TestRouteRequestEndpointValidation(t *testing.T) {
	router := newTestRouter(t)

	rec := postJSON(t, router, "/api/v1/routing/requests", contracts.RouteRequestBody{
		UserAddress: "0xuser",
		Category:    "nonsense",
		Language:    "en",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var envelope contracts.ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %q", envelope.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/routing/requests", bytes.NewReader([]byte("{not json")))
	badRec := httptest.NewRecorder()
	router.ServeHTTP(badRec, req)
	if badRec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", badRec.Code)
	}
}

func TestMatchProbeEndpoint(t *testing.T) {
	router := newTestRouter(t, availableVolunteer())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/routing/match?user_address=0xuser&category=technical&language=en&user_score=85", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var envelope struct {
		Data struct {
			Match *domain.SupportVolunteer `json:"match"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Match == nil || envelope.Data.Match.Address != "0xv1" {
		t.Fatalf("expected 0xv1 match, got %+v", envelope.Data.Match)
	}
}

func TestMatchProbeEndpointRejectsBadUserScore(t *testing.T) {
	router := newTestRouter(t, availableVolunteer())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/routing/match?user_address=0xuser&category=technical&language=en&user_score=lots", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var envelope contracts.ErrorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %q", envelope.Code)
	}
}

func TestMatchProbeEndpointNullWhenNoMatch(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/routing/match?user_address=0xuser&category=technical&language=en", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var envelope struct {
		Data struct {
			Match *domain.SupportVolunteer `json:"match"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Match != nil {
		t.Fatalf("expected null match, got %+v", envelope.Data.Match)
	}
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	router := newTestRouter(t, availableVolunteer())

	created := postJSON(t, router, "/api/v1/routing/requests", contracts.RouteRequestBody{
		UserAddress: "0xuser",
		Category:    "technical",
		Language:    "en",
	})
	session := decodeSession(t, created)

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/routing/sessions/"+session.SessionID, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get session: expected 200, got %d", getRec.Code)
	}

	accepted := postJSON(t, router, "/api/v1/routing/sessions/"+session.SessionID+"/accept", nil)
	if accepted.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", accepted.Code, accepted.Body.String())
	}
	if got := decodeSession(t, accepted); got.Status != domain.SessionActive {
		t.Fatalf("expected active, got %s", got.Status)
	}

	resolved := postJSON(t, router, "/api/v1/routing/sessions/"+session.SessionID+"/resolve", nil)
	if resolved.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d: %s", resolved.Code, resolved.Body.String())
	}
	if got := decodeSession(t, resolved); got.Status != domain.SessionResolved {
		t.Fatalf("expected resolved, got %s", got.Status)
	}

	// Resolving again conflicts with the terminal state.
	again := postJSON(t, router, "/api/v1/routing/sessions/"+session.SessionID+"/resolve", nil)
	if again.Code != http.StatusConflict {
		t.Fatalf("double resolve: expected 409, got %d", again.Code)
	}
}

func TestCancelEndpointOnWaitingSession(t *testing.T) {
	router := newTestRouter(t)

	created := postJSON(t, router, "/api/v1/routing/requests", contracts.RouteRequestBody{
		UserAddress: "0xuser",
		Category:    "account",
		Language:    "en",
	})
	session := decodeSession(t, created)

	cancelled := postJSON(t, router, "/api/v1/routing/sessions/"+session.SessionID+"/cancel", nil)
	if cancelled.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", cancelled.Code)
	}
	if got := decodeSession(t, cancelled); got.Status != domain.SessionCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/routing/sessions/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	router := newTestRouter(t, availableVolunteer())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/routing/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var envelope struct {
		Data domain.RoutingStats `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.AvailableVolunteers != 1 {
		t.Fatalf("expected one available volunteer, got %d", envelope.Data.AvailableVolunteers)
	}
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}
