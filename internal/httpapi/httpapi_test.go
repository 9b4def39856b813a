package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lumencanvas/clasp/internal/router"
	"github.com/lumencanvas/clasp/pkg/security"
)

func TestHandleHealth(t *testing.T) {
	rt := router.New(router.DefaultConfig(), nil)
	defer rt.Close()
	s := New(rt, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %q", resp.Status)
	}
}

func TestHandleCreateTokenRequiresValidator(t *testing.T) {
	rt := router.New(router.DefaultConfig(), nil)
	defer rt.Close()
	s := New(rt, nil, nil)

	body := strings.NewReader(`{"subject":"alice","scopes":["write:/lights/**"]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/tokens", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without a validator, got %d", rec.Code)
	}
}

func TestHandleCreateAndDeleteToken(t *testing.T) {
	rt := router.New(router.DefaultConfig(), nil)
	defer rt.Close()
	cpsk := security.NewCpskValidator()
	s := New(rt, cpsk, nil)

	body := strings.NewReader(`{"subject":"alice","scopes":["write:/lights/**"]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/tokens", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created CreateTokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if created.Token == "" {
		t.Fatalf("expected a non-empty token")
	}

	delReq := httptest.NewRequest(http.MethodDelete, "/v1/tokens/"+created.Token, nil)
	delRec := httptest.NewRecorder()
	s.echo.ServeHTTP(delRec, delReq)
	if delRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", delRec.Code)
	}

	if outcome := cpsk.Validate(created.Token).Outcome; outcome != security.ValidationInvalid {
		t.Fatalf("expected revoked token to validate as Invalid, got %v", outcome)
	}
}

func TestHandleSessionsEmpty(t *testing.T) {
	rt := router.New(router.DefaultConfig(), nil)
	defer rt.Close()
	s := New(rt, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var sessions []SessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(sessions))
	}
}
