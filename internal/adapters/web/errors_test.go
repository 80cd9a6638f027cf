package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"barstock/internal/auth"
	"barstock/internal/core"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code core.ErrorCode
		want int
	}{
		{core.CodeUnauthenticated, http.StatusUnauthorized},
		{core.CodeForbidden, http.StatusForbidden},
		{core.CodeNotFound, http.StatusNotFound},
		{core.CodeConflict, http.StatusConflict},
		{core.CodeSessionAlreadyClosed, http.StatusConflict},
		{core.CodeMappingOverlap, http.StatusConflict},
		{core.CodePreconditionFailed, http.StatusPreconditionFailed},
		{core.CodeVarianceReasonsRequired, http.StatusUnprocessableEntity},
		{core.CodeValidation, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if got := httpStatus(tc.code); got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestWriteDomainCarriesCodeAndDetails(t *testing.T) {
	err := core.NewDomainError(core.CodeVarianceReasonsRequired, "3 items need reasons").
		WithDetail("item_ids", []int64{4, 7, 9})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/locations/1/sessions/2/close", nil)
	writeDomain(rec, req, err)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Code != string(core.CodeVarianceReasonsRequired) {
		t.Fatalf("code = %q", body.Code)
	}
	if body.Details == nil || body.Details["item_ids"] == nil {
		t.Fatalf("details missing: %+v", body.Details)
	}
}

func TestWriteDomainRateLimited(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	writeDomain(rec, req, fmt.Errorf("login: %w", auth.ErrRateLimited))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestWriteDomainOpaque500(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	writeDomain(rec, req, fmt.Errorf("failed to query: connection refused"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Code != "ERR_INTERNAL" {
		t.Fatalf("code = %q", body.Code)
	}
}
