package app

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/ccamacho/madison/internal/annotation"
	"github.com/ccamacho/madison/internal/auth"
	"github.com/ccamacho/madison/internal/export"
	"github.com/ccamacho/madison/internal/search"
	"github.com/ccamacho/madison/internal/store"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"domain", domainError(http.StatusConflict, "CONFLICT", "busy", nil), http.StatusConflict, "CONFLICT"},
		{"expired token", fmt.Errorf("session: %w", auth.ErrExpiredToken), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"invalid request", annotation.InvalidRequest("tags must not be blank"), http.StatusBadRequest, "INVALID_REQUEST"},
		{"not found", annotation.NotFound("comment c-1", store.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"wrapped not found", fmt.Errorf("get document: %w", annotation.NotFound("document", nil)), http.StatusNotFound, "NOT_FOUND"},
		{"transaction", &annotation.Error{Kind: annotation.KindTransactionFailure, Err: errors.New("boom")}, http.StatusInternalServerError, "TRANSACTION_FAILURE"},
		{"external kind", &annotation.Error{Kind: annotation.KindExternalStoreFailure}, http.StatusBadGateway, "EXTERNAL_STORE_FAILURE"},
		{"external sentinel", fmt.Errorf("meili: %w", search.ErrExternalStore), http.StatusBadGateway, "EXTERNAL_STORE_FAILURE"},
		{"unsupported format", fmt.Errorf("%w: xls", export.ErrUnsupportedFormat), http.StatusBadRequest, "UNSUPPORTED_FORMAT"},
		{"renderer missing", export.ErrPDFDependencyMissing, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE"},
		{"unknown", errors.New("disk full"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code, _, _ := mapError(tc.err)
			if status != tc.status || code != tc.code {
				t.Fatalf("mapError(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
			}
		})
	}
}
