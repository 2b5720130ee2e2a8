package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"entityid/pkg/platform/sentinel"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "internal_error" {
			t.Fatalf("expected error code internal_error, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("wrapped sentinel includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, fmt.Errorf("identifier C00009: %w", sentinel.ErrNotFound))

		if w.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "not_found" {
			t.Fatalf("expected error code not_found, got %q", body["error"])
		}
		if body["error_description"] != "identifier C00009: not found" {
			t.Fatalf("unexpected error_description %q", body["error_description"])
		}
	})
}

func TestStatus(t *testing.T) {
	cases := map[error]int{
		sentinel.ErrInvalidInput: http.StatusUnprocessableEntity,
		sentinel.ErrConflict:     http.StatusConflict,
		sentinel.ErrInvalidState: http.StatusConflict,
		sentinel.ErrExhausted:    http.StatusConflict,
		sentinel.ErrForbidden:    http.StatusForbidden,
		sentinel.ErrUnavailable:  http.StatusServiceUnavailable,
	}
	for err, want := range cases {
		if got, _ := Status(err); got != want {
			t.Errorf("Status(%v) = %d, want %d", err, got, want)
		}
	}
}

func TestDecode(t *testing.T) {
	type body struct {
		Name string `json:"name"`
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
	got, ok := Decode[body](httptest.NewRecorder(), r, logger)
	if !ok || got.Name != "x" {
		t.Fatalf("Decode = %+v, %v", got, ok)
	}

	w := httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"other":1}`))
	if _, ok := Decode[body](w, r, logger); ok {
		t.Fatalf("expected unknown field to be rejected")
	}
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}
