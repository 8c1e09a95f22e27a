package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusOK, map[string]int{"ticks": 3})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "\n  \"ticks\": 3") {
		t.Errorf("body not indented: %q", rec.Body.String())
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusInternalServerError, "boom")

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusInternalServerError || resp["error"] != "boom" {
		t.Errorf("got %d %v", rec.Code, resp)
	}
}

func TestRequireGET(t *testing.T) {
	tests := []struct {
		method string
		ok     bool
	}{
		{http.MethodGet, true},
		{http.MethodPost, false},
		{http.MethodDelete, false},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			rec := httptest.NewRecorder()
			if got := RequireGET(rec, httptest.NewRequest(tt.method, "/", nil)); got != tt.ok {
				t.Fatalf("RequireGET() = %v, want %v", got, tt.ok)
			}
			if !tt.ok {
				if rec.Code != http.StatusMethodNotAllowed {
					t.Errorf("status = %d", rec.Code)
				}
				if allow := rec.Header().Get("Allow"); allow != http.MethodGet {
					t.Errorf("Allow = %q", allow)
				}
			}
		})
	}
}
