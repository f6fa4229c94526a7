package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html": {Data: []byte("<!doctype html><title>Vryxia</title>")},
		"app.js":     {Data: []byte("console.log('hi')")},
	}
}

func TestSPAHandler(t *testing.T) {
	h := spaHandler(testFS())

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"root serves index", "/", http.StatusOK, "<title>Vryxia</title>"},
		{"asset served", "/app.js", http.StatusOK, "console.log"},
		{"client route falls back", "/chat/tab-1", http.StatusOK, "<title>Vryxia</title>"},
		{"missing asset is 404", "/ui-open.mp3", http.StatusNotFound, ""},
		{"api path is 404", "/api/unknown", http.StatusNotFound, ""},
		{"ws path is 404", "/ws/unknown", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("expected body to contain %q, got %q", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestEmbeddedIndexPresent(t *testing.T) {
	rec := httptest.NewRecorder()
	SPAHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected embedded index, got %d", rec.Code)
	}
	if rec.Header().Get("Cache-Control") != "no-cache" {
		t.Fatal("expected index to be served with no-cache")
	}
}
