package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestServer_Endpoints(t *testing.T) {
	srv := NewServer("127.0.0.1:0", zerolog.Nop())

	HeartbeatsTotal.WithLabelValues("allowed").Inc()
	ViewingSecondsCounted.WithLabelValues("counted").Add(30)

	tests := []struct {
		path     string
		contains string
	}{
		{"/health", "OK"},
		{"/metrics", "screentime_heartbeats_total"},
		{"/metrics", "screentime_viewing_seconds_total"},
	}

	for _, tt := range tests {
		t.Run(tt.path+" "+tt.contains, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", rec.Code)
			}
			body, _ := io.ReadAll(rec.Body)
			if !strings.Contains(string(body), tt.contains) {
				t.Errorf("Expected body to contain %q", tt.contains)
			}
		})
	}
}
