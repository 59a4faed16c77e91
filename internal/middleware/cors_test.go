package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		origins         []string
		origin          string
		method          string
		wantOrigin      string
		wantCredentials string
		wantStatus      int
		wantNext        bool
	}{
		{"explicit origin", []string{"http://app.test"}, "http://app.test", http.MethodGet, "http://app.test", "true", http.StatusOK, true},
		{"wildcard has no credentials", []string{"*"}, "http://evil.test", http.MethodGet, "http://evil.test", "", http.StatusOK, true},
		{"unknown origin", []string{"http://app.test"}, "http://evil.test", http.MethodGet, "", "", http.StatusOK, true},
		{"preflight", []string{"http://app.test"}, "http://app.test", http.MethodOptions, "http://app.test", "true", http.StatusNoContent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			called := false
			h := CORS(DefaultCORSConfig(tt.origins...))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/chat", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCredentials {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCredentials)
			}
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != tt.wantNext {
				t.Errorf("next called = %v, want %v", called, tt.wantNext)
			}
		})
	}
}
