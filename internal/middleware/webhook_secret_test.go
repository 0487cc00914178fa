package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestWebhookSecret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{name: "disabled", secret: "", header: "", want: http.StatusNoContent},
		{name: "match", secret: "s3cret", header: "s3cret", want: http.StatusNoContent},
		{name: "missing", secret: "s3cret", header: "", want: http.StatusForbidden},
		{name: "mismatch", secret: "s3cret", header: "nope", want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", nil)
			if tt.header != "" {
				req.Header.Set(SecretTokenHeader, tt.header)
			}
			w := httptest.NewRecorder()

			WebhookSecret(tt.secret)(okHandler()).ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}
