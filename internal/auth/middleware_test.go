package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// okHandler is a simple handler that writes 200 OK with body "ok".
func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestAdminMiddleware(t *testing.T) {
	const ownerKey = "test-owner-key"

	t.Run("valid Bearer token returns 200", func(t *testing.T) {
		handler := AdminMiddleware(ownerKey, nil)(okHandler())

		req := httptest.NewRequest(http.MethodPost, "/v1/quota/reset", nil)
		req.Header.Set("Authorization", "Bearer "+ownerKey)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if rec.Body.String() != "ok" {
			t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
		}
	})

	t.Run("invalid Bearer token returns 401", func(t *testing.T) {
		handler := AdminMiddleware(ownerKey, nil)(okHandler())

		req := httptest.NewRequest(http.MethodPost, "/v1/quota/reset", nil)
		req.Header.Set("Authorization", "Bearer wrong-key")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("missing Authorization header returns 401", func(t *testing.T) {
		handler := AdminMiddleware(ownerKey, nil)(okHandler())

		req := httptest.NewRequest(http.MethodPost, "/v1/quota/reset", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("basic scheme returns 401", func(t *testing.T) {
		handler := AdminMiddleware(ownerKey, nil)(okHandler())

		req := httptest.NewRequest(http.MethodPost, "/v1/quota/reset", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("unconfigured owner key rejects everything", func(t *testing.T) {
		handler := AdminMiddleware("", nil)(okHandler())

		req := httptest.NewRequest(http.MethodPost, "/v1/quota/reset", nil)
		req.Header.Set("Authorization", "Bearer anything")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("repeated failures trigger 429 with Retry-After", func(t *testing.T) {
		rl := NewRateLimiter(DefaultRateLimitConfig())
		handler := AdminMiddleware(ownerKey, rl)(okHandler())

		var last *httptest.ResponseRecorder
		for i := 0; i < 11; i++ {
			req := httptest.NewRequest(http.MethodPost, "/v1/quota/reset", nil)
			req.RemoteAddr = "203.0.113.9:40000"
			req.Header.Set("Authorization", "Bearer wrong-key")
			last = httptest.NewRecorder()
			handler.ServeHTTP(last, req)
		}

		if last.Code != http.StatusTooManyRequests {
			t.Errorf("status = %d, want %d", last.Code, http.StatusTooManyRequests)
		}
		if last.Header().Get("Retry-After") == "" {
			t.Error("missing Retry-After header on blocked response")
		}
	})

	t.Run("success clears failure tracking", func(t *testing.T) {
		rl := NewRateLimiter(DefaultRateLimitConfig())
		handler := AdminMiddleware(ownerKey, rl)(okHandler())

		for i := 0; i < 5; i++ {
			req := httptest.NewRequest(http.MethodPost, "/v1/quota/reset", nil)
			req.RemoteAddr = "203.0.113.9:40000"
			req.Header.Set("Authorization", "Bearer wrong-key")
			handler.ServeHTTP(httptest.NewRecorder(), req)
		}

		req := httptest.NewRequest(http.MethodPost, "/v1/quota/reset", nil)
		req.RemoteAddr = "203.0.113.9:40000"
		req.Header.Set("Authorization", "Bearer "+ownerKey)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if rl.IsAuthBlocked("203.0.113.9:40000") {
			t.Error("IP still tracked after successful auth")
		}
	})
}

func TestClientIPKeyFunc(t *testing.T) {
	t.Run("with X-Forwarded-For returns first IP", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18, 150.172.238.178")

		got := ClientIPKeyFunc(req)
		if got != "203.0.113.50" {
			t.Errorf("ClientIPKeyFunc() = %q, want %q", got, "203.0.113.50")
		}
	})

	t.Run("without X-Forwarded-For returns RemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"

		got := ClientIPKeyFunc(req)
		if got != "192.168.1.1:12345" {
			t.Errorf("ClientIPKeyFunc() = %q, want %q", got, "192.168.1.1:12345")
		}
	})
}
