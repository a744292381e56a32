package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestTokenAuth_DisabledWhenEmpty(t *testing.T) {
	h := TokenAuth("")(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("empty token should disable auth, got %d", rec.Code)
	}
}

func TestTokenAuth_AcceptedForms(t *testing.T) {
	h := TokenAuth("secret")(okHandler())

	cases := []struct {
		name    string
		prepare func(r *http.Request)
		want    int
	}{
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized},
		{"wrong header", func(r *http.Request) { r.Header.Set("X-Api-Token", "nope") }, http.StatusUnauthorized},
		{"header", func(r *http.Request) { r.Header.Set("X-Api-Token", "secret") }, http.StatusOK},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") }, http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
		tc.prepare(req)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}

func TestTokenAuth_QueryParamForSSE(t *testing.T) {
	h := TokenAuth("secret")(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?api_token=secret", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("query token should be accepted, got %d", rec.Code)
	}
}

func TestAllowSubnet(t *testing.T) {
	_, allowed, err := net.ParseCIDR("10.0.0.0/8")
	if err != nil {
		t.Fatalf("parse cidr: %v", err)
	}
	h := AllowSubnet(allowed)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:51000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("in-subnet request rejected: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:51000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("out-of-subnet request allowed: %d", rec.Code)
	}
}

func TestAllowSubnet_NilAllowsAll(t *testing.T) {
	h := AllowSubnet(nil)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:44000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("nil subnet should allow all, got %d", rec.Code)
	}
}
