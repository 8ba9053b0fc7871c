package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:exporter|asker, k2:bob:asker")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if identity.Principal != "alice" {
		t.Fatalf("Principal = %q", identity.Principal)
	}
	if !identity.HasRole(RoleAsker) || !identity.HasRole(RoleExporter) {
		t.Fatalf("Roles = %v", identity.Roles)
	}
	bob, ok := validator.Validate(context.Background(), "k2")
	if !ok || bob.HasRole(RoleExporter) {
		t.Fatalf("bob = %+v, %v", bob, ok)
	}
	if _, ok := validator.Validate(context.Background(), "nope"); ok {
		t.Fatal("unknown key accepted")
	}
}

func TestStaticAPIKeyValidatorRejectsBadSpec(t *testing.T) {
	for _, spec := range []string{
		"invalid",
		"k1::asker",
		"k1:alice:",
		"k1:alice:root",
		"k1:al/ice:asker",
		"k1:alice:asker,k1:bob:asker",
	} {
		if _, err := NewStaticAPIKeyValidator(spec); err == nil {
			t.Fatalf("NewStaticAPIKeyValidator(%q) expected parse error", spec)
		}
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:asker")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, key := range []string{"", "wrong"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("key %q: status = %d, want %d", key, rr.Code, http.StatusUnauthorized)
		}
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:asker")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		if identity.Principal != "alice" {
			t.Fatalf("Principal = %q", identity.Principal)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	req.Header.Set("X-API-Key", "k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAnonymousMiddleware(t *testing.T) {
	handler := AnonymousMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok || identity.Principal != AnonymousPrincipal || !identity.HasRole(RoleExporter) {
			t.Fatalf("identity = %+v, %v", identity, ok)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/x", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		value      string
		wantKey    string
		wantSource string
	}{
		{name: "api key header", header: "X-API-Key", value: " k1 ", wantKey: "k1", wantSource: "header"},
		{name: "bearer", header: "Authorization", value: "Bearer k1", wantKey: "k1", wantSource: "bearer"},
		{name: "lowercase scheme", header: "Authorization", value: "bearer k1", wantKey: "k1", wantSource: "bearer"},
		{name: "basic scheme ignored", header: "Authorization", value: "Basic a2V5", wantKey: ""},
		{name: "no header", wantKey: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/sessions/x", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			key, source := extractAPIKey(req)
			if key != tt.wantKey || source != tt.wantSource {
				t.Fatalf("extractAPIKey() = %q, %q", key, source)
			}
		})
	}
}

func TestUnauthorizedResponseAdvertisesBearer(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:alice:asker")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}
	handler := Middleware(nil, validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions/x", nil))
	if got := rr.Header().Get("WWW-Authenticate"); got != `Bearer realm="chatdb"` {
		t.Fatalf("WWW-Authenticate = %q", got)
	}
}
