package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPResolver(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/profiles/W1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"displayName":"  Tux  ","bio":"ice architect"}`))
		case "/profiles/unknown":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	resolver := NewHTTPResolver(srv.URL + "/")

	t.Run("known wallet", func(t *testing.T) {
		name, err := resolver.ResolveDisplayName(ctx, "W1")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if name != "Tux" {
			t.Fatalf("expected trimmed name Tux, got %q", name)
		}
	})

	t.Run("unknown wallet is empty not error", func(t *testing.T) {
		name, err := resolver.ResolveDisplayName(ctx, "unknown")
		if err != nil || name != "" {
			t.Fatalf("expected empty result, got %q (%v)", name, err)
		}
	})

	t.Run("server failure surfaces", func(t *testing.T) {
		if _, err := resolver.ResolveDisplayName(ctx, "broken"); err == nil {
			t.Fatal("expected error on 500")
		}
	})

	t.Run("blank wallet rejected", func(t *testing.T) {
		if _, err := resolver.ResolveDisplayName(ctx, "  "); err == nil {
			t.Fatal("expected error for blank wallet")
		}
	})
}

func TestStaticResolver(t *testing.T) {
	resolver := StaticResolver{"W1": "Tux"}
	name, err := resolver.ResolveDisplayName(context.Background(), "W1")
	if err != nil || name != "Tux" {
		t.Fatalf("expected Tux, got %q (%v)", name, err)
	}
	if name, _ := resolver.ResolveDisplayName(context.Background(), "W2"); name != "" {
		t.Fatalf("expected empty for unknown wallet, got %q", name)
	}
}
