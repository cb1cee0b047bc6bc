package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cratewatch/cratewatch/pkg/errors"
	"github.com/cratewatch/cratewatch/pkg/graph"
	"github.com/cratewatch/cratewatch/pkg/retry"
	"github.com/cratewatch/cratewatch/pkg/semver"
)

const serdeDeps = `{
	"dependencies": [
		{"crate_id": "serde_derive", "req": "=1.0.5", "kind": "normal", "optional": true},
		{"crate_id": "proc-macro2", "req": "^1.0", "kind": "dev", "optional": false}
	]
}`

func fastClient(url string, opts ...ClientOption) *Client {
	base := []ClientOption{
		WithBaseURL(url),
		WithRateLimit(1000, 1000),
		WithMaxRetries(2),
	}
	c := NewClient(append(base, opts...)...)
	c.backoff = &retry.Config{Strategy: retry.StrategyConstant, BaseInterval: time.Millisecond}
	return c
}

func TestClient_Dependencies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/crates/serde/1.0.5/dependencies" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("request should carry a User-Agent")
		}
		w.Write([]byte(serdeDeps))
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	deps, err := c.Dependencies(context.Background(), "serde", semver.MustParseVersion("1.0.5"))
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("len(deps) = %d, want 2", len(deps))
	}
	want := graph.DeclaredDep{Name: "serde_derive", Requirement: "=1.0.5", Kind: graph.EdgeNormal, Optional: true}
	if deps[0] != want {
		t.Errorf("deps[0] = %+v, want %+v", deps[0], want)
	}
	if deps[1].Kind != graph.EdgeDev {
		t.Errorf("deps[1].Kind = %v, want dev", deps[1].Kind)
	}
}

func TestClient_Dependencies_NotFound(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	_, err := c.Dependencies(context.Background(), "ghost", semver.MustParseVersion("0.1.0"))
	if !errors.IsKind(err, errors.KindNotFound) {
		t.Fatalf("err = %v, want not_found", err)
	}
	// 404 is terminal, never retried.
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestClient_Dependencies_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(serdeDeps))
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	deps, err := c.Dependencies(context.Background(), "serde", semver.MustParseVersion("1.0.5"))
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	if len(deps) != 2 {
		t.Errorf("len(deps) = %d, want 2", len(deps))
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestClient_Dependencies_ExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := fastClient(srv.URL)
	_, err := c.Dependencies(context.Background(), "serde", semver.MustParseVersion("1.0.5"))
	if !errors.IsKind(err, errors.KindNetwork) {
		t.Fatalf("err = %v, want network", err)
	}
}

func TestClient_Dependencies_CacheHit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(serdeDeps))
	}))
	defer srv.Close()

	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	c := fastClient(srv.URL, WithCache(cache))
	ctx := context.Background()
	version := semver.MustParseVersion("1.0.5")

	for i := 0; i < 3; i++ {
		deps, err := c.Dependencies(ctx, "serde", version)
		if err != nil {
			t.Fatalf("Dependencies #%d: %v", i, err)
		}
		if len(deps) != 2 {
			t.Fatalf("len(deps) = %d, want 2", len(deps))
		}
	}

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1 (later lookups served from cache)", n)
	}
}

func TestCache_Expiry(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"), WithTTL(time.Hour))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	deps := []graph.DeclaredDep{{Name: "log", Requirement: "^0.4", Kind: graph.EdgeNormal}}
	if err := cache.Put(ctx, "env_logger@0.9.0", deps); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, ok := cache.Get(ctx, "env_logger@0.9.0"); !ok {
		t.Fatal("fresh entry should hit")
	}

	cache.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, ok := cache.Get(ctx, "env_logger@0.9.0"); ok {
		t.Error("stale entry should miss")
	}

	n, err := cache.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune removed %d entries, want 1", n)
	}
}

func TestCache_MissOnUnknownKey(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	if _, ok := cache.Get(context.Background(), "nothing@1.0.0"); ok {
		t.Error("unknown key should miss")
	}
}

// The client satisfies the deep-scan metadata source contract.
var _ graph.MetadataSource = (*Client)(nil)
