package tokenstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lumencanvas/clasp/pkg/security"
)

func TestPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "tokens.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	scope, _ := security.NewScope(security.ActionWrite, "/lights/**")
	expiry := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	info := security.TokenInfo{Subject: "alice", Scopes: []security.Scope{scope}, ExpiresAt: &expiry}

	if err := st.Put(ctx, "cpsk_abc", info); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := st.Get(ctx, "cpsk_abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Subject != "alice" {
		t.Fatalf("expected subject alice, got %q", got.Subject)
	}
	if len(got.Scopes) != 1 || !got.Scopes[0].Allows(security.ActionWrite, "/lights/1") {
		t.Fatalf("expected round-tripped scope to permit write, got %+v", got.Scopes)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expiry) {
		t.Fatalf("expected expiry to round-trip, got %v", got.ExpiresAt)
	}

	ids, err := st.List(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "cpsk_abc" {
		t.Fatalf("expected 1 listed token, got %v err=%v", ids, err)
	}

	deleted, err := st.Delete(ctx, "cpsk_abc")
	if err != nil || !deleted {
		t.Fatalf("expected delete to succeed, got deleted=%v err=%v", deleted, err)
	}

	if _, err := st.Get(ctx, "cpsk_abc"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	st, _ := Open(filepath.Join(dir, "tokens.db"))
	defer st.Close()

	ctx := context.Background()
	scope, _ := security.NewScope(security.ActionRead, "/public/**")
	st.Put(ctx, "cpsk_a", security.TokenInfo{Subject: "a", Scopes: []security.Scope{scope}})
	st.Put(ctx, "cpsk_b", security.TokenInfo{Subject: "b", Scopes: []security.Scope{scope}})

	all, err := st.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 loaded tokens, got %d", len(all))
	}
}
