// Package cachetest holds the behaviour every cache.Cache implementation
// must show.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/agentgate/internal/port/cache"
)

// Run exercises c against the cache contract.
func Run(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "peer.a1", []byte(`{"id":"a1"}`), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, "peer.a1")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != `{"id":"a1"}` {
			t.Fatalf("unexpected value %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "peer.nonexistent")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := c.Set(ctx, "peer.gone", []byte("x"), time.Minute); err != nil {
			t.Fatal(err)
		}
		if err := c.Delete(ctx, "peer.gone"); err != nil {
			t.Fatal(err)
		}
		if _, found, err := c.Get(ctx, "peer.gone"); err != nil || found {
			t.Fatalf("expected miss after Delete, found=%v err=%v", found, err)
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "peer.never-existed"); err != nil {
			t.Fatalf("Delete of nonexistent key should not error: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "peer.ow", []byte("v1"), time.Minute)
		_ = c.Set(ctx, "peer.ow", []byte("v2"), time.Minute)
		val, found, err := c.Get(ctx, "peer.ow")
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %s (found=%v)", val, found)
		}
	})
}
