package tiered_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/agentgate/internal/adapter/tiered"
	"github.com/Strob0t/agentgate/internal/port/cache/cachetest"
)

// memCache is a simple in-memory cache for testing that remembers the TTL
// of every write.
type memCache struct {
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	delErr error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return m.delErr
}

func TestTiered_Compliance(t *testing.T) {
	cachetest.Run(t, tiered.New(newMemCache(), newMemCache(), time.Minute))
}

func TestTiered_L1Hit(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	l1.data["peer.a"] = []byte("v1")
	l2.getErr = errors.New("must not reach L2")

	val, found, err := c.Get(context.Background(), "peer.a")
	if err != nil || !found || string(val) != "v1" {
		t.Fatalf("expected L1 hit, got %q found=%v err=%v", val, found, err)
	}
}

func TestTiered_L2HitWithBackfill(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, 5*time.Second)
	l2.data["peer.b"] = []byte("v2")

	val, found, err := c.Get(context.Background(), "peer.b")
	if err != nil || !found || string(val) != "v2" {
		t.Fatalf("expected L2 hit, got %q found=%v err=%v", val, found, err)
	}
	if string(l1.data["peer.b"]) != "v2" {
		t.Fatal("expected L1 backfill")
	}
	if l1.ttls["peer.b"] != 5*time.Second {
		t.Errorf("backfill ttl = %v, want 5s", l1.ttls["peer.b"])
	}
}

func TestTiered_L2ErrorIsReturned(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	l2.getErr = errors.New("nats down")
	c := tiered.New(l1, l2, time.Second)
	if _, _, err := c.Get(context.Background(), "peer.c"); !errors.Is(err, l2.getErr) {
		t.Fatalf("expected L2 error, got %v", err)
	}
}

func TestTiered_SetCapsL1TTL(t *testing.T) {
	tests := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{"longer than l1 expire", time.Minute, 5 * time.Second},
		{"no expiry", 0, 5 * time.Second},
		{"shorter than l1 expire", time.Second, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l1, l2 := newMemCache(), newMemCache()
			c := tiered.New(l1, l2, 5*time.Second)
			if err := c.Set(context.Background(), "peer.d", []byte("v"), tt.ttl); err != nil {
				t.Fatal(err)
			}
			if l2.ttls["peer.d"] != tt.ttl {
				t.Errorf("L2 ttl = %v, want %v", l2.ttls["peer.d"], tt.ttl)
			}
			if l1.ttls["peer.d"] != tt.want {
				t.Errorf("L1 ttl = %v, want %v", l1.ttls["peer.d"], tt.want)
			}
		})
	}
}

func TestTiered_DeleteBothEvenOnError(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, time.Minute)
	l1.data["peer.e"] = []byte("v")
	l2.data["peer.e"] = []byte("v")
	l1.delErr = errors.New("l1 broken")

	err := c.Delete(context.Background(), "peer.e")
	if !errors.Is(err, l1.delErr) {
		t.Fatalf("expected L1 error, got %v", err)
	}
	if _, ok := l2.data["peer.e"]; ok {
		t.Fatal("expected L2 delete despite L1 failure")
	}
}

func TestTiered_WithoutL2(t *testing.T) {
	l1 := newMemCache()
	c := tiered.New(l1, nil, time.Second)
	ctx := context.Background()
	if err := c.Set(ctx, "peer.f", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if l1.ttls["peer.f"] != time.Minute {
		t.Errorf("single-tier ttl = %v, want the caller's 1m", l1.ttls["peer.f"])
	}
	if _, found, _ := c.Get(ctx, "peer.f"); !found {
		t.Fatal("expected hit")
	}
	if err := c.Delete(ctx, "peer.f"); err != nil {
		t.Fatal(err)
	}
}
