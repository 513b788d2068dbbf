package cache

import (
	"context"
	"testing"
	"time"
)

func TestLocalLayerRoundTrip(t *testing.T) {
	c := New("")
	ctx := context.Background()

	if _, ok := c.Get(ctx, "missing", time.Minute); ok {
		t.Fatal("empty cache returned a hit")
	}

	c.Set(ctx, "signals:default", []byte(`[{"entity":"Bitcoin"}]`), 2*time.Minute, time.Minute)
	got, ok := c.Get(ctx, "signals:default", time.Minute)
	if !ok {
		t.Fatal("expected local hit")
	}
	if string(got) != `[{"entity":"Bitcoin"}]` {
		t.Errorf("got %q", got)
	}
}

func TestLocalExpiry(t *testing.T) {
	c := New("")
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute, -time.Second)
	if _, ok := c.Get(ctx, "k", time.Minute); ok {
		t.Fatal("expired entry served")
	}
	if st := c.GetStats(); st.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", st.Misses)
	}
}

func TestPurgeExpired(t *testing.T) {
	c := New("")
	ctx := context.Background()

	c.Set(ctx, "dead", []byte("v"), time.Minute, -time.Second)
	c.Set(ctx, "live", []byte("v"), time.Minute, time.Minute)

	if purged := c.PurgeExpired(); purged != 1 {
		t.Errorf("purged %d entries, want 1", purged)
	}
	if st := c.GetStats(); st.LocalEntries != 1 {
		t.Errorf("expected 1 surviving entry, got %d", st.LocalEntries)
	}
}

func TestBadRedisURLFailsOpen(t *testing.T) {
	c := New("://not-a-url")
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute, time.Minute)
	if _, ok := c.Get(ctx, "k", time.Minute); !ok {
		t.Fatal("local layer should still work without a shared layer")
	}
	if c.GetStats().SharedLayer {
		t.Error("shared layer should be disabled on a bad url")
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("ping without shared layer should be healthy, got %v", err)
	}
}
