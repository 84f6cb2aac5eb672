//go:build integration

package redis_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/inferrecovery"
	storeredis "github.com/ineyio/inferrecovery/store/redis"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestStore(t *testing.T, client *goredis.Client) (*storeredis.Store, string) {
	t.Helper()
	// Use a unique prefix per test to avoid collisions.
	prefix := "test:" + t.Name() + ":"
	s := storeredis.New(client, storeredis.WithKeyPrefix(prefix))
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	return s, prefix
}

func TestSetAndGet(t *testing.T) {
	client := newTestClient(t)
	store, prefix := newTestStore(t, client)
	ctx := context.Background()

	ec := inferrecovery.ErrorContext{ID: "id-1", OperationID: "op-1", AttemptNumber: 2, ErrorKind: inferrecovery.KindTimeout}
	if err := store.SetWithExpiry(ctx, inferrecovery.ErrorContextKey("op-1"), ec, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := inferrecovery.GetJSON[inferrecovery.ErrorContext](ctx, store, inferrecovery.ErrorContextKey("op-1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || *got != ec {
		t.Fatalf("unexpected value: %+v", got)
	}

	ttl := client.TTL(ctx, prefix+inferrecovery.ErrorContextKey("op-1")).Val()
	if ttl <= 0 || ttl > time.Hour {
		t.Fatalf("expected ttl within 1h, got %v", ttl)
	}
}

func TestGetMissing(t *testing.T) {
	client := newTestClient(t)
	store, _ := newTestStore(t, client)

	var n int
	found, err := store.GetJSON(context.Background(), "missing", &n)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("expected missing key")
	}
}

func TestIncrementSetsExpiryOnce(t *testing.T) {
	client := newTestClient(t)
	store, prefix := newTestStore(t, client)
	ctx := context.Background()

	n, err := store.IncrementWithExpiry(ctx, "c", time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("first increment: n=%d err=%v", n, err)
	}

	// Shorten the window, then increment again: the expiry must not be reset.
	client.PExpire(ctx, prefix+"c", 5*time.Second)
	n, err = store.IncrementWithExpiry(ctx, "c", time.Minute)
	if err != nil || n != 2 {
		t.Fatalf("second increment: n=%d err=%v", n, err)
	}
	if ttl := client.PTTL(ctx, prefix+"c").Val(); ttl > 5*time.Second {
		t.Fatalf("expiry was extended: %v", ttl)
	}

	var got int64
	if _, err := store.GetJSON(ctx, "c", &got); err != nil || got != 2 {
		t.Fatalf("read counter: got=%d err=%v", got, err)
	}
}

func TestIncrementRepairsMissingTTL(t *testing.T) {
	client := newTestClient(t)
	store, prefix := newTestStore(t, client)
	ctx := context.Background()

	client.Set(ctx, prefix+"c", 4, 0)

	n, err := store.IncrementWithExpiry(ctx, "c", time.Minute)
	if err != nil || n != 5 {
		t.Fatalf("increment: n=%d err=%v", n, err)
	}
	if ttl := client.PTTL(ctx, prefix+"c").Val(); ttl <= 0 {
		t.Fatalf("expected ttl to be set, got %v", ttl)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	client := newTestClient(t)
	store, _ := newTestStore(t, client)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.IncrementWithExpiry(ctx, "c", time.Minute); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	var got int64
	if _, err := store.GetJSON(ctx, "c", &got); err != nil || got != 50 {
		t.Fatalf("expected 50, got %d (err=%v)", got, err)
	}
}

func TestGetCounts(t *testing.T) {
	client := newTestClient(t)
	store, _ := newTestStore(t, client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.IncrementWithExpiry(ctx, "a", time.Minute); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if err := store.SetWithExpiry(ctx, "b", 5, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	counts, err := store.GetCounts(ctx, []string{"a", "missing", "b"})
	if err != nil {
		t.Fatalf("get counts: %v", err)
	}
	if len(counts) != 3 || counts[0] != 3 || counts[1] != 0 || counts[2] != 5 {
		t.Fatalf("unexpected counts: %v", counts)
	}

	// All keys missing.
	counts, err = store.GetCounts(ctx, []string{"x", "y"})
	if err != nil {
		t.Fatalf("get counts: %v", err)
	}
	if counts[0] != 0 || counts[1] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestOrchestratorWithRedis(t *testing.T) {
	client := newTestClient(t)
	store, _ := newTestStore(t, client)
	ctx := context.Background()

	o := inferrecovery.New(store)
	d := o.HandleError(ctx, errors.New("Network error"), "op-1", "u1", "a1", 1)
	if !d.ShouldRetry {
		t.Fatalf("expected retry, got %+v", d)
	}

	stats := o.GetErrorStatistics(ctx, inferrecovery.RangeDay)
	if stats[inferrecovery.KindNetworkError] != 1 {
		t.Fatalf("expected 1 network error today, got %v", stats)
	}

	rl := inferrecovery.NewRateLimiter(store, inferrecovery.WithThreshold(1))
	rl.IncrementErrorCount(ctx, "u1", "a1")
	rl.IncrementErrorCount(ctx, "u1", "a1")
	if !rl.ShouldThrottle(ctx, "u1", "a1") {
		t.Fatal("expected throttle after 2 errors with threshold 1")
	}
}
