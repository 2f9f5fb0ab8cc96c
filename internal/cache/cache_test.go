package cache

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewStore(client, time.Second, slog.Default()), mr
}

func TestStoreSetAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, found := store.Get(ctx, "key1")
	if !found {
		t.Fatal("expected hit for key1")
	}
	if string(data) != "value1" {
		t.Errorf("expected value1, got %s", data)
	}
}

func TestStoreGetMiss(t *testing.T) {
	store, _ := newTestStore(t)

	_, found := store.Get(context.Background(), "absent")
	if found {
		t.Error("expected miss for absent key")
	}
}

func TestStoreGetFailsOpenWhenUnavailable(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	_, found := store.Get(context.Background(), "key1")
	if found {
		t.Error("unreachable store must read as a miss")
	}
}

func TestStoreSetReturnsErrorWhenUnavailable(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	err := store.Set(context.Background(), "key1", []byte("value1"), time.Minute)
	if err == nil {
		t.Error("expected error writing to unreachable store")
	}
}

func TestStoreSetRespectsTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ttl := mr.TTL("key1")
	if ttl != time.Minute {
		t.Errorf("expected TTL of 1m, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)

	if _, found := store.Get(ctx, "key1"); found {
		t.Error("expected key to expire")
	}
}

func TestStoreDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "key1", []byte("value1"), time.Minute)
	if err := store.Delete(ctx, "key1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, found := store.Get(ctx, "key1"); found {
		t.Error("expected key1 to be deleted")
	}
}

func TestStoreDeleteByPrefix(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "todos:u1:p1", []byte("a"), time.Minute)
	store.Set(ctx, "todos:u1:p2", []byte("b"), time.Minute)
	store.Set(ctx, "todos:u2:p1", []byte("c"), time.Minute)

	if err := store.DeleteByPrefix(ctx, "todos:u1:"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, found := store.Get(ctx, "todos:u1:p1"); found {
		t.Error("expected todos:u1:p1 to be deleted")
	}
	if _, found := store.Get(ctx, "todos:u1:p2"); found {
		t.Error("expected todos:u1:p2 to be deleted")
	}
	if _, found := store.Get(ctx, "todos:u2:p1"); !found {
		t.Error("todos:u2:p1 must survive another account's prefix delete")
	}
}

func TestStoreIncrement(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.Increment(ctx, "counter", 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("expected count %d, got %d", want, got)
		}
	}
}

func TestStoreExists(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if store.Exists(ctx, "key1") {
		t.Error("expected absent key to not exist")
	}

	store.Set(ctx, "key1", []byte("v"), time.Minute)
	if !store.Exists(ctx, "key1") {
		t.Error("expected key1 to exist")
	}

	mr.Close()
	if store.Exists(ctx, "key1") {
		t.Error("unreachable store must report absent")
	}
}

func TestGetJSONBadPayloadTreatedAsMiss(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	mr.Set("profile", "{not json")

	var out map[string]string
	if GetJSON(ctx, store, "profile", &out) {
		t.Error("undecodable payload must read as a miss")
	}
	if mr.Exists("profile") {
		t.Error("undecodable payload should be evicted")
	}
}

func TestSetJSONRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	in := map[string]string{"theme": "dark"}
	SetJSON(ctx, store, "profile", in, time.Minute)

	var out map[string]string
	if !GetJSON(ctx, store, "profile", &out) {
		t.Fatal("expected hit after SetJSON")
	}
	if out["theme"] != "dark" {
		t.Errorf("expected dark, got %s", out["theme"])
	}
}
