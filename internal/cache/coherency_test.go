package cache

import (
	"context"
	"testing"
	"time"
)

func fillAccountCaches(t *testing.T, store *Store, accountID string) []string {
	t.Helper()

	keys := []string{
		AccountKey(accountID),
		TodoListKey(accountID, "p1:l20"),
		TodoListKey(accountID, "p2:l20"),
		CategoriesKey(accountID),
		TagsKey(accountID),
		OverdueKey(accountID),
		UpcomingKey(accountID, "168h"),
		StatsKey(accountID),
	}
	for _, key := range keys {
		if err := store.Set(context.Background(), key, []byte("x"), time.Minute); err != nil {
			t.Fatalf("seeding %s: %v", key, err)
		}
	}
	return keys
}

func TestInvalidateAccountDropsOnlyProfile(t *testing.T) {
	store, _ := newTestStore(t)
	inv := NewInvalidator(store, nil)
	ctx := context.Background()

	keys := fillAccountCaches(t, store, "u1")

	inv.InvalidateAccount(ctx, "u1")

	if store.Exists(ctx, AccountKey("u1")) {
		t.Error("account profile entry should be dropped")
	}
	for _, key := range keys[1:] {
		if !store.Exists(ctx, key) {
			t.Errorf("todo-family key %s must survive an account invalidation", key)
		}
	}
}

func TestInvalidateTodoDataDropsDerivedReads(t *testing.T) {
	store, _ := newTestStore(t)
	inv := NewInvalidator(store, nil)
	ctx := context.Background()

	keys := fillAccountCaches(t, store, "u1")

	inv.InvalidateTodoData(ctx, "u1")

	if !store.Exists(ctx, AccountKey("u1")) {
		t.Error("account profile must survive a todo invalidation")
	}
	for _, key := range keys[1:] {
		if store.Exists(ctx, key) {
			t.Errorf("todo-family key %s should be dropped", key)
		}
	}
}

func TestInvalidationIsScopedToOneAccount(t *testing.T) {
	store, _ := newTestStore(t)
	inv := NewInvalidator(store, nil)
	ctx := context.Background()

	fillAccountCaches(t, store, "u1")
	otherKeys := fillAccountCaches(t, store, "u2")

	inv.InvalidateAll(ctx, "u1")

	for _, key := range otherKeys {
		if !store.Exists(ctx, key) {
			t.Errorf("u2 key %s must survive u1's invalidation", key)
		}
	}
}

func TestInvalidationFailureIsSwallowed(t *testing.T) {
	store, mr := newTestStore(t)
	inv := NewInvalidator(store, nil)
	mr.Close()

	// Must not panic or propagate; stale entries heal at TTL.
	inv.InvalidateAll(context.Background(), "u1")
}

func TestRevocationKeyHidesRawToken(t *testing.T) {
	token := "eyJhbGciOiJIUzI1NiJ9.payload.signature"
	key := RevocationKey(token)

	if key == "revoked:"+token {
		t.Error("revocation key must not embed the raw token")
	}
	if key != RevocationKey(token) {
		t.Error("revocation key must be deterministic")
	}
	if RevocationKey("other") == key {
		t.Error("distinct tokens must map to distinct keys")
	}
}
