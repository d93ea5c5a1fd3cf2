package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/storage"
)

func TestHoldingStore_CRUD(t *testing.T) {
	store := NewHoldingStore()
	ctx := context.Background()

	e1 := &domain.HoldingEvent{EventID: uuid.New(), UserID: "u1", AssetID: "btc", Timestamp: 200, Amount: 2}
	e2 := &domain.HoldingEvent{EventID: uuid.New(), UserID: "u1", AssetID: "btc", Timestamp: 100, Amount: 1}
	e3 := &domain.HoldingEvent{EventID: uuid.New(), UserID: "u1", AssetID: "aaa", Timestamp: 300, Amount: 5}
	other := &domain.HoldingEvent{EventID: uuid.New(), UserID: "u2", AssetID: "btc", Timestamp: 100, Amount: 9}

	for _, e := range []*domain.HoldingEvent{e1, e2, e3, other} {
		if err := store.Insert(ctx, e); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	if err := store.Insert(ctx, e1); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	all, err := store.GetByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetByUser failed: %v", err)
	}
	if len(all) != 3 || all[0].AssetID != "aaa" || all[1].Timestamp != 100 || all[2].Timestamp != 200 {
		t.Errorf("Unexpected ordering: %+v", all)
	}

	btc, _ := store.GetByUserAsset(ctx, "u1", "btc")
	if len(btc) != 2 {
		t.Fatalf("Expected 2 btc events, got %d", len(btc))
	}

	// Another user's event is invisible
	if _, err := store.GetByID(ctx, "u1", other.EventID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "u1", other.EventID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	updated := *e2
	updated.Amount = 1.5
	updated.Timestamp = 150
	if err := store.Update(ctx, &updated); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, _ := store.GetByID(ctx, "u1", e2.EventID)
	if got.Amount != 1.5 || got.Timestamp != 150 {
		t.Errorf("Expected updated event, got %+v", got)
	}

	if err := store.Delete(ctx, "u1", e1.EventID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	btc, _ = store.GetByUserAsset(ctx, "u1", "btc")
	if len(btc) != 1 {
		t.Errorf("Expected 1 btc event after delete, got %d", len(btc))
	}
}

func TestCacheStore_GetPut(t *testing.T) {
	store := NewCacheStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "catalog"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	value := []byte(`{"version":1}`)
	if err := store.Put(ctx, "catalog", value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	value[0] = 'X' // caller mutation must not leak into the store

	got, err := store.Get(ctx, "catalog")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"version":1}` {
		t.Errorf("Unexpected value %q", got)
	}
}
