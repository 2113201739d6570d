package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

func storedResponse(id string, createdAt time.Time) *ThreatResponse {
	return &ThreatResponse{
		ResponseID:   id,
		ThreatID:     "threat-" + id,
		ResponseType: ResponseAlert,
		Severity:     SeverityLow,
		Status:       StatusPending,
		CreatedAt:    createdAt,
		Metadata:     map[string]string{"source": "gateway"},
	}
}

// ─── MemoryStore ────────────────────────────────────────────────────────────

func TestMemoryStore_InsertAndFind(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	resp := storedResponse("r1", time.Now().UTC())
	if err := store.Insert(ctx, resp); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	found, err := store.Find(ctx, "r1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if found.ResponseID != "r1" || found.ThreatID != "threat-r1" {
		t.Errorf("found wrong record: %+v", found)
	}
}

func TestMemoryStore_FindUnknown(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Find(context.Background(), "missing")
	if !errors.Is(err, ErrResponseNotFound) {
		t.Fatalf("expected ErrResponseNotFound, got %v", err)
	}
}

func TestMemoryStore_UpdateIsUpsert(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// Update of a record that was never inserted still lands.
	resp := storedResponse("r1", time.Now().UTC())
	if err := store.Update(ctx, resp); err != nil {
		t.Fatalf("Update (upsert): %v", err)
	}

	resp.Status = StatusExecuting
	if err := store.Update(ctx, resp); err != nil {
		t.Fatalf("Update: %v", err)
	}
	// Repeated identical update is safe.
	if err := store.Update(ctx, resp); err != nil {
		t.Fatalf("repeated Update: %v", err)
	}

	found, _ := store.Find(ctx, "r1")
	if found.Status != StatusExecuting {
		t.Errorf("status = %s, want executing", found.Status)
	}
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	store.Insert(ctx, storedResponse("old", base.Add(-2*time.Hour)))
	store.Insert(ctx, storedResponse("new", base))
	store.Insert(ctx, storedResponse("mid", base.Add(-time.Hour)))

	out, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out))
	}
	got := []string{out[0].ResponseID, out[1].ResponseID, out[2].ResponseID}
	want := []string{"new", "mid", "old"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMemoryStore_ListLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		store.Insert(ctx, storedResponse(string(rune('a'+i)), base.Add(time.Duration(i)*time.Second)))
	}

	out, _ := store.List(ctx, 2)
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
	if out[0].ResponseID != "e" {
		t.Errorf("newest first, got %s", out[0].ResponseID)
	}
}

func TestMemoryStore_CloneIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	resp := storedResponse("r1", time.Now().UTC())
	store.Insert(ctx, resp)

	// Mutating the caller's copy must not leak into the store.
	resp.Status = StatusFailed
	resp.Metadata["source"] = "tampered"

	found, _ := store.Find(ctx, "r1")
	if found.Status != StatusPending {
		t.Errorf("stored status mutated to %s", found.Status)
	}
	if found.Metadata["source"] != "gateway" {
		t.Errorf("stored metadata mutated to %q", found.Metadata["source"])
	}

	// And mutating a fetched copy must not affect later reads.
	found.Metadata["source"] = "tampered"
	again, _ := store.Find(ctx, "r1")
	if again.Metadata["source"] != "gateway" {
		t.Errorf("fetched copy aliased store state: %q", again.Metadata["source"])
	}
}
