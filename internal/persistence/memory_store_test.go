package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/petrijr/lendflow/pkg/api"
)

func newTestRecord(id string) *api.ConversationRecord {
	return &api.ConversationRecord{
		ID:        id,
		Stage:     api.StageGreeting,
		Documents: make(map[string]*api.Document),
	}
}

func TestInMemoryStore_CreateAndLoad(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	rec := newTestRecord("conv-1")
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rec.Version != 1 {
		t.Fatalf("expected version 1 after create, got %d", rec.Version)
	}

	got, err := store.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.ID != "conv-1" || got.Stage != api.StageGreeting {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Version != 1 {
		t.Fatalf("expected loaded version 1, got %d", got.Version)
	}
}

func TestInMemoryStore_CreateDuplicate(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestRecord("conv-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Create(ctx, newTestRecord("conv-1")); err == nil {
		t.Fatal("expected error creating duplicate conversation")
	}
}

func TestInMemoryStore_LoadNotFound(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Load(context.Background(), "missing")
	if !errors.Is(err, api.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestInMemoryStore_LoadReturnsCopy(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, newTestRecord("conv-1")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	first, _ := store.Load(ctx, "conv-1")
	first.Stage = api.StageUnderwriting

	second, _ := store.Load(ctx, "conv-1")
	if second.Stage != api.StageGreeting {
		t.Fatalf("mutating a loaded copy leaked into the store: %v", second.Stage)
	}
}

func TestInMemoryStore_UpdateBumpsVersion(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	rec := newTestRecord("conv-1")
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rec.Stage = api.StageIntentCapture
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("expected version 2 after update, got %d", got.Version)
	}
	if got.Stage != api.StageIntentCapture {
		t.Fatalf("expected stage INTENT_CAPTURE, got %v", got.Stage)
	}
}

func TestInMemoryStore_UpdateStaleVersionConflicts(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	rec := newTestRecord("conv-1")
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Two independent reads of the same version.
	a, _ := store.Load(ctx, "conv-1")
	b, _ := store.Load(ctx, "conv-1")

	a.Stage = api.StageIntentCapture
	if err := store.Update(ctx, a); err != nil {
		t.Fatalf("first Update failed: %v", err)
	}

	b.Stage = api.StageSalesExploration
	err := store.Update(ctx, b)
	if !errors.Is(err, api.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict for stale write, got %v", err)
	}

	got, _ := store.Load(ctx, "conv-1")
	if got.Stage != api.StageIntentCapture {
		t.Fatalf("losing write must not land, got stage %v", got.Stage)
	}
}

func TestInMemoryStore_ClosedIsReadOnly(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	rec := newTestRecord("conv-1")
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rec.Stage = api.StageClosure
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("Update to CLOSURE failed: %v", err)
	}

	closed, _ := store.Load(ctx, "conv-1")
	closed.Stage = api.StageGreeting
	err := store.Update(ctx, closed)
	if !errors.Is(err, api.ErrConversationClosed) {
		t.Fatalf("expected ErrConversationClosed, got %v", err)
	}
}

func TestInMemoryStore_ListForVerification(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	pending := newTestRecord("conv-pending")
	pending.Documents["doc-1"] = &api.Document{ID: "doc-1", Type: api.DocTypeSalarySlip, Status: api.DocumentPending}
	if err := store.Create(ctx, pending); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	done := newTestRecord("conv-done")
	done.Documents["doc-1"] = &api.Document{ID: "doc-1", Type: api.DocTypeSalarySlip, Status: api.DocumentVerified}
	if err := store.Create(ctx, done); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ids, err := store.ListForVerification(ctx)
	if err != nil {
		t.Fatalf("ListForVerification failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "conv-pending" {
		t.Fatalf("expected [conv-pending], got %v", ids)
	}
}

func TestInMemoryStore_ListForSanction(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	ready := newTestRecord("conv-ready")
	ready.Verification.Confirmed = true
	ready.Underwriting.Decision = api.DecisionApproved
	if err := store.Create(ctx, ready); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	fired := newTestRecord("conv-fired")
	fired.Verification.Confirmed = true
	fired.Underwriting.Decision = api.DecisionApproved
	fired.SanctionRequested = true
	if err := store.Create(ctx, fired); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rejected := newTestRecord("conv-rejected")
	rejected.Verification.Confirmed = true
	rejected.Underwriting.Decision = api.DecisionRejected
	if err := store.Create(ctx, rejected); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ids, err := store.ListForSanction(ctx)
	if err != nil {
		t.Fatalf("ListForSanction failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "conv-ready" {
		t.Fatalf("expected [conv-ready], got %v", ids)
	}
}
