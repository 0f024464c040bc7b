package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petrijr/lendflow/internal/blob"
	"github.com/petrijr/lendflow/internal/capability"
	"github.com/petrijr/lendflow/internal/dispatch"
	"github.com/petrijr/lendflow/internal/persistence"
	"github.com/petrijr/lendflow/pkg/api"
)

// countingIssuer wraps the real issuer and counts invocations.
type countingIssuer struct {
	inner api.Capability
	calls atomic.Int64
	fail  bool
}

func (c *countingIssuer) Name() string { return api.CapabilityDocumentIssuer }

func (c *countingIssuer) Execute(ctx context.Context, req *api.TaskRequest) (*api.TaskResponse, error) {
	c.calls.Add(1)
	if c.fail {
		return nil, errors.New("renderer down")
	}
	return c.inner.Execute(ctx, req)
}

func seedApproved(t *testing.T, store persistence.ConversationStore) string {
	t.Helper()

	const convID = "conv-1"
	rec := &api.ConversationRecord{
		ID:    convID,
		Stage: api.StageUnderwriting,
		Customer: api.CustomerProfile{
			Name:     "Asha",
			Verified: true,
		},
		Terms:        api.LoanTerms{Amount: 400000, TenureMonths: 36},
		Verification: api.VerificationStatus{Confirmed: true},
		Underwriting: api.UnderwritingResult{Decision: api.DecisionApproved, Rate: 11.0, EMI: 13095.38},
		Documents:    make(map[string]*api.Document),
	}
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return convID
}

func newTrigger(t *testing.T, store persistence.ConversationStore, issuer api.Capability, obs api.Observer) *SanctionTrigger {
	t.Helper()

	d := dispatch.NewDispatcher(time.Second, nil)
	if err := d.Register(issuer); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return &SanctionTrigger{
		Store:      store,
		Dispatcher: d,
		Retry:      api.RetryPolicy{MaxAttempts: 1},
		Observer:   obs,
	}
}

func TestSanctionTrigger_FiresOnce(t *testing.T) {
	store := persistence.NewInMemoryStore()
	convID := seedApproved(t, store)

	issuer := &countingIssuer{inner: &capability.DocumentIssuer{
		Renderer: capability.TextLetterRenderer{},
		Blobs:    blob.NewMemoryStore(),
	}}
	metrics := &api.BasicMetrics{}
	trigger := newTrigger(t, store, issuer, metrics)

	if err := trigger.ScanOnce(context.Background()); err != nil {
		t.Fatalf("ScanOnce failed: %v", err)
	}

	rec, _ := store.Load(context.Background(), convID)
	if !rec.SanctionRequested {
		t.Fatal("expected sanction flag set")
	}
	if rec.SanctionLetterRef == "" {
		t.Fatal("expected letter ref recorded")
	}
	if issuer.calls.Load() != 1 {
		t.Fatalf("expected one issuance call, got %d", issuer.calls.Load())
	}
	if metrics.Snapshot().SanctionsFired != 1 {
		t.Fatalf("expected one fired trigger, got %+v", metrics.Snapshot())
	}
}

func TestSanctionTrigger_SecondEvaluationIsNoOp(t *testing.T) {
	store := persistence.NewInMemoryStore()
	convID := seedApproved(t, store)

	issuer := &countingIssuer{inner: &capability.DocumentIssuer{
		Renderer: capability.TextLetterRenderer{},
		Blobs:    blob.NewMemoryStore(),
	}}
	metrics := &api.BasicMetrics{}
	trigger := newTrigger(t, store, issuer, metrics)

	ctx := context.Background()
	if err := trigger.Evaluate(ctx, convID); err != nil {
		t.Fatalf("first Evaluate failed: %v", err)
	}

	before, _ := store.Load(ctx, convID)

	if err := trigger.Evaluate(ctx, convID); err != nil {
		t.Fatalf("second Evaluate failed: %v", err)
	}

	after, _ := store.Load(ctx, convID)
	if after.Version != before.Version {
		t.Fatalf("re-evaluation must write nothing, version %d -> %d", before.Version, after.Version)
	}
	if issuer.calls.Load() != 1 {
		t.Fatalf("expected zero duplicate issuance calls, got %d", issuer.calls.Load())
	}
	if metrics.Snapshot().DuplicateTriggers == 0 {
		t.Fatal("expected duplicate observation to be recorded")
	}
	if metrics.Snapshot().SanctionsFired != 1 {
		t.Fatalf("expected exactly one fired trigger, got %+v", metrics.Snapshot())
	}
}

func TestSanctionTrigger_ConditionRecheckedUnderCAS(t *testing.T) {
	store := persistence.NewInMemoryStore()
	convID := seedApproved(t, store)
	ctx := context.Background()

	// The scan would have listed this record, but a term edit discarded
	// the approval before the trigger evaluated it.
	_, err := persistence.UpdateWith(ctx, store, convID, nil, func(r *api.ConversationRecord) error {
		r.Stage = api.StageSalesExploration
		r.Underwriting = api.UnderwritingResult{}
		return nil
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	issuer := &countingIssuer{inner: &capability.DocumentIssuer{
		Renderer: capability.TextLetterRenderer{},
		Blobs:    blob.NewMemoryStore(),
	}}
	trigger := newTrigger(t, store, issuer, nil)

	if err := trigger.Evaluate(ctx, convID); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	rec, _ := store.Load(ctx, convID)
	if rec.SanctionRequested {
		t.Fatal("edited record must not fire the trigger")
	}
	if issuer.calls.Load() != 0 {
		t.Fatalf("expected no issuance, got %d calls", issuer.calls.Load())
	}
}

func TestSanctionTrigger_OpenDocumentsBlockFiring(t *testing.T) {
	store := persistence.NewInMemoryStore()
	convID := seedApproved(t, store)
	ctx := context.Background()

	_, err := persistence.UpdateWith(ctx, store, convID, nil, func(r *api.ConversationRecord) error {
		r.Documents["doc-1"] = &api.Document{
			ID:     "doc-1",
			Type:   api.DocTypeSalarySlip,
			Status: api.DocumentPending,
		}
		return nil
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	issuer := &countingIssuer{inner: &capability.DocumentIssuer{
		Renderer: capability.TextLetterRenderer{},
		Blobs:    blob.NewMemoryStore(),
	}}
	trigger := newTrigger(t, store, issuer, nil)

	if err := trigger.Evaluate(ctx, convID); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	rec, _ := store.Load(ctx, convID)
	if rec.SanctionRequested {
		t.Fatal("open documents must block the trigger")
	}
}

func TestSanctionTrigger_FailedIssuanceReleasesClaim(t *testing.T) {
	store := persistence.NewInMemoryStore()
	convID := seedApproved(t, store)

	issuer := &countingIssuer{fail: true}
	trigger := newTrigger(t, store, issuer, nil)

	ctx := context.Background()
	if err := trigger.Evaluate(ctx, convID); err == nil {
		t.Fatal("expected error from failed issuance")
	}

	rec, _ := store.Load(ctx, convID)
	if rec.SanctionRequested {
		t.Fatal("failed issuance must release the claim for a later pass")
	}
	if rec.SanctionLetterRef != "" {
		t.Fatalf("no letter must be recorded, got %q", rec.SanctionLetterRef)
	}

	// The outage ends; the next pass fires cleanly.
	issuer.fail = false
	issuer.inner = &capability.DocumentIssuer{
		Renderer: capability.TextLetterRenderer{},
		Blobs:    blob.NewMemoryStore(),
	}
	if err := trigger.Evaluate(ctx, convID); err != nil {
		t.Fatalf("Evaluate after recovery failed: %v", err)
	}
	rec, _ = store.Load(ctx, convID)
	if rec.SanctionLetterRef == "" {
		t.Fatal("expected letter after recovery")
	}
}

func TestSanctionTrigger_ConcurrentEvaluationsFireOnce(t *testing.T) {
	store := persistence.NewInMemoryStore()
	convID := seedApproved(t, store)

	issuer := &countingIssuer{inner: &capability.DocumentIssuer{
		Renderer: capability.TextLetterRenderer{},
		Blobs:    blob.NewMemoryStore(),
	}}
	trigger := newTrigger(t, store, issuer, nil)

	ctx := context.Background()
	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			done <- trigger.Evaluate(ctx, convID)
		}()
	}
	for i := 0; i < 4; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
	}

	if issuer.calls.Load() != 1 {
		t.Fatalf("expected exactly one issuance across racing evaluations, got %d", issuer.calls.Load())
	}
}
