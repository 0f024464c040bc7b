package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/lendflow/internal/capability"
	"github.com/petrijr/lendflow/internal/dispatch"
	"github.com/petrijr/lendflow/internal/persistence"
	"github.com/petrijr/lendflow/pkg/api"
)

// SanctionTrigger watches for conversations whose composite condition has
// come true (verification confirmed, underwriting approved, all documents
// verified, trigger not yet fired) and fires document issuance exactly
// once per approval.
//
// The at-most-once guarantee is the SanctionRequested flag set under the
// version CAS: of any number of racing instances, one commit wins the
// false -> true transition and only that instance dispatches issuance.
type SanctionTrigger struct {
	Store      persistence.ConversationStore
	Dispatcher *dispatch.Dispatcher
	Retry      api.RetryPolicy
	Observer   api.Observer
}

var _ Worker = (*SanctionTrigger)(nil)

func (t *SanctionTrigger) Name() string { return "sanction-trigger" }

func (t *SanctionTrigger) obs() api.Observer {
	if t.Observer == nil {
		return api.NoopObserver{}
	}
	return t.Observer
}

// ScanOnce evaluates every candidate once. Errors on one conversation do
// not stop the pass.
func (t *SanctionTrigger) ScanOnce(ctx context.Context) error {
	ids, err := t.Store.ListForSanction(ctx)
	if err != nil {
		return fmt.Errorf("sanction scan: %w", err)
	}

	var firstErr error
	for _, id := range ids {
		if err := t.Evaluate(ctx, id); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Evaluate checks the composite condition for one conversation and fires
// issuance when it holds. Re-evaluating an already-fired record is a
// logged no-op.
func (t *SanctionTrigger) Evaluate(ctx context.Context, conversationID string) error {
	// Claim the trigger. The condition is re-checked inside the cycle:
	// the scan result may be stale, and a term edit or a racing instance
	// may have changed the record since.
	claimed, err := persistence.UpdateWith(ctx, t.Store, conversationID, t.obs(), func(rec *api.ConversationRecord) error {
		if rec.SanctionRequested {
			t.obs().OnDuplicateTrigger(ctx, conversationID)
			return persistence.SkipUpdate()
		}
		if !rec.SanctionReady() {
			return persistence.SkipUpdate()
		}
		rec.SanctionRequested = true
		return nil
	})
	if err != nil {
		if errors.Is(err, api.ErrConversationNotFound) || errors.Is(err, api.ErrConversationClosed) {
			return nil
		}
		return err
	}
	if claimed == nil {
		return nil
	}

	t.obs().OnSanctionTriggered(ctx, conversationID)

	req := &api.TaskRequest{
		Capability:     api.CapabilityDocumentIssuer,
		ConversationID: conversationID,
		Context:        claimed.Clone(),
		Profile:        claimed.Customer,
	}
	resp, err := t.Dispatcher.DispatchWithRetry(ctx, req, t.Retry)
	if err != nil {
		// No letter was produced; release the claim so a later pass can
		// fire again.
		t.release(ctx, conversationID)
		return fmt.Errorf("issuance for %s: %w", conversationID, err)
	}

	ref, _ := resp.Result[capability.ResultLetterRef].(string)
	_, err = persistence.UpdateWith(ctx, t.Store, conversationID, t.obs(), func(rec *api.ConversationRecord) error {
		if !rec.SanctionRequested || rec.SanctionLetterRef != "" {
			return persistence.SkipUpdate()
		}
		rec.SanctionLetterRef = ref
		rec.AddMessage(api.RoleSystem, "sanction letter issued")
		return nil
	})
	if err != nil && !errors.Is(err, api.ErrConversationClosed) {
		return err
	}
	return nil
}

func (t *SanctionTrigger) release(ctx context.Context, conversationID string) {
	_, _ = persistence.UpdateWith(ctx, t.Store, conversationID, t.obs(), func(rec *api.ConversationRecord) error {
		if rec.SanctionLetterRef != "" {
			return persistence.SkipUpdate()
		}
		rec.SanctionRequested = false
		return nil
	})
}
