// Package controller implements the per-turn state machine: read the
// versioned record, pick the next capability from the transition table,
// dispatch it, and commit the merged result. All stage movement goes
// through selectNext; capabilities only ever contribute facts.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/lendflow/internal/capability"
	"github.com/petrijr/lendflow/internal/dispatch"
	"github.com/petrijr/lendflow/internal/persistence"
	"github.com/petrijr/lendflow/pkg/api"
)

// FallbackText is returned when a capability stays unreachable after all
// retries. The stage is left unchanged so the next turn can try again.
const FallbackText = "We are temporarily unable to process this step. Please try again in a moment or request a callback."

// Controller handles customer turns over the shared store.
type Controller struct {
	store     persistence.ConversationStore
	disp      *dispatch.Dispatcher
	extractor api.FactExtractor
	text      api.TextGenerator
	retry     api.RetryPolicy
	obs       api.Observer
}

// New creates a Controller. A nil observer means no observation; a zero
// retry policy means a single attempt per dispatch.
func New(store persistence.ConversationStore, disp *dispatch.Dispatcher, extractor api.FactExtractor, text api.TextGenerator, retry api.RetryPolicy, obs api.Observer) *Controller {
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &Controller{
		store:     store,
		disp:      disp,
		extractor: extractor,
		text:      text,
		retry:     retry,
		obs:       obs,
	}
}

// selectNext is the pure transition table. It never mutates the record and
// returns the same output for the same state: the capability to dispatch
// ("" for none) and the stage the conversation moves to once that dispatch
// succeeds.
func selectNext(rec *api.ConversationRecord) (string, api.Stage) {
	switch rec.Stage {
	case api.StageGreeting:
		return "", api.StageIntentCapture

	case api.StageIntentCapture:
		return api.CapabilitySales, api.StageSalesExploration

	case api.StageSalesExploration:
		if rec.Terms.Captured() {
			return api.CapabilityVerification, api.StageVerification
		}
		return api.CapabilitySales, api.StageSalesExploration

	case api.StageVerification:
		if rec.Verification.Confirmed {
			return api.CapabilityUnderwriting, api.StageUnderwriting
		}
		return api.CapabilityVerification, api.StageVerification

	case api.StageUnderwriting:
		switch rec.Underwriting.Decision {
		case api.DecisionApproved:
			return api.CapabilityDocumentIssuer, api.StageDocumentation
		case api.DecisionRejected:
			return "", api.StageClosure
		default:
			// No decision yet, or a pending document: underwriting runs
			// again with whatever facts have accumulated since.
			return api.CapabilityUnderwriting, api.StageUnderwriting
		}

	case api.StageDocumentation:
		return "", api.StageClosure

	default:
		return "", api.StageClosure
	}
}

// HandleTurn processes one customer message and returns the customer-facing
// response. Concurrency conflicts with the background workers are absorbed
// by re-reading and reapplying; the caller never sees them.
func (c *Controller) HandleTurn(ctx context.Context, conversationID, input string) (resp *api.TurnResponse, err error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: empty conversation id", api.ErrValidation)
	}
	if input == "" {
		return nil, fmt.Errorf("%w: empty message", api.ErrValidation)
	}

	start := time.Now()
	stage := api.StageGreeting
	defer func() {
		c.obs.OnTurnCompleted(ctx, conversationID, stage, err, time.Since(start))
	}()

	rec, err := c.loadOrCreate(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	stage = rec.Stage
	c.obs.OnTurnStart(ctx, conversationID, rec.Stage)

	if rec.Superseded {
		return &api.TurnResponse{
			Text:     "This conversation was reset. Please continue in the new conversation.",
			Stage:    rec.Stage,
			Decision: rec.Underwriting.Decision,
		}, nil
	}
	if rec.Stage == api.StageClosure {
		return &api.TurnResponse{
			Text:     "This conversation has concluded. Start a new one to apply again.",
			Stage:    api.StageClosure,
			Decision: rec.Underwriting.Decision,
		}, nil
	}

	facts, err := c.extractor.Extract(ctx, rec.Stage, input)
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}

	// First commit: record the message, apply term edits, pick the next
	// step and, if issuance is chosen, claim the sanction flag so no other
	// path can issue concurrently.
	taskID := uuid.NewString()
	var capName string
	var nextStage api.Stage

	rec, err = persistence.UpdateWith(ctx, c.store, conversationID, c.obs, func(r *api.ConversationRecord) error {
		r.AddMessage(api.RoleCustomer, input)
		edited := applyTermEdit(r, facts)

		capName, nextStage = selectNext(r)
		if edited {
			// The edit turn renegotiates: the old terms are still on the
			// record, so the table would jump straight back to
			// verification without giving sales a chance to apply the
			// new figures.
			capName = api.CapabilitySales
			nextStage = api.StageSalesExploration
		}
		if capName == api.CapabilityDocumentIssuer {
			if r.SanctionRequested {
				// Issuance already claimed by the background trigger;
				// just move on.
				capName = ""
			} else {
				r.SanctionRequested = true
			}
		}
		if capName != "" {
			r.LastTaskID = taskID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	stage = rec.Stage

	if capName == "" {
		return c.advanceWithoutDispatch(ctx, rec, nextStage, &stage)
	}

	taskResp, dispatchErr := c.dispatchWithRetry(ctx, rec, capName, taskID, facts)
	if dispatchErr != nil {
		if errors.Is(dispatchErr, api.ErrValidation) {
			return nil, dispatchErr
		}
		return c.fallback(ctx, rec, capName)
	}

	// Second commit: merge the capability result and advance the stage,
	// unless a newer dispatch superseded this one in the meantime.
	committed, err := persistence.UpdateWith(ctx, c.store, conversationID, c.obs, func(r *api.ConversationRecord) error {
		if r.LastTaskID != taskResp.TaskID {
			return persistence.SkipUpdate()
		}
		mergeResult(r, capName, taskResp.Result)
		r.Stage = nextStage
		if taskResp.CustomerText != "" {
			r.AddMessage(api.RoleAssistant, taskResp.CustomerText)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if committed == nil {
		// Superseded by a newer dispatch; report current state instead.
		current, loadErr := c.store.Load(ctx, conversationID)
		if loadErr != nil {
			return nil, loadErr
		}
		stage = current.Stage
		return &api.TurnResponse{
			Text:     "Processing your earlier request, one moment.",
			Stage:    current.Stage,
			Decision: current.Underwriting.Decision,
		}, nil
	}

	stage = committed.Stage
	return &api.TurnResponse{
		Text:     taskResp.CustomerText,
		Stage:    committed.Stage,
		Decision: committed.Underwriting.Decision,
	}, nil
}

func (c *Controller) loadOrCreate(ctx context.Context, conversationID string) (*api.ConversationRecord, error) {
	rec, err := c.store.Load(ctx, conversationID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, api.ErrConversationNotFound) {
		return nil, err
	}

	rec = &api.ConversationRecord{
		ID:        conversationID,
		Stage:     api.StageGreeting,
		Documents: make(map[string]*api.Document),
	}
	if createErr := c.store.Create(ctx, rec); createErr != nil {
		// Lost a create race; the record exists now.
		if loaded, loadErr := c.store.Load(ctx, conversationID); loadErr == nil {
			return loaded, nil
		}
		return nil, createErr
	}
	return rec, nil
}

// advanceWithoutDispatch commits a pure stage transition (GREETING advance,
// rejection closure, documentation closure).
func (c *Controller) advanceWithoutDispatch(ctx context.Context, rec *api.ConversationRecord, nextStage api.Stage, stage *api.Stage) (*api.TurnResponse, error) {
	text := c.transitionText(ctx, rec, nextStage)

	committed, err := persistence.UpdateWith(ctx, c.store, rec.ID, c.obs, func(r *api.ConversationRecord) error {
		r.Stage = nextStage
		r.AddMessage(api.RoleAssistant, text)
		return nil
	})
	if err != nil {
		return nil, err
	}

	*stage = committed.Stage
	return &api.TurnResponse{
		Text:     text,
		Stage:    committed.Stage,
		Decision: committed.Underwriting.Decision,
	}, nil
}

func (c *Controller) transitionText(ctx context.Context, rec *api.ConversationRecord, nextStage api.Stage) string {
	switch {
	case rec.Stage == api.StageGreeting:
		if text, err := c.text.Generate(ctx, api.StageGreeting, nil); err == nil {
			return text
		}
		return "Hello! How can I help you today?"
	case nextStage == api.StageClosure && rec.Underwriting.Decision == api.DecisionRejected:
		return fmt.Sprintf("Unfortunately we cannot approve this application (%s). Thank you for your time.", rec.Underwriting.Reason)
	case nextStage == api.StageClosure:
		return "Thank you! Your application is complete."
	default:
		return "Let's continue."
	}
}

// dispatchWithRetry re-dispatches with a fresh task ID per attempt,
// recording each new ID on the record so a slow response from an earlier
// attempt is recognizable as stale.
func (c *Controller) dispatchWithRetry(ctx context.Context, rec *api.ConversationRecord, capName, firstTaskID string, facts map[string]any) (*api.TaskResponse, error) {
	maxAttempts := c.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := c.retry.InitialBackoff
	multiplier := c.retry.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	taskID := firstTaskID
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			// A retry supersedes the previous dispatch.
			taskID = uuid.NewString()
			if _, err := persistence.UpdateWith(ctx, c.store, rec.ID, c.obs, func(r *api.ConversationRecord) error {
				r.LastTaskID = taskID
				return nil
			}); err != nil {
				return nil, err
			}
		}

		req := &api.TaskRequest{
			TaskID:         taskID,
			Capability:     capName,
			ConversationID: rec.ID,
			Context:        rec.Clone(),
			Profile:        rec.Customer,
			Params:         facts,
		}
		resp, err := c.disp.Dispatch(ctx, req)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, api.ErrValidation) {
			return nil, err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		if backoff > 0 {
			delay := backoff
			if c.retry.MaxBackoff > 0 && delay > c.retry.MaxBackoff {
				delay = c.retry.MaxBackoff
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			backoff = time.Duration(float64(backoff) * multiplier)
			if c.retry.MaxBackoff > 0 && backoff > c.retry.MaxBackoff {
				backoff = c.retry.MaxBackoff
			}
		}
	}
	return nil, lastErr
}

// fallback commits the non-fatal "temporarily unavailable" path: the stage
// stays where it is so the next turn retries. A claimed-but-unissued
// sanction flag is released since no letter was produced.
func (c *Controller) fallback(ctx context.Context, rec *api.ConversationRecord, capName string) (*api.TurnResponse, error) {
	committed, err := persistence.UpdateWith(ctx, c.store, rec.ID, c.obs, func(r *api.ConversationRecord) error {
		if capName == api.CapabilityDocumentIssuer && r.SanctionLetterRef == "" {
			r.SanctionRequested = false
		}
		r.LastTaskID = ""
		r.AddMessage(api.RoleAssistant, FallbackText)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &api.TurnResponse{
		Text:     FallbackText,
		Stage:    committed.Stage,
		Decision: committed.Underwriting.Decision,
	}, nil
}

// applyTermEdit handles an explicit "modify terms" request: the stage moves
// back to sales exploration and any decision derived from the old terms is
// discarded, including an unfired sanction claim. It reports whether an
// edit was applied.
func applyTermEdit(rec *api.ConversationRecord, facts map[string]any) bool {
	edit, _ := facts[capability.FactModifyTerms].(bool)
	if !edit {
		return false
	}
	if rec.Stage != api.StageUnderwriting && rec.Stage != api.StageDocumentation {
		return false
	}

	rec.Stage = api.StageSalesExploration
	rec.Underwriting = api.UnderwritingResult{}
	rec.Terms.Rate = 0
	rec.Terms.EMI = 0
	rec.Terms.ProcessingFee = 0
	// Any letter issued for the old terms is void; a fresh approval starts
	// a fresh issuance cycle.
	rec.SanctionRequested = false
	rec.SanctionLetterRef = ""
	rec.AddMessage(api.RoleSystem, "terms reopened at customer request")
	return true
}

// mergeResult folds a capability's structured result into the record. Rate,
// EMI and fee only ever arrive here from an underwriting evaluation.
func mergeResult(rec *api.ConversationRecord, capName string, result map[string]any) {
	if result == nil {
		return
	}

	switch capName {
	case api.CapabilitySales:
		if v, ok := toFloat(result[capability.ResultAmount]); ok && v > 0 {
			rec.Terms.Amount = v
		}
		if v, ok := toInt(result[capability.ResultTenureMonths]); ok && v > 0 {
			rec.Terms.TenureMonths = v
		}
		if v, ok := result[capability.ResultPurpose].(string); ok && v != "" {
			rec.Terms.Purpose = v
		}

	case api.CapabilityVerification:
		if v, ok := toInt(result[capability.ResultCreditScore]); ok {
			rec.Customer.CreditScore = v
		}
		if v, ok := toFloat(result[capability.ResultLimit]); ok {
			rec.Customer.PreApprovedLimit = v
		}
		if v, ok := result[capability.ResultVerified].(bool); ok {
			rec.Customer.Verified = v
			rec.Verification.Confirmed = v
			if v {
				rec.Verification.Detail = "bureau profile confirmed"
			}
		}

	case api.CapabilityUnderwriting:
		if v, ok := result[capability.ResultDecision].(string); ok {
			rec.Underwriting.Decision = api.DecisionStatus(v)
		}
		if v, ok := result[capability.ResultReason].(string); ok {
			rec.Underwriting.Reason = v
		}
		if v, ok := toFloat(result[capability.ResultRate]); ok {
			rec.Underwriting.Rate = v
			rec.Terms.Rate = v
		}
		if v, ok := toFloat(result[capability.ResultEMI]); ok {
			rec.Underwriting.EMI = v
			rec.Terms.EMI = v
		}
		if v, ok := toFloat(result[capability.ResultFee]); ok {
			rec.Underwriting.Fee = v
			rec.Terms.ProcessingFee = v
		}

	case api.CapabilityDocumentIssuer:
		if v, ok := result[capability.ResultLetterRef].(string); ok && v != "" {
			rec.SanctionLetterRef = v
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
