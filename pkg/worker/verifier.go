package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/lendflow/internal/persistence"
	"github.com/petrijr/lendflow/pkg/api"
)

// DefaultClaimTTL bounds how long a claimed document stays owned by one
// verifier instance before another may take it over.
const DefaultClaimTTL = 2 * time.Minute

// DefaultConfidenceThreshold separates verified from rejected documents.
const DefaultConfidenceThreshold = 0.5

// DocumentVerifier scans for pending documents, claims them one at a time,
// analyzes the bytes and commits verified or rejected under the version
// discipline. Exactly one active verifier owns a document at a time; a
// crash between claim and commit is healed by claim expiry.
type DocumentVerifier struct {
	Store    persistence.ConversationStore
	Blobs    api.BlobStore
	Analyzer api.DocumentAnalyzer

	// ClaimTTL <= 0 means DefaultClaimTTL; Threshold <= 0 means
	// DefaultConfidenceThreshold.
	ClaimTTL  time.Duration
	Threshold float64

	Observer api.Observer
}

var _ Worker = (*DocumentVerifier)(nil)

func (v *DocumentVerifier) Name() string { return "document-verifier" }

func (v *DocumentVerifier) obs() api.Observer {
	if v.Observer == nil {
		return api.NoopObserver{}
	}
	return v.Observer
}

// ScanOnce performs one pass: every open document across all candidate
// conversations is claimed and resolved if possible. Errors on one
// conversation do not stop the pass.
func (v *DocumentVerifier) ScanOnce(ctx context.Context) error {
	ids, err := v.Store.ListForVerification(ctx)
	if err != nil {
		return fmt.Errorf("verification scan: %w", err)
	}

	var firstErr error
	for _, id := range ids {
		if err := v.processConversation(ctx, id); err != nil {
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

func (v *DocumentVerifier) processConversation(ctx context.Context, conversationID string) error {
	rec, err := v.Store.Load(ctx, conversationID)
	if err != nil {
		if errors.Is(err, api.ErrConversationNotFound) {
			return nil
		}
		return err
	}

	now := time.Now()
	for docID, doc := range rec.Documents {
		if !doc.Claimable(now) {
			continue
		}
		if err := v.processDocument(ctx, conversationID, docID); err != nil {
			return err
		}
	}
	return nil
}

func (v *DocumentVerifier) processDocument(ctx context.Context, conversationID, docID string) error {
	ttl := v.ClaimTTL
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}

	token := uuid.NewString()
	claimed, err := persistence.ClaimDocument(ctx, v.Store, conversationID, docID, token, ttl)
	if err != nil {
		return err
	}
	if !claimed {
		// Another instance owns it; skip.
		return nil
	}

	rec, err := v.Store.Load(ctx, conversationID)
	if err != nil {
		return err
	}
	doc := rec.Documents[docID]
	if doc == nil || doc.ClaimToken != token {
		return nil
	}

	data, err := v.Blobs.Get(ctx, doc.BlobRef)
	if err != nil {
		// Claim expires and the next pass retries.
		return fmt.Errorf("load document %s: %w", docID, err)
	}

	confidence, extracted, err := v.Analyzer.Analyze(ctx, doc.Type, data)
	if err != nil {
		return fmt.Errorf("analyze document %s: %w", docID, err)
	}

	threshold := v.Threshold
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	status := api.DocumentRejected
	if confidence >= threshold {
		status = api.DocumentVerified
	}

	return v.commit(ctx, conversationID, docID, token, status, confidence, extracted)
}

// commit finalizes the document under the version CAS. The status guard
// makes the commit safe to retry after a crash: once the document has left
// claimed, or the claim changed hands, the mutation skips, so the system
// message is appended exactly once.
func (v *DocumentVerifier) commit(ctx context.Context, conversationID, docID, token string, status api.DocumentStatus, confidence float64, extracted map[string]any) error {
	committed, err := persistence.UpdateWith(ctx, v.Store, conversationID, v.obs(), func(rec *api.ConversationRecord) error {
		doc := rec.Documents[docID]
		if doc == nil {
			return persistence.SkipUpdate()
		}
		if doc.Status != api.DocumentClaimed || doc.ClaimToken != token {
			return persistence.SkipUpdate()
		}

		doc.Status = status
		conf := confidence
		doc.Confidence = &conf
		doc.ClaimToken = ""
		doc.ClaimExpiresAt = time.Time{}

		if status == api.DocumentVerified {
			applyExtracted(rec, doc.Type, extracted)
		}

		rec.AddMessage(api.RoleSystem, fmt.Sprintf("document %s (%s) %s with confidence %.2f", docID, doc.Type, status, confidence))
		return nil
	})
	if err != nil {
		if errors.Is(err, api.ErrConversationClosed) {
			return nil
		}
		return err
	}
	if committed != nil {
		v.obs().OnDocumentResolved(ctx, conversationID, docID, status, confidence)
	}
	return nil
}

// applyExtracted folds verified document facts into the customer snapshot.
// A salary slip contributes the monthly income underwriting waits for.
func applyExtracted(rec *api.ConversationRecord, docType string, extracted map[string]any) {
	if docType != api.DocTypeSalarySlip {
		return
	}
	if v, ok := extracted["monthly_salary"].(float64); ok && v > 0 {
		rec.Customer.MonthlySalary = v
	}
}
