// Package persistence implements the versioned conversation store behind
// the controller and the background workers. Several backends are
// available (in-memory, SQLite, Postgres, Redis, Mongo); all share the
// same optimistic-concurrency contract.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/lendflow/pkg/api"
)

// ConversationStore is the shared, versioned state store.
//
// Update is a compare-and-swap on the record version: it commits only when
// the stored version still equals rec.Version, bumps the stored version by
// one and refreshes UpdatedAt, and returns api.ErrConcurrencyConflict
// otherwise. A record whose stored stage is CLOSURE is read-only and
// rejects any Update with api.ErrConversationClosed.
//
// Load returns a copy; mutating it has no effect until a successful Update.
type ConversationStore interface {
	Create(ctx context.Context, rec *api.ConversationRecord) error
	Load(ctx context.Context, id string) (*api.ConversationRecord, error)
	Update(ctx context.Context, rec *api.ConversationRecord) error

	// ListForVerification returns the IDs of conversations with at least
	// one document still awaiting verification.
	ListForVerification(ctx context.Context) ([]string, error)

	// ListForSanction returns the IDs of conversations that may satisfy
	// the sanction trigger condition (verification confirmed, underwriting
	// approved, trigger not yet fired). Callers re-check the full
	// condition on the loaded record.
	ListForSanction(ctx context.Context) ([]string, error)
}

// errSkipUpdate aborts an UpdateWith cycle without writing.
var errSkipUpdate = errors.New("skip update")

// SkipUpdate can be returned from an UpdateWith mutation to abort the
// cycle without writing; UpdateWith then returns (nil, nil).
func SkipUpdate() error { return errSkipUpdate }

// UpdateWith runs the read-mutate-write cycle until it commits, the
// mutation aborts, or ctx expires. Concurrency conflicts are absorbed here:
// the mutation is reapplied to a fresh read, so callers never see
// api.ErrConcurrencyConflict. The committed record (with its new version)
// is returned.
func UpdateWith(ctx context.Context, store ConversationStore, id string, obs api.Observer, mutate func(*api.ConversationRecord) error) (*api.ConversationRecord, error) {
	if obs == nil {
		obs = api.NoopObserver{}
	}
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := store.Load(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := mutate(rec); err != nil {
			if errors.Is(err, errSkipUpdate) {
				return nil, nil
			}
			return nil, err
		}

		err = store.Update(ctx, rec)
		if err == nil {
			rec.Version++
			return rec, nil
		}
		if errors.Is(err, api.ErrConcurrencyConflict) {
			obs.OnConflictRetry(ctx, id, attempt)
			continue
		}
		return nil, err
	}
}

// ClaimDocument atomically transitions a document from pending (or from an
// expired claim) to claimed, owned by the given token until now+ttl. It
// returns false when the document is already claimed by someone else and
// the claim has not expired, or when the document has left the open states.
//
// The atomicity comes from the record's version CAS: two racing claimers
// read the same version, and only one Update succeeds; the loser re-reads
// and then observes the document as claimed.
func ClaimDocument(ctx context.Context, store ConversationStore, conversationID, documentID, token string, ttl time.Duration) (bool, error) {
	claimed := false
	_, err := UpdateWith(ctx, store, conversationID, nil, func(rec *api.ConversationRecord) error {
		claimed = false
		doc, ok := rec.Documents[documentID]
		if !ok {
			return SkipUpdate()
		}
		if !doc.Claimable(time.Now()) {
			return SkipUpdate()
		}
		doc.Status = api.DocumentClaimed
		doc.ClaimToken = token
		doc.ClaimExpiresAt = time.Now().Add(ttl)
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}
