package lendflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/lendflow/internal/blob"
	"github.com/petrijr/lendflow/internal/capability"
	"github.com/petrijr/lendflow/internal/controller"
	"github.com/petrijr/lendflow/internal/dispatch"
	"github.com/petrijr/lendflow/internal/persistence"
	"github.com/petrijr/lendflow/pkg/api"
	"github.com/petrijr/lendflow/pkg/worker"
)

// Options configures an Assistant. The zero value yields a fully
// in-memory assistant with the default collaborators, suitable for
// development and tests.
type Options struct {
	Store ConversationStore
	Blobs BlobStore

	Bureau    CreditBureau
	Extractor FactExtractor
	Text      TextGenerator
	Analyzer  DocumentAnalyzer
	Renderer  LetterRenderer

	Observer Observer

	// DispatchTimeout bounds each capability call; <= 0 means the
	// dispatcher default.
	DispatchTimeout time.Duration

	// Retry applies to controller dispatches and background sanction
	// issuance. A zero policy means a single attempt per dispatch.
	Retry RetryPolicy

	// PollInterval drives the background workers; <= 0 means the worker
	// default.
	PollInterval time.Duration

	// ClaimTTL and ConfidenceThreshold tune the document verifier; <= 0
	// means the verifier defaults.
	ClaimTTL            time.Duration
	ConfidenceThreshold float64

	// FeeCap caps the processing fee; <= 0 means the decision engine
	// default.
	FeeCap float64
}

// Assistant bundles the conversation store, the capability dispatcher,
// the turn controller and the background workers into one embeddable
// unit. It is safe for concurrent use; multiple Assistant instances may
// share the same durable store.
type Assistant struct {
	store persistence.ConversationStore
	blobs api.BlobStore
	ctrl  *controller.Controller
	pool  *worker.Pool
	obs   api.Observer

	// closers release resources opened by NewAssistantFromConfig.
	closers []func() error
}

// NewAssistant wires an Assistant from the given options, filling in
// in-memory stores and default collaborators for anything left nil.
func NewAssistant(opts Options) (*Assistant, error) {
	store := opts.Store
	if store == nil {
		store = persistence.NewInMemoryStore()
	}
	blobs := opts.Blobs
	if blobs == nil {
		blobs = blob.NewMemoryStore()
	}
	obs := opts.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}

	bureau := opts.Bureau
	if bureau == nil {
		bureau = &capability.StaticBureau{}
	}
	extractor := opts.Extractor
	if extractor == nil {
		extractor = capability.KeyValueExtractor{}
	}
	text := opts.Text
	if text == nil {
		text = capability.TemplateTextGenerator{}
	}
	analyzer := opts.Analyzer
	if analyzer == nil {
		analyzer = capability.KeyValueAnalyzer{Confidence: 0.9}
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = capability.TextLetterRenderer{}
	}

	d := dispatch.NewDispatcher(opts.DispatchTimeout, obs)
	caps := []api.Capability{
		&capability.Sales{Text: text},
		&capability.Verification{Bureau: bureau},
		&capability.Underwriting{FeeCap: opts.FeeCap},
		&capability.DocumentIssuer{Renderer: renderer, Blobs: blobs},
	}
	for _, c := range caps {
		if err := d.Register(c); err != nil {
			return nil, err
		}
	}

	ctrl := controller.New(store, d, extractor, text, opts.Retry, obs)

	verifier := &worker.DocumentVerifier{
		Store:     store,
		Blobs:     blobs,
		Analyzer:  analyzer,
		ClaimTTL:  opts.ClaimTTL,
		Threshold: opts.ConfidenceThreshold,
		Observer:  obs,
	}
	trigger := &worker.SanctionTrigger{
		Store:      store,
		Dispatcher: d,
		Retry:      opts.Retry,
		Observer:   obs,
	}

	return &Assistant{
		store: store,
		blobs: blobs,
		ctrl:  ctrl,
		pool:  worker.NewPool(opts.PollInterval, verifier, trigger),
		obs:   obs,
	}, nil
}

// SubmitCustomerMessage processes one customer turn and returns the
// customer-facing response. An unknown conversation ID starts a fresh
// conversation.
func (a *Assistant) SubmitCustomerMessage(ctx context.Context, conversationID, text string) (*TurnResponse, error) {
	return a.ctrl.HandleTurn(ctx, conversationID, text)
}

// GetState returns the external projection of a conversation.
func (a *Assistant) GetState(ctx context.Context, conversationID string) (*PublicState, error) {
	rec, err := a.store.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return rec.Public(), nil
}

// UploadDocument stores the document bytes and attaches a pending
// document to the conversation. The background verifier picks it up and
// resolves it asynchronously; the returned document ID can be watched via
// GetState.
func (a *Assistant) UploadDocument(ctx context.Context, conversationID, docType string, data []byte) (string, error) {
	if conversationID == "" {
		return "", fmt.Errorf("%w: empty conversation id", api.ErrValidation)
	}
	if docType == "" {
		return "", fmt.Errorf("%w: empty document type", api.ErrValidation)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty document", api.ErrValidation)
	}

	ref, err := a.blobs.Put(ctx, data)
	if err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}

	docID := uuid.NewString()
	_, err = persistence.UpdateWith(ctx, a.store, conversationID, a.obs, func(r *api.ConversationRecord) error {
		if r.Superseded {
			return fmt.Errorf("%w: conversation was reset", api.ErrConversationClosed)
		}
		if r.Documents == nil {
			r.Documents = make(map[string]*api.Document)
		}
		r.Documents[docID] = &api.Document{
			ID:         docID,
			Type:       docType,
			BlobRef:    ref,
			Status:     api.DocumentPending,
			UploadedAt: time.Now(),
		}
		r.AddMessage(api.RoleSystem, fmt.Sprintf("document %s (%s) received", docID, docType))
		return nil
	})
	if err != nil {
		return "", err
	}
	return docID, nil
}

// ResetConversation supersedes the current record and starts a fresh one,
// returning the new conversation ID. The old record stays readable but
// accepts no further turns. Resetting an already-reset conversation
// returns the existing replacement ID.
func (a *Assistant) ResetConversation(ctx context.Context, conversationID string) (string, error) {
	if conversationID == "" {
		return "", fmt.Errorf("%w: empty conversation id", api.ErrValidation)
	}

	newID := uuid.NewString()
	var replacedBy string

	_, err := persistence.UpdateWith(ctx, a.store, conversationID, a.obs, func(r *api.ConversationRecord) error {
		if r.Superseded {
			replacedBy = r.SupersededBy
			return persistence.SkipUpdate()
		}
		r.Superseded = true
		r.SupersededBy = newID
		r.AddMessage(api.RoleSystem, "conversation reset by customer")
		return nil
	})
	switch {
	case err == nil:
		if replacedBy != "" {
			return replacedBy, nil
		}
	case errors.Is(err, api.ErrConversationClosed):
		// Closed records are terminal already; just start fresh.
	default:
		return "", err
	}

	rec := &api.ConversationRecord{
		ID:        newID,
		Stage:     api.StageGreeting,
		Documents: make(map[string]*api.Document),
	}
	if err := a.store.Create(ctx, rec); err != nil {
		return "", err
	}
	return newID, nil
}

// StartWorkers launches the background document verifier and sanction
// trigger. Close (or the context) stops them.
func (a *Assistant) StartWorkers(ctx context.Context) error {
	return a.pool.Start(ctx)
}

// Close stops the background workers and releases any resources opened
// by NewAssistantFromConfig.
func (a *Assistant) Close() error {
	a.pool.Stop()

	var firstErr error
	for _, c := range a.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Store exposes the underlying conversation store, mainly for tests and
// custom tooling.
func (a *Assistant) Store() ConversationStore { return a.store }

// Blobs exposes the underlying blob store.
func (a *Assistant) Blobs() BlobStore { return a.blobs }
