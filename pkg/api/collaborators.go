package api

import "context"

// BureauProfile is the result of a credit/profile lookup.
type BureauProfile struct {
	CreditScore      int
	PreApprovedLimit float64
	Verified         bool
}

// CreditBureau looks up a customer's credit profile. Implementations are
// external services; calls are bounded by the dispatch timeout and retried
// per the configured policy.
type CreditBureau interface {
	Lookup(ctx context.Context, customerID string) (BureauProfile, error)
}

// TextGenerator produces customer-facing text for a stage and a set of
// structured facts. It is strictly a text producer and never drives
// control-flow decisions.
type TextGenerator interface {
	Generate(ctx context.Context, stage Stage, facts map[string]any) (string, error)
}

// FactExtractor pulls structured facts (loan amount, tenure, purpose,
// modify-terms intent) out of a raw customer message. Like TextGenerator it
// is an opaque, swappable language capability.
type FactExtractor interface {
	Extract(ctx context.Context, stage Stage, text string) (map[string]any, error)
}

// DocumentAnalyzer verifies an uploaded document and yields a confidence
// score in [0,1] plus any structured data extracted from it (for example
// "monthly_salary" from a salary slip).
type DocumentAnalyzer interface {
	Analyze(ctx context.Context, docType string, data []byte) (confidence float64, extracted map[string]any, err error)
}

// LetterRenderer renders the decision record into a sanction letter
// document.
type LetterRenderer interface {
	Render(ctx context.Context, rec *ConversationRecord) ([]byte, error)
}

// BlobStore stores document bytes by opaque reference.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
}
