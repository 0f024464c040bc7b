package api

import "time"

// Stage is a named phase of the application workflow state machine.
type Stage string

const (
	StageGreeting         Stage = "GREETING"
	StageIntentCapture    Stage = "INTENT_CAPTURE"
	StageSalesExploration Stage = "SALES_EXPLORATION"
	StageVerification     Stage = "VERIFICATION"
	StageUnderwriting     Stage = "UNDERWRITING"
	StageDocumentation    Stage = "DOCUMENTATION"
	StageClosure          Stage = "CLOSURE"
)

// DecisionStatus is the outcome of an eligibility evaluation.
type DecisionStatus string

const (
	DecisionApproved        DecisionStatus = "APPROVED"
	DecisionRejected        DecisionStatus = "REJECTED"
	DecisionPendingDocument DecisionStatus = "PENDING_DOCUMENT"
)

// Rejection reasons produced by the decision engine.
const (
	ReasonEMIExceedsLimit    = "EMI_EXCEEDS_LIMIT"
	ReasonAmountExceedsLimit = "AMOUNT_EXCEEDS_LIMIT"
	ReasonLowCreditScore     = "LOW_CREDIT_SCORE"
)

// DocumentStatus is the lifecycle state of an uploaded document.
// Transitions only advance: pending -> claimed -> {verified, rejected}.
type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "pending"
	DocumentClaimed  DocumentStatus = "claimed"
	DocumentVerified DocumentStatus = "verified"
	DocumentRejected DocumentStatus = "rejected"
)

// DocTypeSalarySlip is the document type requested when underwriting needs
// income proof. Other types are accepted verbatim from the caller.
const DocTypeSalarySlip = "salary_slip"

// Document is one uploaded document attached to a conversation.
type Document struct {
	ID   string
	Type string

	// BlobRef addresses the raw bytes in the blob store.
	BlobRef string

	Status DocumentStatus

	// Confidence is set once verification completed; nil while pending
	// or claimed.
	Confidence *float64

	// ClaimToken marks the verifier instance that currently owns this
	// document. The claim is valid only until ClaimExpiresAt; an expired
	// claim may be taken over by another instance.
	ClaimToken     string
	ClaimExpiresAt time.Time

	UploadedAt time.Time
}

// Open reports whether the document still needs verification work,
// counting an unexpired claim as open so scans keep watching it.
func (d *Document) Open() bool {
	return d.Status == DocumentPending || d.Status == DocumentClaimed
}

// Claimable reports whether a verifier may take ownership of the document
// at the given instant: it is pending, or its previous claim has expired.
func (d *Document) Claimable(now time.Time) bool {
	switch d.Status {
	case DocumentPending:
		return true
	case DocumentClaimed:
		return now.After(d.ClaimExpiresAt)
	default:
		return false
	}
}

// Message is one entry in the append-only conversation log.
type Message struct {
	Role    string // "customer", "assistant" or "system"
	Content string
	At      time.Time
}

const (
	RoleCustomer  = "customer"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// CustomerProfile is the customer snapshot carried on the record. Credit
// score and pre-approved limit are filled in by the verification
// capability; monthly salary may arrive later via a verified income
// document.
type CustomerProfile struct {
	CustomerID         string
	Name               string
	Phone              string
	CreditScore        int
	PreApprovedLimit   float64
	MonthlySalary      float64 // 0 means not yet known
	MonthlyObligations float64 // existing EMIs per month
	Verified           bool
}

// LoanTerms holds the negotiated loan parameters. Amount, TenureMonths and
// Purpose come from the customer; Rate, EMI and ProcessingFee are only ever
// derived from a decision-engine evaluation, never set independently.
type LoanTerms struct {
	Amount        float64
	TenureMonths  int
	Purpose       string
	Rate          float64
	EMI           float64
	ProcessingFee float64
}

// Captured reports whether the customer has provided enough terms to move
// past sales exploration.
func (t LoanTerms) Captured() bool {
	return t.Amount > 0 && t.TenureMonths > 0
}

// VerificationStatus is the result of identity verification.
type VerificationStatus struct {
	Confirmed bool
	Detail    string
}

// UnderwritingResult is the recorded outcome of the last eligibility
// evaluation.
type UnderwritingResult struct {
	Decision DecisionStatus
	Reason   string
	Rate     float64
	EMI      float64
	Fee      float64
}

// ConversationRecord is the versioned persistent state of one conversation.
//
// Version strictly increases on every committed write. Stage only advances
// per the controller's transition table, except the explicit modify-terms
// operation which may move backward from UNDERWRITING/DOCUMENTATION to
// SALES_EXPLORATION. Once Stage reaches CLOSURE the record is read-only.
type ConversationRecord struct {
	ID    string
	Stage Stage

	Customer     CustomerProfile
	Terms        LoanTerms
	Verification VerificationStatus
	Underwriting UnderwritingResult

	Messages  []Message
	Documents map[string]*Document

	// SanctionRequested transitions false -> true at most once per
	// approval; it is the at-most-once guard for document issuance.
	SanctionRequested bool

	// SanctionLetterRef addresses the issued sanction letter in the blob
	// store once issuance completed.
	SanctionLetterRef string

	// LastTaskID is the task ID of the most recently dispatched capability
	// request for this conversation. Responses carrying any other task ID
	// are discarded.
	LastTaskID string

	// Superseded is set when a reset created a replacement record.
	Superseded   bool
	SupersededBy string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AddMessage appends one entry to the message log.
func (r *ConversationRecord) AddMessage(role, content string) {
	r.Messages = append(r.Messages, Message{Role: role, Content: content, At: time.Now()})
}

// OpenDocuments counts documents still awaiting verification (pending or
// claimed).
func (r *ConversationRecord) OpenDocuments() int {
	n := 0
	for _, d := range r.Documents {
		if d.Open() {
			n++
		}
	}
	return n
}

// DocumentsVerified reports whether every required document has been
// verified with sufficient confidence: no document is still open, and for
// each document type present at least one document reached verified status.
// A record with no documents at all satisfies the condition (nothing was
// required).
func (r *ConversationRecord) DocumentsVerified() bool {
	verifiedByType := make(map[string]bool)
	for _, d := range r.Documents {
		if d.Open() {
			return false
		}
		if _, ok := verifiedByType[d.Type]; !ok {
			verifiedByType[d.Type] = false
		}
		if d.Status == DocumentVerified {
			verifiedByType[d.Type] = true
		}
	}
	for _, ok := range verifiedByType {
		if !ok {
			return false
		}
	}
	return true
}

// SanctionReady reports the composite condition watched by the sanction
// trigger: verification confirmed, underwriting approved, all required
// documents verified, and the trigger not yet fired.
func (r *ConversationRecord) SanctionReady() bool {
	return r.Verification.Confirmed &&
		r.Underwriting.Decision == DecisionApproved &&
		r.DocumentsVerified() &&
		!r.SanctionRequested &&
		!r.Superseded
}

// Clone returns a deep copy of the record. Stores hand out clones so that
// callers never share mutable state with the stored copy.
func (r *ConversationRecord) Clone() *ConversationRecord {
	cp := *r
	if r.Messages != nil {
		cp.Messages = make([]Message, len(r.Messages))
		copy(cp.Messages, r.Messages)
	}
	if r.Documents != nil {
		cp.Documents = make(map[string]*Document, len(r.Documents))
		for id, d := range r.Documents {
			dc := *d
			if d.Confidence != nil {
				c := *d.Confidence
				dc.Confidence = &c
			}
			cp.Documents[id] = &dc
		}
	}
	return &cp
}

// TurnResponse is the customer-facing result of one controller turn.
type TurnResponse struct {
	Text     string
	Stage    Stage
	Decision DecisionStatus
}

// PublicDocument is the externally visible view of a document; claim
// internals are excluded.
type PublicDocument struct {
	ID         string
	Type       string
	Status     DocumentStatus
	Confidence *float64
	UploadedAt time.Time
}

// PublicState is the external projection of a conversation record. It
// excludes the version and claim tokens.
type PublicState struct {
	ID                string
	Stage             Stage
	Customer          CustomerProfile
	Terms             LoanTerms
	Verification      VerificationStatus
	Underwriting      UnderwritingResult
	Messages          []Message
	Documents         []PublicDocument
	SanctionRequested bool
	SanctionLetterRef string
	UpdatedAt         time.Time
}

// Public returns the external projection of the record.
func (r *ConversationRecord) Public() *PublicState {
	st := &PublicState{
		ID:                r.ID,
		Stage:             r.Stage,
		Customer:          r.Customer,
		Terms:             r.Terms,
		Verification:      r.Verification,
		Underwriting:      r.Underwriting,
		SanctionRequested: r.SanctionRequested,
		SanctionLetterRef: r.SanctionLetterRef,
		UpdatedAt:         r.UpdatedAt,
	}
	st.Messages = make([]Message, len(r.Messages))
	copy(st.Messages, r.Messages)
	for _, d := range r.Documents {
		pd := PublicDocument{ID: d.ID, Type: d.Type, Status: d.Status, UploadedAt: d.UploadedAt}
		if d.Confidence != nil {
			c := *d.Confidence
			pd.Confidence = &c
		}
		st.Documents = append(st.Documents, pd)
	}
	return st
}
