// Package capability provides the built-in worker capabilities invoked
// through the dispatch contract: sales, verification, underwriting and
// document issuance. External services (credit bureau, text generation,
// document analysis, letter rendering) sit behind the collaborator
// interfaces in pkg/api so they can be swapped or mocked.
package capability

import (
	"context"
	"fmt"

	"github.com/petrijr/lendflow/internal/decision"
	"github.com/petrijr/lendflow/pkg/api"
)

// Result map keys shared between capabilities and the controller.
const (
	ResultAmount       = "amount"
	ResultTenureMonths = "tenure_months"
	ResultPurpose      = "purpose"
	ResultCreditScore  = "credit_score"
	ResultLimit        = "pre_approved_limit"
	ResultVerified     = "verified"
	ResultDecision     = "decision"
	ResultReason       = "reason"
	ResultRate         = "rate"
	ResultEMI          = "emi"
	ResultFee          = "fee"
	ResultLetterRef    = "letter_ref"
)

// NextAction values suggested to the caller.
const (
	ActionUploadDocument = "upload_document"
	ActionProvideTerms   = "provide_terms"
)

// Sales captures loan terms from the extracted facts and produces the
// customer-facing negotiation text.
type Sales struct {
	Text api.TextGenerator
}

var _ api.Capability = (*Sales)(nil)

func (s *Sales) Name() string { return api.CapabilitySales }

func (s *Sales) Execute(ctx context.Context, req *api.TaskRequest) (*api.TaskResponse, error) {
	result := make(map[string]any)

	terms := api.LoanTerms{}
	if req.Context != nil {
		terms = req.Context.Terms
	}
	if v, ok := asFloat(req.Params[ResultAmount]); ok && v > 0 {
		terms.Amount = v
	}
	if v, ok := asInt(req.Params[ResultTenureMonths]); ok && v > 0 {
		terms.TenureMonths = v
	}
	if v, ok := req.Params[ResultPurpose].(string); ok && v != "" {
		terms.Purpose = v
	}

	if terms.Amount > 0 {
		result[ResultAmount] = terms.Amount
	}
	if terms.TenureMonths > 0 {
		result[ResultTenureMonths] = terms.TenureMonths
	}
	if terms.Purpose != "" {
		result[ResultPurpose] = terms.Purpose
	}

	facts := map[string]any{
		ResultAmount:       terms.Amount,
		ResultTenureMonths: terms.TenureMonths,
		ResultPurpose:      terms.Purpose,
	}
	text, err := s.Text.Generate(ctx, api.StageSalesExploration, facts)
	if err != nil {
		return nil, fmt.Errorf("sales text: %w", err)
	}

	resp := &api.TaskResponse{
		TaskID:       req.TaskID,
		Status:       api.TaskCompleted,
		CustomerText: text,
		Result:       result,
	}
	if !terms.Captured() {
		resp.NextAction = ActionProvideTerms
	}
	return resp, nil
}

// Verification looks the customer up with the credit bureau and reports the
// profile facts to merge into the record.
type Verification struct {
	Bureau api.CreditBureau
}

var _ api.Capability = (*Verification)(nil)

func (v *Verification) Name() string { return api.CapabilityVerification }

func (v *Verification) Execute(ctx context.Context, req *api.TaskRequest) (*api.TaskResponse, error) {
	profile, err := v.Bureau.Lookup(ctx, req.Profile.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("bureau lookup for %s: %w", req.Profile.CustomerID, err)
	}

	text := "Your identity could not be verified. Please check your details."
	if profile.Verified {
		text = "Your identity has been verified."
	}

	return &api.TaskResponse{
		TaskID:       req.TaskID,
		Status:       api.TaskCompleted,
		CustomerText: text,
		Result: map[string]any{
			ResultCreditScore: profile.CreditScore,
			ResultLimit:       profile.PreApprovedLimit,
			ResultVerified:    profile.Verified,
		},
	}, nil
}

// Underwriting runs the decision engine over the snapshot in the request.
// FeeCap <= 0 means the engine default.
type Underwriting struct {
	FeeCap float64
}

var _ api.Capability = (*Underwriting)(nil)

func (u *Underwriting) Name() string { return api.CapabilityUnderwriting }

func (u *Underwriting) Execute(ctx context.Context, req *api.TaskRequest) (*api.TaskResponse, error) {
	if req.Context == nil {
		return nil, fmt.Errorf("%w: underwriting requires conversation context", api.ErrValidation)
	}

	in := decision.Input{
		Amount:             req.Context.Terms.Amount,
		TenureMonths:       req.Context.Terms.TenureMonths,
		CreditScore:        req.Profile.CreditScore,
		PreApprovedLimit:   req.Profile.PreApprovedLimit,
		MonthlyObligations: req.Profile.MonthlyObligations,
		FeeCap:             u.FeeCap,
	}
	if req.Profile.MonthlySalary > 0 {
		salary := req.Profile.MonthlySalary
		in.MonthlySalary = &salary
	}

	d := decision.Evaluate(in)

	resp := &api.TaskResponse{
		TaskID: req.TaskID,
		Status: api.TaskCompleted,
		Result: map[string]any{
			ResultDecision: string(d.Status),
			ResultReason:   d.Reason,
			ResultRate:     d.Rate,
			ResultEMI:      d.EMI,
			ResultFee:      d.Fee,
		},
	}

	switch d.Status {
	case api.DecisionApproved:
		resp.CustomerText = fmt.Sprintf("Your loan is approved at %.2f%% with an EMI of %.2f.", d.Rate, d.EMI)
	case api.DecisionPendingDocument:
		resp.CustomerText = "We need proof of income to proceed. Please upload a recent salary slip."
		resp.NextAction = ActionUploadDocument
	default:
		resp.CustomerText = fmt.Sprintf("We are unable to approve this loan (%s).", d.Reason)
	}
	return resp, nil
}

// DocumentIssuer renders the sanction letter and stores it in the blob
// store, reporting the blob ref.
type DocumentIssuer struct {
	Renderer api.LetterRenderer
	Blobs    api.BlobStore
}

var _ api.Capability = (*DocumentIssuer)(nil)

func (i *DocumentIssuer) Name() string { return api.CapabilityDocumentIssuer }

func (i *DocumentIssuer) Execute(ctx context.Context, req *api.TaskRequest) (*api.TaskResponse, error) {
	if req.Context == nil {
		return nil, fmt.Errorf("%w: issuance requires conversation context", api.ErrValidation)
	}

	letter, err := i.Renderer.Render(ctx, req.Context)
	if err != nil {
		return nil, fmt.Errorf("render sanction letter: %w", err)
	}
	ref, err := i.Blobs.Put(ctx, letter)
	if err != nil {
		return nil, fmt.Errorf("store sanction letter: %w", err)
	}

	return &api.TaskResponse{
		TaskID:       req.TaskID,
		Status:       api.TaskCompleted,
		CustomerText: "Your sanction letter has been issued.",
		Result:       map[string]any{ResultLetterRef: ref},
	}, nil
}

func asFloat(v any) (float64, bool) {
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

func asInt(v any) (int, bool) {
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
