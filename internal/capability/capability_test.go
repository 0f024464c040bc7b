package capability

import (
	"context"
	"errors"
	"testing"

	"github.com/petrijr/lendflow/pkg/api"
)

func salesRequest(params map[string]any, terms api.LoanTerms) *api.TaskRequest {
	return &api.TaskRequest{
		TaskID:         "task-1",
		Capability:     api.CapabilitySales,
		ConversationID: "conv-1",
		Context:        &api.ConversationRecord{ID: "conv-1", Terms: terms},
		Params:         params,
	}
}

func TestSales_CapturesTerms(t *testing.T) {
	s := &Sales{Text: TemplateTextGenerator{}}

	resp, err := s.Execute(context.Background(), salesRequest(map[string]any{
		ResultAmount:       400000.0,
		ResultTenureMonths: 36,
		ResultPurpose:      "travel",
	}, api.LoanTerms{}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if resp.Result[ResultAmount] != 400000.0 {
		t.Fatalf("amount not captured: %v", resp.Result)
	}
	if resp.Result[ResultTenureMonths] != 36 {
		t.Fatalf("tenure not captured: %v", resp.Result)
	}
	if resp.Result[ResultPurpose] != "travel" {
		t.Fatalf("purpose not captured: %v", resp.Result)
	}
	if resp.NextAction != "" {
		t.Fatalf("complete terms must not ask for more, got %q", resp.NextAction)
	}
}

func TestSales_IncompleteTermsAskForMore(t *testing.T) {
	s := &Sales{Text: TemplateTextGenerator{}}

	resp, err := s.Execute(context.Background(), salesRequest(map[string]any{
		ResultAmount: 400000.0,
	}, api.LoanTerms{}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if resp.NextAction != ActionProvideTerms {
		t.Fatalf("expected provide_terms, got %q", resp.NextAction)
	}
}

func TestSales_KeepsEarlierTerms(t *testing.T) {
	s := &Sales{Text: TemplateTextGenerator{}}

	resp, err := s.Execute(context.Background(), salesRequest(map[string]any{
		ResultTenureMonths: 24,
	}, api.LoanTerms{Amount: 250000}))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if resp.Result[ResultAmount] != 250000.0 || resp.Result[ResultTenureMonths] != 24 {
		t.Fatalf("expected merged terms, got %v", resp.Result)
	}
}

func TestVerification_ReportsBureauProfile(t *testing.T) {
	bureau := &StaticBureau{
		Profiles: map[string]api.BureauProfile{
			"cust-1": {CreditScore: 780, PreApprovedLimit: 500000, Verified: true},
		},
	}
	v := &Verification{Bureau: bureau}

	resp, err := v.Execute(context.Background(), &api.TaskRequest{
		TaskID:  "task-1",
		Profile: api.CustomerProfile{CustomerID: "cust-1"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if resp.Result[ResultCreditScore] != 780 || resp.Result[ResultVerified] != true {
		t.Fatalf("unexpected result: %v", resp.Result)
	}
}

func TestUnderwriting_WithinLimitApproved(t *testing.T) {
	u := &Underwriting{}

	resp, err := u.Execute(context.Background(), &api.TaskRequest{
		TaskID: "task-1",
		Context: &api.ConversationRecord{
			Terms: api.LoanTerms{Amount: 400000, TenureMonths: 36},
		},
		Profile: api.CustomerProfile{CreditScore: 780, PreApprovedLimit: 500000},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if resp.Result[ResultDecision] != string(api.DecisionApproved) {
		t.Fatalf("expected APPROVED, got %v", resp.Result)
	}
}

func TestUnderwriting_NoSalaryRequestsDocument(t *testing.T) {
	u := &Underwriting{}

	resp, err := u.Execute(context.Background(), &api.TaskRequest{
		TaskID: "task-1",
		Context: &api.ConversationRecord{
			Terms: api.LoanTerms{Amount: 1000000, TenureMonths: 48},
		},
		Profile: api.CustomerProfile{CreditScore: 820, PreApprovedLimit: 600000},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if resp.Result[ResultDecision] != string(api.DecisionPendingDocument) {
		t.Fatalf("expected PENDING_DOCUMENT, got %v", resp.Result)
	}
	if resp.NextAction != ActionUploadDocument {
		t.Fatalf("expected upload_document, got %q", resp.NextAction)
	}
}

func TestUnderwriting_SalaryEnablesDecision(t *testing.T) {
	u := &Underwriting{}

	resp, err := u.Execute(context.Background(), &api.TaskRequest{
		TaskID: "task-1",
		Context: &api.ConversationRecord{
			Terms: api.LoanTerms{Amount: 1000000, TenureMonths: 48},
		},
		Profile: api.CustomerProfile{
			CreditScore:      820,
			PreApprovedLimit: 600000,
			MonthlySalary:    70000,
		},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if resp.Result[ResultDecision] != string(api.DecisionApproved) {
		t.Fatalf("expected APPROVED with salary proof, got %v", resp.Result)
	}
	emi, _ := resp.Result[ResultEMI].(float64)
	if emi <= 0 || emi > 35000 {
		t.Fatalf("unexpected EMI %v", emi)
	}
}

func TestUnderwriting_ObligationsCountAgainstAffordability(t *testing.T) {
	u := &Underwriting{}

	resp, err := u.Execute(context.Background(), &api.TaskRequest{
		TaskID: "task-1",
		Context: &api.ConversationRecord{
			Terms: api.LoanTerms{Amount: 600000, TenureMonths: 24},
		},
		Profile: api.CustomerProfile{
			CreditScore:        720,
			PreApprovedLimit:   300000,
			MonthlySalary:      55000,
			MonthlyObligations: 4000,
		},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if resp.Result[ResultDecision] != string(api.DecisionRejected) {
		t.Fatalf("expected REJECTED, got %v", resp.Result)
	}
	if resp.Result[ResultReason] != api.ReasonEMIExceedsLimit {
		t.Fatalf("expected EMI_EXCEEDS_LIMIT, got %v", resp.Result[ResultReason])
	}
}

type memBlobs struct {
	data map[string][]byte
}

func (m *memBlobs) Put(ctx context.Context, data []byte) (string, error) {
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	ref := "blob-1"
	m.data[ref] = data
	return ref, nil
}

func (m *memBlobs) Get(ctx context.Context, ref string) ([]byte, error) {
	return m.data[ref], nil
}

func TestDocumentIssuer_StoresLetter(t *testing.T) {
	blobs := &memBlobs{}
	i := &DocumentIssuer{Renderer: TextLetterRenderer{}, Blobs: blobs}

	resp, err := i.Execute(context.Background(), &api.TaskRequest{
		TaskID: "task-1",
		Context: &api.ConversationRecord{
			Customer:     api.CustomerProfile{Name: "Asha"},
			Terms:        api.LoanTerms{Amount: 400000, TenureMonths: 36},
			Underwriting: api.UnderwritingResult{Decision: api.DecisionApproved, Rate: 11.0, EMI: 13095.38},
		},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	ref, _ := resp.Result[ResultLetterRef].(string)
	if ref == "" {
		t.Fatalf("expected letter ref, got %v", resp.Result)
	}
	letter, _ := blobs.Get(context.Background(), ref)
	if len(letter) == 0 {
		t.Fatal("expected stored letter bytes")
	}
}

func TestDocumentIssuer_RefusesNonApproved(t *testing.T) {
	i := &DocumentIssuer{Renderer: TextLetterRenderer{}, Blobs: &memBlobs{}}

	_, err := i.Execute(context.Background(), &api.TaskRequest{
		TaskID: "task-1",
		Context: &api.ConversationRecord{
			Underwriting: api.UnderwritingResult{Decision: api.DecisionRejected},
		},
	})
	if !errors.Is(err, api.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestKeyValueExtractor(t *testing.T) {
	facts, err := KeyValueExtractor{}.Extract(context.Background(), api.StageSalesExploration, "I need amount=400000 tenure=36 purpose=travel")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if facts[ResultAmount] != 400000.0 || facts[ResultTenureMonths] != 36 || facts[ResultPurpose] != "travel" {
		t.Fatalf("unexpected facts: %v", facts)
	}

	facts, _ = KeyValueExtractor{}.Extract(context.Background(), api.StageUnderwriting, "I want to modify terms please")
	if facts[FactModifyTerms] != true {
		t.Fatalf("expected modify_terms flag, got %v", facts)
	}
}

func TestKeyValueAnalyzer_ExtractsSalary(t *testing.T) {
	conf, extracted, err := KeyValueAnalyzer{Confidence: 0.9}.Analyze(context.Background(), api.DocTypeSalarySlip, []byte("monthly_salary=70000 employer=Acme"))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if conf != 0.9 {
		t.Fatalf("unexpected confidence %v", conf)
	}
	if extracted["monthly_salary"] != 70000.0 {
		t.Fatalf("expected extracted salary, got %v", extracted)
	}
	if extracted["employer"] != "Acme" {
		t.Fatalf("expected extracted employer, got %v", extracted)
	}
}
