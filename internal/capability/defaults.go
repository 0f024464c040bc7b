package capability

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/petrijr/lendflow/pkg/api"
)

// The default collaborators keep the library usable without any external
// service: a template text generator, a key=value fact extractor, a static
// credit bureau, a key=value document analyzer and a plain-text letter
// renderer. Production deployments replace them through the api interfaces.

// TemplateTextGenerator produces fixed per-stage text with the captured
// facts interpolated.
type TemplateTextGenerator struct{}

var _ api.TextGenerator = TemplateTextGenerator{}

func (TemplateTextGenerator) Generate(ctx context.Context, stage api.Stage, facts map[string]any) (string, error) {
	switch stage {
	case api.StageGreeting:
		return "Hello! I can help you with a personal loan. What are you looking for?", nil
	case api.StageSalesExploration:
		amount, _ := asFloat(facts[ResultAmount])
		tenure, _ := asInt(facts[ResultTenureMonths])
		if amount > 0 && tenure > 0 {
			return fmt.Sprintf("Noted: %.0f over %d months. Let me verify your details.", amount, tenure), nil
		}
		if amount > 0 {
			return "Over how many months would you like to repay?", nil
		}
		return "What loan amount do you have in mind, and over how many months?", nil
	default:
		return "Let me look into that.", nil
	}
}

// KeyValueExtractor reads structured facts out of "key=value" pairs in the
// customer text, for example "amount=400000 tenure=36 purpose=travel". The
// phrase "modify terms" flags an explicit term edit.
type KeyValueExtractor struct{}

var _ api.FactExtractor = KeyValueExtractor{}

// FactModifyTerms is set true when the customer asked to renegotiate.
const FactModifyTerms = "modify_terms"

func (KeyValueExtractor) Extract(ctx context.Context, stage api.Stage, text string) (map[string]any, error) {
	facts := make(map[string]any)

	if strings.Contains(strings.ToLower(text), "modify terms") {
		facts[FactModifyTerms] = true
	}

	for _, field := range strings.Fields(text) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "amount":
			if v, err := strconv.ParseFloat(value, 64); err == nil {
				facts[ResultAmount] = v
			}
		case "tenure", "tenure_months":
			if v, err := strconv.Atoi(value); err == nil {
				facts[ResultTenureMonths] = v
			}
		case "purpose":
			facts[ResultPurpose] = value
		}
	}
	return facts, nil
}

// StaticBureau serves bureau profiles from a fixed map, with a fallback
// profile for unknown customers.
type StaticBureau struct {
	Profiles map[string]api.BureauProfile
	Fallback api.BureauProfile
}

var _ api.CreditBureau = (*StaticBureau)(nil)

func (b *StaticBureau) Lookup(ctx context.Context, customerID string) (api.BureauProfile, error) {
	if p, ok := b.Profiles[customerID]; ok {
		return p, nil
	}
	return b.Fallback, nil
}

// KeyValueAnalyzer reads "key=value" lines out of the document bytes and
// reports a fixed confidence. A salary slip yields "monthly_salary".
type KeyValueAnalyzer struct {
	Confidence float64
}

var _ api.DocumentAnalyzer = KeyValueAnalyzer{}

func (a KeyValueAnalyzer) Analyze(ctx context.Context, docType string, data []byte) (float64, map[string]any, error) {
	extracted := make(map[string]any)
	for _, line := range strings.Fields(string(data)) {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			extracted[strings.ToLower(key)] = v
		} else {
			extracted[strings.ToLower(key)] = value
		}
	}
	return a.Confidence, extracted, nil
}

// TextLetterRenderer renders the approval into a plain-text sanction letter.
type TextLetterRenderer struct{}

var _ api.LetterRenderer = TextLetterRenderer{}

func (TextLetterRenderer) Render(ctx context.Context, rec *api.ConversationRecord) ([]byte, error) {
	if rec.Underwriting.Decision != api.DecisionApproved {
		return nil, fmt.Errorf("%w: cannot issue a letter for decision %q", api.ErrValidation, rec.Underwriting.Decision)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SANCTION LETTER\n\n")
	fmt.Fprintf(&b, "Customer: %s\n", rec.Customer.Name)
	fmt.Fprintf(&b, "Amount:   %.2f\n", rec.Terms.Amount)
	fmt.Fprintf(&b, "Tenure:   %d months\n", rec.Terms.TenureMonths)
	fmt.Fprintf(&b, "Rate:     %.2f%% p.a.\n", rec.Underwriting.Rate)
	fmt.Fprintf(&b, "EMI:      %.2f\n", rec.Underwriting.EMI)
	fmt.Fprintf(&b, "Fee:      %.2f\n", rec.Underwriting.Fee)
	return []byte(b.String()), nil
}
