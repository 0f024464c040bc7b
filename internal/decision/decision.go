// Package decision implements the eligibility and pricing engine. Evaluate
// is a pure function over its input: no I/O, no clock, no randomness, so it
// can be tested exhaustively without mocks.
package decision

import (
	"math"

	"github.com/petrijr/lendflow/pkg/api"
)

// DefaultFeeCap caps the processing fee when the input does not specify one.
const DefaultFeeCap = 10_000

// Input is everything an evaluation may consider. MonthlySalary is nil when
// no income proof has been provided yet; MonthlyObligations covers existing
// EMIs and counts against the affordability check.
type Input struct {
	Amount             float64
	TenureMonths       int
	CreditScore        int
	PreApprovedLimit   float64
	MonthlySalary      *float64
	MonthlyObligations float64
	FeeCap             float64 // 0 means DefaultFeeCap
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Status api.DecisionStatus
	Rate   float64
	EMI    float64
	Fee    float64
	Reason string
}

// Evaluate applies the eligibility rules in order:
//
//  1. amount within the pre-approved limit: approved outright.
//  2. amount within twice the limit and credit score >= 700: approved if the
//     EMI plus existing obligations stays within half the monthly salary;
//     pending an income document when no salary is known yet.
//  3. otherwise rejected, with the reason naming whichever bound failed.
//
// Every input reaches exactly one branch.
func Evaluate(in Input) Decision {
	rate := Rate(in.CreditScore)
	feeCap := in.FeeCap
	if feeCap <= 0 {
		feeCap = DefaultFeeCap
	}
	fee := ProcessingFee(in.Amount, feeCap)
	emi := 0.0
	if in.TenureMonths > 0 {
		emi = EMI(in.Amount, rate, in.TenureMonths)
	}

	switch {
	case in.Amount <= in.PreApprovedLimit:
		return Decision{Status: api.DecisionApproved, Rate: rate, EMI: emi, Fee: fee}

	case in.Amount <= 2*in.PreApprovedLimit && in.CreditScore >= 700:
		if in.MonthlySalary == nil {
			return Decision{Status: api.DecisionPendingDocument, Rate: rate, EMI: emi, Fee: fee}
		}
		if emi+in.MonthlyObligations <= 0.5*(*in.MonthlySalary) {
			return Decision{Status: api.DecisionApproved, Rate: rate, EMI: emi, Fee: fee}
		}
		return Decision{Status: api.DecisionRejected, Rate: rate, EMI: emi, Fee: fee, Reason: api.ReasonEMIExceedsLimit}

	case in.Amount > 2*in.PreApprovedLimit:
		return Decision{Status: api.DecisionRejected, Rate: rate, EMI: emi, Fee: fee, Reason: api.ReasonAmountExceedsLimit}

	default:
		return Decision{Status: api.DecisionRejected, Rate: rate, EMI: emi, Fee: fee, Reason: api.ReasonLowCreditScore}
	}
}

// Rate returns the fixed annual interest rate (percent) for a credit score.
func Rate(creditScore int) float64 {
	switch {
	case creditScore >= 800:
		return 10.5
	case creditScore >= 750:
		return 11.0
	case creditScore >= 700:
		return 12.0
	default:
		return 13.5
	}
}

// EMI computes the equated monthly installment for principal p at the given
// annual percentage rate over n months, rounded half-up to currency cents:
//
//	r   = annualRate / 1200
//	EMI = p * r * (1+r)^n / ((1+r)^n - 1)
func EMI(p, annualRate float64, n int) float64 {
	r := annualRate / 1200
	if r == 0 {
		return roundCents(p / float64(n))
	}
	pow := math.Pow(1+r, float64(n))
	return roundCents(p * r * pow / (pow - 1))
}

// ProcessingFee is 1% of the principal, capped.
func ProcessingFee(p, cap float64) float64 {
	return roundCents(math.Min(0.01*p, cap))
}

// roundCents rounds half-up to two decimal places.
func roundCents(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}
