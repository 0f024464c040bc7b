package lendflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestAssistant(t *testing.T, bureau CreditBureau) *Assistant {
	t.Helper()

	a, err := NewAssistant(Options{
		Bureau:       bureau,
		Retry:        Retry(2).WithConstantBackoff(time.Millisecond).Policy(),
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a
}

func TestAssistant_ApprovedEndToEnd(t *testing.T) {
	a := newTestAssistant(t, &StaticBureau{
		Fallback: BureauProfile{CreditScore: 780, PreApprovedLimit: 500000, Verified: true},
	})
	ctx := context.Background()
	const id = "conv-approved"

	resp, err := a.SubmitCustomerMessage(ctx, id, "hello")
	require.NoError(t, err)
	require.Equal(t, StageIntentCapture, resp.Stage)

	resp, err = a.SubmitCustomerMessage(ctx, id, "I need a loan amount=400000 tenure=36 purpose=travel")
	require.NoError(t, err)
	require.Equal(t, StageSalesExploration, resp.Stage)

	resp, err = a.SubmitCustomerMessage(ctx, id, "sounds good")
	require.NoError(t, err)
	require.Equal(t, StageVerification, resp.Stage)

	resp, err = a.SubmitCustomerMessage(ctx, id, "go ahead")
	require.NoError(t, err)
	require.Equal(t, StageUnderwriting, resp.Stage)
	require.Equal(t, DecisionApproved, resp.Decision)

	resp, err = a.SubmitCustomerMessage(ctx, id, "great")
	require.NoError(t, err)
	require.Equal(t, StageDocumentation, resp.Stage)

	resp, err = a.SubmitCustomerMessage(ctx, id, "thanks")
	require.NoError(t, err)
	require.Equal(t, StageClosure, resp.Stage)

	st, err := a.GetState(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StageClosure, st.Stage)
	require.True(t, st.SanctionRequested)
	require.NotEmpty(t, st.SanctionLetterRef)
	require.Equal(t, 11.0, st.Underwriting.Rate)
	require.Empty(t, st.Documents, "within-limit approval must not request documents")

	// The letter is retrievable from the blob store.
	letter, err := a.Blobs().Get(ctx, st.SanctionLetterRef)
	require.NoError(t, err)
	require.Contains(t, string(letter), "SANCTION LETTER")
}

func TestAssistant_DocumentUploadDrivesApproval(t *testing.T) {
	a := newTestAssistant(t, &StaticBureau{
		Fallback: BureauProfile{CreditScore: 820, PreApprovedLimit: 600000, Verified: true},
	})
	ctx := context.Background()
	const id = "conv-upload"

	for _, msg := range []string{"hello", "amount=1000000 tenure=48", "ok"} {
		_, err := a.SubmitCustomerMessage(ctx, id, msg)
		require.NoError(t, err)
	}

	resp, err := a.SubmitCustomerMessage(ctx, id, "ok")
	require.NoError(t, err)
	require.Equal(t, DecisionPendingDocument, resp.Decision)

	docID, err := a.UploadDocument(ctx, id, "salary_slip", []byte("monthly_salary=70000"))
	require.NoError(t, err)

	require.NoError(t, a.StartWorkers(ctx))

	// The background verifier claims the document, analyzes it and folds
	// the salary into the customer snapshot.
	require.Eventually(t, func() bool {
		st, err := a.GetState(ctx, id)
		if err != nil {
			return false
		}
		return st.Customer.MonthlySalary == 70000
	}, 5*time.Second, 10*time.Millisecond, "salary slip was never verified")

	st, err := a.GetState(ctx, id)
	require.NoError(t, err)
	require.Len(t, st.Documents, 1)
	require.Equal(t, docID, st.Documents[0].ID)
	require.Equal(t, DocumentVerified, st.Documents[0].Status)

	resp, err = a.SubmitCustomerMessage(ctx, id, "uploaded my salary slip")
	require.NoError(t, err)
	require.Equal(t, DecisionApproved, resp.Decision)

	// Either the sanction trigger or the next turn issues the letter,
	// but never both.
	require.Eventually(t, func() bool {
		st, err := a.GetState(ctx, id)
		if err != nil {
			return false
		}
		return st.SanctionLetterRef != ""
	}, 5*time.Second, 10*time.Millisecond, "sanction letter was never issued")
}

func TestAssistant_UploadValidation(t *testing.T) {
	a := newTestAssistant(t, &StaticBureau{})
	ctx := context.Background()

	_, err := a.UploadDocument(ctx, "", "salary_slip", []byte("x"))
	require.ErrorIs(t, err, ErrValidation)

	_, err = a.UploadDocument(ctx, "conv-1", "", []byte("x"))
	require.ErrorIs(t, err, ErrValidation)

	_, err = a.UploadDocument(ctx, "conv-1", "salary_slip", nil)
	require.ErrorIs(t, err, ErrValidation)

	_, err = a.UploadDocument(ctx, "conv-unknown", "salary_slip", []byte("x"))
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestAssistant_ResetSupersedes(t *testing.T) {
	a := newTestAssistant(t, &StaticBureau{})
	ctx := context.Background()
	const id = "conv-reset"

	_, err := a.SubmitCustomerMessage(ctx, id, "hello")
	require.NoError(t, err)

	newID, err := a.ResetConversation(ctx, id)
	require.NoError(t, err)
	require.NotEqual(t, id, newID)

	// The old conversation accepts no further turns.
	resp, err := a.SubmitCustomerMessage(ctx, id, "hello again")
	require.NoError(t, err)
	require.Contains(t, resp.Text, "reset")

	// A second reset is idempotent.
	again, err := a.ResetConversation(ctx, id)
	require.NoError(t, err)
	require.Equal(t, newID, again)

	// The replacement starts from the beginning.
	resp, err = a.SubmitCustomerMessage(ctx, newID, "hello")
	require.NoError(t, err)
	require.Equal(t, StageIntentCapture, resp.Stage)
}

func TestAssistant_GetStateUnknownConversation(t *testing.T) {
	a := newTestAssistant(t, &StaticBureau{})

	_, err := a.GetState(context.Background(), "no-such-conversation")
	require.ErrorIs(t, err, ErrConversationNotFound)
}
