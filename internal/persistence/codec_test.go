package persistence

import (
	"errors"
	"testing"
	"time"

	"github.com/petrijr/lendflow/pkg/api"
)

func TestCodec_RoundTrip(t *testing.T) {
	conf := 0.88
	rec := newTestRecord("conv-1")
	rec.Terms = api.LoanTerms{Amount: 250000, TenureMonths: 12, Rate: 11.0}
	rec.Documents["doc-1"] = &api.Document{
		ID:         "doc-1",
		Type:       api.DocTypeSalarySlip,
		Status:     api.DocumentVerified,
		Confidence: &conf,
		UploadedAt: time.Now(),
	}
	rec.AddMessage(api.RoleSystem, "document doc-1 verified")

	data, err := encodeRecord(rec)
	if err != nil {
		t.Fatalf("encodeRecord failed: %v", err)
	}

	got, err := decodeRecord(data)
	if err != nil {
		t.Fatalf("decodeRecord failed: %v", err)
	}
	if got.ID != "conv-1" || got.Terms.Amount != 250000 {
		t.Fatalf("unexpected decoded record: %+v", got)
	}
	if got.Documents["doc-1"] == nil || *got.Documents["doc-1"].Confidence != 0.88 {
		t.Fatalf("document lost in round trip: %+v", got.Documents)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != api.RoleSystem {
		t.Fatalf("messages lost in round trip: %+v", got.Messages)
	}
}

func TestCodec_CorruptPayloadIsFatal(t *testing.T) {
	_, err := decodeRecord([]byte("not a gob payload"))
	if !errors.Is(err, api.ErrFatalState) {
		t.Fatalf("expected ErrFatalState, got %v", err)
	}
}
