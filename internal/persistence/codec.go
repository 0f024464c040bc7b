package persistence

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/petrijr/lendflow/pkg/api"
)

// encodeRecord serializes a record using encoding/gob. The durable stores
// keep the full record as one payload blob beside the indexed columns.
func encodeRecord(rec *api.ConversationRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return buf.Bytes(), nil
}

// decodeRecord deserializes a payload blob. A payload that no longer
// decodes is the fatal-state case: the conversation cannot be recovered.
func decodeRecord(data []byte) (*api.ConversationRecord, error) {
	var rec api.ConversationRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrFatalState, err)
	}
	return &rec, nil
}
