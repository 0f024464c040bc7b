package api

import (
	"context"
	"time"
)

// Capability names understood by the dispatcher.
const (
	CapabilitySales          = "sales"
	CapabilityVerification   = "verification"
	CapabilityUnderwriting   = "underwriting"
	CapabilityDocumentIssuer = "document-issuer"
)

// TaskStatus is the completion state reported by a capability.
type TaskStatus string

const (
	TaskCompleted TaskStatus = "COMPLETED"
	TaskPending   TaskStatus = "PENDING"
	TaskFailed    TaskStatus = "FAILED"
)

// TaskRequest is the uniform envelope sent to a capability. TaskID is
// unique per dispatch; a retry produces a new TaskID.
type TaskRequest struct {
	TaskID     string
	Capability string

	ConversationID string

	// Context is a read-only snapshot of the conversation record at
	// dispatch time.
	Context *ConversationRecord

	// Profile is the customer snapshot.
	Profile CustomerProfile

	// Params carries capability-specific parameters, for example the
	// structured facts extracted from the customer's message.
	Params map[string]any
}

// TaskResponse is the uniform envelope returned by a capability.
type TaskResponse struct {
	TaskID       string
	Status       TaskStatus
	CustomerText string

	// Result carries capability-specific structured output which the
	// controller merges into the conversation record.
	Result map[string]any

	// NextAction optionally suggests a follow-up, for example
	// "upload_document".
	NextAction string
}

// Capability is an external worker role invoked through the uniform
// dispatch contract. Implementations must honor ctx cancellation; the
// dispatcher enforces a deadline per call.
type Capability interface {
	Name() string
	Execute(ctx context.Context, req *TaskRequest) (*TaskResponse, error)
}

// RetryPolicy controls how a failed or timed-out dispatch is retried.
// MaxAttempts includes the first attempt:
//
//	MaxAttempts = 1 => no retries
//	MaxAttempts = 3 => initial call + up to 2 retries
type RetryPolicy struct {
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// BackoffMultiplier grows the delay each attempt; values <= 0 default
	// to 2.0.
	BackoffMultiplier float64

	// MaxBackoff caps the delay; <= 0 means no cap.
	MaxBackoff time.Duration
}
