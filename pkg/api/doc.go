// Package api defines the public types shared by the lendflow components:
// the conversation data model, the capability dispatch contract, the
// collaborator interfaces for external systems, and the Observer used for
// logging and metrics.
//
// # Conversation model
//
// A ConversationRecord is the single source of truth for one loan
// application conversation. It is mutated exclusively through versioned
// writes: every committed write bumps Version by exactly one, and a write
// whose Version no longer matches the stored record fails with
// ErrConcurrencyConflict. Both the synchronous StageController and the
// background workers (document verification, sanction triggering)
// coordinate purely through this versioning discipline; no worker holds
// trusted in-memory state across restarts.
//
// # Capability contract
//
// Specialized work (sales exploration, identity verification, underwriting,
// document issuance) is delegated to Capability implementations through a
// uniform TaskRequest/TaskResponse envelope. Responses are correlated by
// task ID so that a slow or duplicate worker answering after a retry has
// superseded it is discarded.
//
// # Observer
//
// Observer receives lifecycle callbacks (turn handled, capability
// dispatched, document verified, sanction triggered). LoggingObserver writes
// structured logs via log/slog, BasicMetrics keeps simple counters, and
// CompositeObserver fans out to several observers.
package api
