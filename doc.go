// Package lendflow provides an embeddable loan-application assistant for Go.
//
// Lendflow is designed for backend services that need a conversational loan
// origination workflow: staged conversations, external capability calls,
// document verification and at-most-once sanction letter issuance, all over
// a shared versioned store. It runs fully in Go and integrates cleanly into
// existing codebases.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Assistant
//  2. ConversationStore
//  3. Capabilities
//  4. Background workers
//
// # Assistant
//
// The Assistant is the entry point. It accepts customer messages, exposes
// conversation state, takes document uploads and resets conversations:
//
//	a, _ := lendflow.NewAssistant(lendflow.Options{})
//	resp, _ := a.SubmitCustomerMessage(ctx, "conv-1", "hello")
//
// Each turn moves the conversation through a fixed stage machine:
//
//	GREETING -> INTENT_CAPTURE -> SALES_EXPLORATION -> VERIFICATION ->
//	UNDERWRITING -> DOCUMENTATION -> CLOSURE
//
// Stage transitions are decided by a pure transition table over the stored
// record; capabilities only ever contribute facts.
//
// # ConversationStore
//
// Conversation records are versioned: every committed write bumps the
// version, and a write against a stale version is rejected and retried.
// This optimistic discipline is what lets multiple Assistant instances and
// background workers share one store safely.
//
// Stores can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//   - MongoDB
//
// # Capabilities
//
// External work (sales text, bureau verification, underwriting, letter
// issuance) goes through a uniform task envelope with per-call deadlines,
// retries with fresh task IDs, and stale-response discarding. Default
// in-process implementations keep the library usable without any external
// service; production deployments swap them via the interfaces in Options.
//
// # Background workers
//
// StartWorkers launches two poll loops: a document verifier that claims
// uploaded documents (claim token + TTL) and commits the analysis result,
// and a sanction trigger that fires letter issuance exactly once per
// approval. Both are safe to run on every instance sharing the store.
//
// For examples, see the /examples directory.
package lendflow
