// Package worker implements the background loops that run beside the
// synchronous controller: the document verifier and the sanction trigger.
//
// Any number of instances of either worker may run concurrently, in one
// process or many. Instances hold no trusted in-memory state; all
// coordination goes through document claim tokens and the conversation
// record's version, so a crashed instance is replaced simply by letting
// its claims expire.
package worker
