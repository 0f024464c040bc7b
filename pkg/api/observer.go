package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the controller and background workers
// for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay turn handling.
type Observer interface {
	// OnTurnStart is called when the controller begins handling a
	// customer turn.
	OnTurnStart(ctx context.Context, conversationID string, stage Stage)

	// OnTurnCompleted is called after a turn was handled, for both
	// successes and failures (err != nil).
	OnTurnCompleted(ctx context.Context, conversationID string, stage Stage, err error, duration time.Duration)

	// OnDispatch is called before each capability dispatch attempt.
	// attempt is 1-based.
	OnDispatch(ctx context.Context, conversationID, capability, taskID string, attempt int)

	// OnDispatchCompleted is called after a capability call returns.
	OnDispatchCompleted(ctx context.Context, conversationID, capability, taskID string, err error, duration time.Duration)

	// OnDocumentResolved is called when a verifier commits a document to
	// verified or rejected.
	OnDocumentResolved(ctx context.Context, conversationID, documentID string, status DocumentStatus, confidence float64)

	// OnSanctionTriggered is called when the sanction trigger fires for a
	// conversation (first and only time).
	OnSanctionTriggered(ctx context.Context, conversationID string)

	// OnDuplicateTrigger is called when a trigger evaluation observes a
	// condition that already fired; the event is a no-op, not an error.
	OnDuplicateTrigger(ctx context.Context, conversationID string)

	// OnConflictRetry is called each time a versioned write lost the race
	// and is being reapplied.
	OnConflictRetry(ctx context.Context, conversationID string, attempt int)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnTurnStart(ctx context.Context, conversationID string, stage Stage) {}
func (NoopObserver) OnTurnCompleted(ctx context.Context, conversationID string, stage Stage, err error, d time.Duration) {
}
func (NoopObserver) OnDispatch(ctx context.Context, conversationID, capability, taskID string, attempt int) {
}
func (NoopObserver) OnDispatchCompleted(ctx context.Context, conversationID, capability, taskID string, err error, d time.Duration) {
}
func (NoopObserver) OnDocumentResolved(ctx context.Context, conversationID, documentID string, status DocumentStatus, confidence float64) {
}
func (NoopObserver) OnSanctionTriggered(ctx context.Context, conversationID string) {}
func (NoopObserver) OnDuplicateTrigger(ctx context.Context, conversationID string)  {}
func (NoopObserver) OnConflictRetry(ctx context.Context, conversationID string, attempt int) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnTurnStart(ctx context.Context, conversationID string, stage Stage) {
	for _, o := range c.observers {
		o.OnTurnStart(ctx, conversationID, stage)
	}
}

func (c *CompositeObserver) OnTurnCompleted(ctx context.Context, conversationID string, stage Stage, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnTurnCompleted(ctx, conversationID, stage, err, d)
	}
}

func (c *CompositeObserver) OnDispatch(ctx context.Context, conversationID, capability, taskID string, attempt int) {
	for _, o := range c.observers {
		o.OnDispatch(ctx, conversationID, capability, taskID, attempt)
	}
}

func (c *CompositeObserver) OnDispatchCompleted(ctx context.Context, conversationID, capability, taskID string, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnDispatchCompleted(ctx, conversationID, capability, taskID, err, d)
	}
}

func (c *CompositeObserver) OnDocumentResolved(ctx context.Context, conversationID, documentID string, status DocumentStatus, confidence float64) {
	for _, o := range c.observers {
		o.OnDocumentResolved(ctx, conversationID, documentID, status, confidence)
	}
}

func (c *CompositeObserver) OnSanctionTriggered(ctx context.Context, conversationID string) {
	for _, o := range c.observers {
		o.OnSanctionTriggered(ctx, conversationID)
	}
}

func (c *CompositeObserver) OnDuplicateTrigger(ctx context.Context, conversationID string) {
	for _, o := range c.observers {
		o.OnDuplicateTrigger(ctx, conversationID)
	}
}

func (c *CompositeObserver) OnConflictRetry(ctx context.Context, conversationID string, attempt int) {
	for _, o := range c.observers {
		o.OnConflictRetry(ctx, conversationID, attempt)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs controller / worker
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnTurnStart(ctx context.Context, conversationID string, stage Stage) {
	o.Logger.DebugContext(ctx, "turn_start",
		slog.String("conversation_id", conversationID),
		slog.String("stage", string(stage)),
	)
}

func (o *LoggingObserver) OnTurnCompleted(ctx context.Context, conversationID string, stage Stage, err error, d time.Duration) {
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "turn_completed",
		slog.String("conversation_id", conversationID),
		slog.String("stage", string(stage)),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnDispatch(ctx context.Context, conversationID, capability, taskID string, attempt int) {
	o.Logger.DebugContext(ctx, "capability_dispatch",
		slog.String("conversation_id", conversationID),
		slog.String("capability", capability),
		slog.String("task_id", taskID),
		slog.Int("attempt", attempt),
	)
}

func (o *LoggingObserver) OnDispatchCompleted(ctx context.Context, conversationID, capability, taskID string, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "capability_completed",
		slog.String("conversation_id", conversationID),
		slog.String("capability", capability),
		slog.String("task_id", taskID),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnDocumentResolved(ctx context.Context, conversationID, documentID string, status DocumentStatus, confidence float64) {
	o.Logger.InfoContext(ctx, "document_resolved",
		slog.String("conversation_id", conversationID),
		slog.String("document_id", documentID),
		slog.String("status", string(status)),
		slog.Float64("confidence", confidence),
	)
}

func (o *LoggingObserver) OnSanctionTriggered(ctx context.Context, conversationID string) {
	o.Logger.InfoContext(ctx, "sanction_triggered",
		slog.String("conversation_id", conversationID),
	)
}

func (o *LoggingObserver) OnDuplicateTrigger(ctx context.Context, conversationID string) {
	o.Logger.DebugContext(ctx, "duplicate_trigger",
		slog.String("conversation_id", conversationID),
	)
}

func (o *LoggingObserver) OnConflictRetry(ctx context.Context, conversationID string, attempt int) {
	o.Logger.DebugContext(ctx, "conflict_retry",
		slog.String("conversation_id", conversationID),
		slog.Int("attempt", attempt),
	)
}

// BasicMetrics collects simple counters. It implements Observer and can be
// combined with LoggingObserver via NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	turnsHandled      atomic.Int64
	turnsFailed       atomic.Int64
	dispatches        atomic.Int64
	dispatchFailures  atomic.Int64
	documentsResolved atomic.Int64
	sanctionsFired    atomic.Int64
	duplicateTriggers atomic.Int64
	conflictRetries   atomic.Int64
	totalTurnDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	TurnsHandled      int64
	TurnsFailed       int64
	Dispatches        int64
	DispatchFailures  int64
	DocumentsResolved int64
	SanctionsFired    int64
	DuplicateTriggers int64
	ConflictRetries   int64
	AvgTurnDuration   time.Duration
}

func (m *BasicMetrics) OnTurnCompleted(ctx context.Context, conversationID string, stage Stage, err error, d time.Duration) {
	m.turnsHandled.Add(1)
	if err != nil {
		m.turnsFailed.Add(1)
		return
	}
	m.totalTurnDuration.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnDispatch(ctx context.Context, conversationID, capability, taskID string, attempt int) {
	m.dispatches.Add(1)
}

func (m *BasicMetrics) OnDispatchCompleted(ctx context.Context, conversationID, capability, taskID string, err error, d time.Duration) {
	if err != nil {
		m.dispatchFailures.Add(1)
	}
}

func (m *BasicMetrics) OnDocumentResolved(ctx context.Context, conversationID, documentID string, status DocumentStatus, confidence float64) {
	m.documentsResolved.Add(1)
}

func (m *BasicMetrics) OnSanctionTriggered(ctx context.Context, conversationID string) {
	m.sanctionsFired.Add(1)
}

func (m *BasicMetrics) OnDuplicateTrigger(ctx context.Context, conversationID string) {
	m.duplicateTriggers.Add(1)
}

func (m *BasicMetrics) OnConflictRetry(ctx context.Context, conversationID string, attempt int) {
	m.conflictRetries.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	handled := m.turnsHandled.Load()
	failed := m.turnsFailed.Load()
	totalNs := m.totalTurnDuration.Load()

	var avg time.Duration
	if ok := handled - failed; ok > 0 {
		avg = time.Duration(totalNs / ok)
	}

	return BasicMetricsSnapshot{
		TurnsHandled:      handled,
		TurnsFailed:       failed,
		Dispatches:        m.dispatches.Load(),
		DispatchFailures:  m.dispatchFailures.Load(),
		DocumentsResolved: m.documentsResolved.Load(),
		SanctionsFired:    m.sanctionsFired.Load(),
		DuplicateTriggers: m.duplicateTriggers.Load(),
		ConflictRetries:   m.conflictRetries.Load(),
		AvgTurnDuration:   avg,
	}
}
