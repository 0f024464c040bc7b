package lendflow

import (
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/lendflow/internal/blob"
	"github.com/petrijr/lendflow/internal/capability"
	"github.com/petrijr/lendflow/internal/persistence"
	"github.com/petrijr/lendflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Stage              = api.Stage
	DecisionStatus     = api.DecisionStatus
	DocumentStatus     = api.DocumentStatus
	ConversationRecord = api.ConversationRecord
	CustomerProfile    = api.CustomerProfile
	LoanTerms          = api.LoanTerms
	VerificationStatus = api.VerificationStatus
	UnderwritingResult = api.UnderwritingResult
	Document           = api.Document
	Message            = api.Message
	TurnResponse       = api.TurnResponse
	PublicState        = api.PublicState
	PublicDocument     = api.PublicDocument
	RetryPolicy        = api.RetryPolicy

	Capability   = api.Capability
	TaskRequest  = api.TaskRequest
	TaskResponse = api.TaskResponse

	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	CreditBureau     = api.CreditBureau
	BureauProfile    = api.BureauProfile
	TextGenerator    = api.TextGenerator
	FactExtractor    = api.FactExtractor
	DocumentAnalyzer = api.DocumentAnalyzer
	LetterRenderer   = api.LetterRenderer
	BlobStore        = api.BlobStore

	// ConversationStore is the versioned record store contract shared by
	// all backends.
	ConversationStore = persistence.ConversationStore
)

// Default collaborators. Production deployments replace them through the
// corresponding interfaces.

type (
	TemplateTextGenerator = capability.TemplateTextGenerator
	KeyValueExtractor     = capability.KeyValueExtractor
	StaticBureau          = capability.StaticBureau
	KeyValueAnalyzer      = capability.KeyValueAnalyzer
	TextLetterRenderer    = capability.TextLetterRenderer
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export stage values for convenience.

const (
	StageGreeting         = api.StageGreeting
	StageIntentCapture    = api.StageIntentCapture
	StageSalesExploration = api.StageSalesExploration
	StageVerification     = api.StageVerification
	StageUnderwriting     = api.StageUnderwriting
	StageDocumentation    = api.StageDocumentation
	StageClosure          = api.StageClosure
)

// Re-export decision values.

const (
	DecisionApproved        = api.DecisionApproved
	DecisionRejected        = api.DecisionRejected
	DecisionPendingDocument = api.DecisionPendingDocument
)

// Re-export document status values.

const (
	DocumentPending  = api.DocumentPending
	DocumentClaimed  = api.DocumentClaimed
	DocumentVerified = api.DocumentVerified
	DocumentRejected = api.DocumentRejected

	DocTypeSalarySlip = api.DocTypeSalarySlip
)

// Re-export sentinel errors so callers can errors.Is against them.

var (
	ErrConversationNotFound = api.ErrConversationNotFound
	ErrConversationClosed   = api.ErrConversationClosed
	ErrValidation           = api.ErrValidation
	ErrExternalTimeout      = api.ErrExternalTimeout
	ErrFatalState           = api.ErrFatalState
)

// Store constructors
// These wrap the internal/persistence package so external callers
// never need to import internal packages.

// NewInMemoryStore returns a non-durable ConversationStore, best for
// development and tests.
func NewInMemoryStore() ConversationStore {
	return persistence.NewInMemoryStore()
}

// NewSQLiteStore returns a ConversationStore that persists records in a
// SQLite database.
func NewSQLiteStore(db *sql.DB) (ConversationStore, error) {
	return persistence.NewSQLiteStore(db)
}

// NewPostgresStore returns a ConversationStore that persists records in
// PostgreSQL.
func NewPostgresStore(db *sql.DB) (ConversationStore, error) {
	return persistence.NewPostgresStore(db)
}

// NewRedisStore returns a ConversationStore over Redis. An empty prefix
// defaults to "lendflow:".
func NewRedisStore(client *redis.Client, prefix string) ConversationStore {
	return persistence.NewRedisStore(client, prefix)
}

// NewMongoStore returns a ConversationStore over a MongoDB collection.
// Empty names default to "lendflow" and "conversations".
func NewMongoStore(client *mongo.Client, dbName, collName string) ConversationStore {
	return persistence.NewMongoStore(client, dbName, collName)
}

// Blob store constructors.

// NewMemoryBlobStore returns a non-durable BlobStore.
func NewMemoryBlobStore() BlobStore {
	return blob.NewMemoryStore()
}

// NewSQLiteBlobStore returns a BlobStore over a SQLite blobs table.
func NewSQLiteBlobStore(db *sql.DB) (BlobStore, error) {
	return blob.NewSQLiteStore(db)
}

// NewPostgresBlobStore returns a BlobStore over a PostgreSQL blobs table.
func NewPostgresBlobStore(db *sql.DB) (BlobStore, error) {
	return blob.NewPostgresStore(db)
}

// NewRedisBlobStore returns a BlobStore over Redis string keys.
func NewRedisBlobStore(client *redis.Client, prefix string) BlobStore {
	return blob.NewRedisStore(client, prefix)
}

// NewMongoBlobStore returns a BlobStore over a MongoDB collection.
func NewMongoBlobStore(client *mongo.Client, dbName, collName string) BlobStore {
	return blob.NewMongoStore(client, dbName, collName)
}
