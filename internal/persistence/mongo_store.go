package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/lendflow/pkg/api"
)

// MongoStore is a ConversationStore backed by MongoDB. Each conversation is
// one document: the full record as a gob payload plus the indexed scan
// fields beside it.
type MongoStore struct {
	coll *mongo.Collection
}

// Ensure MongoStore implements ConversationStore.
var _ ConversationStore = (*MongoStore)(nil)

// NewMongoStore creates a Mongo-backed conversation store.
// dbName defaults to "lendflow" if empty, collName defaults to
// "conversations".
func NewMongoStore(client *mongo.Client, dbName, collName string) *MongoStore {
	if dbName == "" {
		dbName = "lendflow"
	}
	if collName == "" {
		collName = "conversations"
	}
	return &MongoStore{
		coll: client.Database(dbName).Collection(collName),
	}
}

type mongoConversationDoc struct {
	ID                string `bson:"_id"`
	Stage             string `bson:"stage"`
	Decision          string `bson:"decision"`
	Verified          bool   `bson:"verified"`
	SanctionRequested bool   `bson:"sanction_requested"`
	OpenDocuments     int    `bson:"open_documents"`
	Superseded        bool   `bson:"superseded"`
	Payload           []byte `bson:"payload"`
	Version           int64  `bson:"version"`
	CreatedAt         int64  `bson:"created_at"`
	UpdatedAt         int64  `bson:"updated_at"`
}

func docFrom(rec *api.ConversationRecord, payload []byte) mongoConversationDoc {
	return mongoConversationDoc{
		ID:                rec.ID,
		Stage:             string(rec.Stage),
		Decision:          string(rec.Underwriting.Decision),
		Verified:          rec.Verification.Confirmed,
		SanctionRequested: rec.SanctionRequested,
		OpenDocuments:     rec.OpenDocuments(),
		Superseded:        rec.Superseded,
		Payload:           payload,
		Version:           rec.Version,
		CreatedAt:         rec.CreatedAt.UnixNano(),
		UpdatedAt:         rec.UpdatedAt.UnixNano(),
	}
}

func (s *MongoStore) Create(ctx context.Context, rec *api.ConversationRecord) error {
	now := time.Now()
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now

	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	_, err = s.coll.InsertOne(ctx, docFrom(rec, payload))
	return err
}

func (s *MongoStore) Load(ctx context.Context, id string) (*api.ConversationRecord, error) {
	var doc mongoConversationDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, api.ErrConversationNotFound
		}
		return nil, err
	}
	return decodeRecord(doc.Payload)
}

func (s *MongoStore) Update(ctx context.Context, rec *api.ConversationRecord) error {
	cp := rec.Clone()
	cp.Version = rec.Version + 1
	cp.UpdatedAt = time.Now()

	payload, err := encodeRecord(cp)
	if err != nil {
		return err
	}

	filter := bson.M{
		"_id":     cp.ID,
		"version": rec.Version,
		"stage":   bson.M{"$ne": string(api.StageClosure)},
	}
	update := bson.M{
		"$set": bson.M{
			"stage":              string(cp.Stage),
			"decision":           string(cp.Underwriting.Decision),
			"verified":           cp.Verification.Confirmed,
			"sanction_requested": cp.SanctionRequested,
			"open_documents":     cp.OpenDocuments(),
			"superseded":         cp.Superseded,
			"payload":            payload,
			"version":            cp.Version,
			"updated_at":         cp.UpdatedAt.UnixNano(),
		},
	}

	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	// Nothing matched: distinguish missing, closed and stale.
	var doc mongoConversationDoc
	err = s.coll.FindOne(ctx, bson.M{"_id": cp.ID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return api.ErrConversationNotFound
		}
		return err
	}
	if api.Stage(doc.Stage) == api.StageClosure {
		return api.ErrConversationClosed
	}
	return api.ErrConcurrencyConflict
}

func (s *MongoStore) ListForVerification(ctx context.Context) ([]string, error) {
	return s.listIDs(ctx, bson.M{
		"open_documents": bson.M{"$gt": 0},
		"superseded":     false,
	})
}

func (s *MongoStore) ListForSanction(ctx context.Context) ([]string, error) {
	return s.listIDs(ctx, bson.M{
		"verified":           true,
		"decision":           string(api.DecisionApproved),
		"sanction_requested": false,
		"superseded":         false,
	})
}

func (s *MongoStore) listIDs(ctx context.Context, filter bson.M) ([]string, error) {
	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}
