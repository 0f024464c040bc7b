package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/lendflow/pkg/api"
)

// PostgresStore is a BlobStore over a blobs table in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ api.BlobStore = (*PostgresStore)(nil)

// NewPostgresStore initializes the blobs table and returns a new
// PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			ref TEXT PRIMARY KEY,
			data BYTEA NOT NULL
		);`,
	); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Put(ctx context.Context, data []byte) (string, error) {
	ref := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO blobs (ref, data) VALUES ($1, $2)`, ref, data)
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (s *PostgresStore) Get(ctx context.Context, ref string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE ref = $1`, ref)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, ref)
		}
		return nil, err
	}
	return data, nil
}

// RedisStore is a BlobStore over plain Redis string keys.
type RedisStore struct {
	client *goredis.Client
	prefix string
}

var _ api.BlobStore = (*RedisStore)(nil)

// NewRedisStore returns a RedisStore. An empty prefix defaults to
// "lendflow:".
func NewRedisStore(client *goredis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "lendflow:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(ref string) string { return s.prefix + "blob:" + ref }

func (s *RedisStore) Put(ctx context.Context, data []byte) (string, error) {
	ref := uuid.NewString()
	if err := s.client.Set(ctx, s.key(ref), data, 0).Err(); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *RedisStore) Get(ctx context.Context, ref string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(ref)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, ref)
		}
		return nil, err
	}
	return data, nil
}

// MongoStore is a BlobStore over a MongoDB collection with one document
// per blob.
type MongoStore struct {
	coll *mongo.Collection
}

var _ api.BlobStore = (*MongoStore)(nil)

// NewMongoStore returns a MongoStore over the given database and
// collection. Empty names default to "lendflow" and "blobs".
func NewMongoStore(client *mongo.Client, dbName, collName string) *MongoStore {
	if dbName == "" {
		dbName = "lendflow"
	}
	if collName == "" {
		collName = "blobs"
	}
	return &MongoStore{coll: client.Database(dbName).Collection(collName)}
}

type mongoBlobDoc struct {
	Ref  string `bson:"_id"`
	Data []byte `bson:"data"`
}

func (s *MongoStore) Put(ctx context.Context, data []byte) (string, error) {
	ref := uuid.NewString()
	if _, err := s.coll.InsertOne(ctx, mongoBlobDoc{Ref: ref, Data: data}); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *MongoStore) Get(ctx context.Context, ref string) ([]byte, error) {
	var doc mongoBlobDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": ref}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, ref)
		}
		return nil, err
	}
	return doc.Data, nil
}
