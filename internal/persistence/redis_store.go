package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/lendflow/pkg/api"
)

// RedisStore is a ConversationStore backed by Redis. It uses a simple key
// structure:
//
//	<prefix>conv:<id>      => gob-encoded record
//	<prefix>idx:verify     => SET of IDs with open documents
//	<prefix>idx:sanction   => SET of sanction-trigger candidates
//
// The optimistic write is expressed with WATCH: the conversation key is
// watched, the stored version compared, and the write committed in a
// transaction. A concurrent writer invalidates the transaction, which is
// reported as api.ErrConcurrencyConflict.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// Ensure RedisStore implements ConversationStore.
var _ ConversationStore = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed store. An empty prefix defaults to
// "lendflow:".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "lendflow:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) convKey(id string) string { return s.prefix + "conv:" + id }
func (s *RedisStore) verifyIdx() string        { return s.prefix + "idx:verify" }
func (s *RedisStore) sanctionIdx() string      { return s.prefix + "idx:sanction" }

func (s *RedisStore) Create(ctx context.Context, rec *api.ConversationRecord) error {
	now := time.Now()
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now

	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.convKey(rec.ID), payload, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("conversation already exists: %s", rec.ID)
	}
	return s.updateIndexes(ctx, rec)
}

func (s *RedisStore) Load(ctx context.Context, id string) (*api.ConversationRecord, error) {
	payload, err := s.client.Get(ctx, s.convKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, api.ErrConversationNotFound
		}
		return nil, err
	}
	return decodeRecord(payload)
}

func (s *RedisStore) Update(ctx context.Context, rec *api.ConversationRecord) error {
	key := s.convKey(rec.ID)

	cp := rec.Clone()
	cp.Version = rec.Version + 1
	cp.UpdatedAt = time.Now()

	payload, err := encodeRecord(cp)
	if err != nil {
		return err
	}

	txn := func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return api.ErrConversationNotFound
			}
			return err
		}
		current, err := decodeRecord(stored)
		if err != nil {
			return err
		}
		if current.Stage == api.StageClosure {
			return api.ErrConversationClosed
		}
		if current.Version != rec.Version {
			return api.ErrConcurrencyConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			s.pipeIndexes(ctx, pipe, cp)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		return api.ErrConcurrencyConflict
	}
	return err
}

func (s *RedisStore) updateIndexes(ctx context.Context, rec *api.ConversationRecord) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		s.pipeIndexes(ctx, pipe, rec)
		return nil
	})
	return err
}

func (s *RedisStore) pipeIndexes(ctx context.Context, pipe redis.Pipeliner, rec *api.ConversationRecord) {
	if !rec.Superseded && rec.OpenDocuments() > 0 {
		pipe.SAdd(ctx, s.verifyIdx(), rec.ID)
	} else {
		pipe.SRem(ctx, s.verifyIdx(), rec.ID)
	}

	watch := !rec.Superseded &&
		rec.Verification.Confirmed &&
		rec.Underwriting.Decision == api.DecisionApproved &&
		!rec.SanctionRequested
	if watch {
		pipe.SAdd(ctx, s.sanctionIdx(), rec.ID)
	} else {
		pipe.SRem(ctx, s.sanctionIdx(), rec.ID)
	}
}

func (s *RedisStore) ListForVerification(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, s.verifyIdx()).Result()
}

func (s *RedisStore) ListForSanction(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, s.sanctionIdx()).Result()
}
