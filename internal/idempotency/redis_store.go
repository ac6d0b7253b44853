package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idempotency:"

// errRelockLost aborts the Relock transaction when the stale-lock
// condition no longer holds.
var errRelockLost = errors.New("relock condition not met")

// RedisStore keeps idempotency records as JSON values with a TTL matching
// the record's expiry. The atomic claim is SET NX; the conditional relock
// is an optimistic WATCH/MULTI transaction on the record's key.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type redisRecord struct {
	Key          string     `json:"key"`
	Endpoint     string     `json:"endpoint"`
	Method       string     `json:"method"`
	RequestHash  string     `json:"request_hash"`
	LockedAt     *time.Time `json:"locked_at,omitempty"`
	ResponseCode *int       `json:"response_code,omitempty"`
	ResponseBody []byte     `json:"response_body,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis: getting idempotency record")
	}
	var rr redisRecord
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, errors.Wrap(err, "redis: decoding idempotency record")
	}
	return fromRedisRecord(&rr), nil
}

func (s *RedisStore) InsertLocked(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(toRedisRecord(rec))
	if err != nil {
		return errors.Wrap(err, "redis: encoding idempotency record")
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, redisKeyPrefix+rec.Key, data, ttl).Result()
	if err != nil {
		return errors.Wrap(err, "redis: inserting idempotency record")
	}
	if !ok {
		return ErrKeyExists
	}
	return nil
}

func (s *RedisStore) Relock(ctx context.Context, key string, lockedAt, staleBefore time.Time) (bool, error) {
	k := redisKeyPrefix + key
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, k).Bytes()
		if err == redis.Nil {
			return errRelockLost
		}
		if err != nil {
			return err
		}
		var rr redisRecord
		if err := json.Unmarshal(raw, &rr); err != nil {
			return err
		}
		if rr.ResponseCode != nil || rr.LockedAt == nil || rr.LockedAt.After(staleBefore) {
			return errRelockLost
		}
		rr.LockedAt = &lockedAt
		data, err := json.Marshal(&rr)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, redis.KeepTTL)
			return nil
		})
		return err
	}, k)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errRelockLost), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, errors.Wrap(err, "redis: relocking idempotency record")
	}
}

func (s *RedisStore) SaveResponse(ctx context.Context, key string, code int, body []byte) error {
	k := redisKeyPrefix + key
	raw, err := s.client.Get(ctx, k).Bytes()
	if err == redis.Nil {
		return errors.New("redis: idempotency record disappeared before response save")
	}
	if err != nil {
		return errors.Wrap(err, "redis: getting idempotency record")
	}
	var rr redisRecord
	if err := json.Unmarshal(raw, &rr); err != nil {
		return errors.Wrap(err, "redis: decoding idempotency record")
	}
	rr.ResponseCode = &code
	rr.ResponseBody = body
	data, err := json.Marshal(&rr)
	if err != nil {
		return errors.Wrap(err, "redis: encoding idempotency record")
	}
	if err := s.client.Set(ctx, k, data, redis.KeepTTL).Err(); err != nil {
		return errors.Wrap(err, "redis: saving idempotency response")
	}
	return nil
}

func toRedisRecord(rec *Record) *redisRecord {
	return &redisRecord{
		Key:          rec.Key,
		Endpoint:     rec.Endpoint,
		Method:       rec.Method,
		RequestHash:  rec.RequestHash,
		LockedAt:     rec.LockedAt,
		ResponseCode: rec.ResponseCode,
		ResponseBody: rec.ResponseBody,
		CreatedAt:    rec.CreatedAt,
		ExpiresAt:    rec.ExpiresAt,
	}
}

func fromRedisRecord(rr *redisRecord) *Record {
	return &Record{
		Key:          rr.Key,
		Endpoint:     rr.Endpoint,
		Method:       rr.Method,
		RequestHash:  rr.RequestHash,
		LockedAt:     rr.LockedAt,
		ResponseCode: rr.ResponseCode,
		ResponseBody: rr.ResponseBody,
		CreatedAt:    rr.CreatedAt,
		ExpiresAt:    rr.ExpiresAt,
	}
}
