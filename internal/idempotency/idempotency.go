// Package idempotency implements at-most-once execution of
// client-identified operations: a durable record per key holding the
// request fingerprint, a lock for the in-flight execution, and the cached
// response replayed on retries.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// ErrKeyExists is returned by InsertLocked when another record already
// holds the key. The caller treats the key as found and falls into the
// normal found-path logic.
var ErrKeyExists = errors.New("idempotency: key already exists")

// Record is the durable state for one idempotency key. A record either
// has no response yet or a recorded one; once a response is recorded the
// record is immutable except for the external expiry sweep.
type Record struct {
	Key          string
	Endpoint     string
	Method       string
	RequestHash  string
	LockedAt     *time.Time
	ResponseCode *int
	ResponseBody []byte
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Store is the durable record store. Exclusion between concurrent
// executions of the same key rests entirely on the atomicity of
// InsertLocked and Relock; the engine holds no in-process lock across
// store or provider calls.
type Store interface {
	// Get returns the record for key, or nil when none exists.
	Get(ctx context.Context, key string) (*Record, error)

	// InsertLocked atomically creates the record in locked state. A
	// concurrent duplicate insert must fail with ErrKeyExists rather
	// than create a second record or double-lock. A leftover record past
	// its ExpiresAt does not count as a duplicate: the claim reclaims it.
	InsertLocked(ctx context.Context, rec *Record) error

	// Relock re-acquires a stale lock: conditionally sets locked_at to
	// lockedAt only if the record has no recorded response and its
	// current lock is older than staleBefore. Returns false when the
	// condition did not hold (someone else won, or a response landed).
	Relock(ctx context.Context, key string, lockedAt, staleBefore time.Time) (bool, error)

	// SaveResponse records the execution result on the record, making it
	// replayable. Called exactly once per successful execution.
	SaveResponse(ctx context.Context, key string, code int, body []byte) error
}

// Fingerprint computes the collision-resistant content hash of a request
// body. The body is canonicalized by JSON-compacting it; an empty body
// hashes as "{}", so a missing body and an empty object share a
// fingerprint and both differ from any non-empty body.
func Fingerprint(body []byte) string {
	canonical := canonicalize(body)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func canonicalize(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return []byte("{}")
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		// Not JSON; hash the raw bytes as-is.
		return trimmed
	}
	return compact.Bytes()
}
