package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/yourorg/payment-gateway/internal/apperr"
)

// Result is the outcome of an idempotency-protected execution. On replay,
// StatusCode and Body are the recorded response returned verbatim.
type Result struct {
	Cached     bool
	StatusCode int
	Body       []byte
}

// UnitOfWork performs the side-effecting provider call and persistence
// mutation and returns the response to cache. It runs at most once per
// key outside the stale-lock escape.
type UnitOfWork func(ctx context.Context) (statusCode int, body []byte, err error)

// Engine orchestrates at-most-once execution over a Store. The
// fingerprint check rejects reuse of a key for a different request body;
// the lock plus timeout keeps concurrent identical retries from both
// reaching the provider while bounding how long a crashed execution can
// block a retry.
type Engine struct {
	store       Store
	lockTimeout time.Duration
	cacheTTL    time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine creates an Engine. cacheTTL only stamps ExpiresAt on new
// records; expiry enforcement is an external sweep.
func NewEngine(store Store, lockTimeout, cacheTTL time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:       store,
		lockTimeout: lockTimeout,
		cacheTTL:    cacheTTL,
		logger:      logger,
		now:         time.Now,
	}
}

// Execute runs work at most once for the given key.
//
// Known limitation: when a lock goes stale while its execution is in fact
// still running, a second caller re-acquires it and both executions
// eventually write a response; the cached response is last-write-wins in
// that narrow window.
func (e *Engine) Execute(ctx context.Context, key, endpoint, method string, requestBody []byte, work UnitOfWork) (Result, error) {
	hash := Fingerprint(requestBody)

	rec, err := e.store.Get(ctx, key)
	if err != nil {
		return Result{}, errors.Wrap(err, "idempotency: looking up key")
	}

	if rec == nil {
		now := e.now()
		fresh := &Record{
			Key:         key,
			Endpoint:    endpoint,
			Method:      method,
			RequestHash: hash,
			LockedAt:    &now,
			CreatedAt:   now,
			ExpiresAt:   now.Add(e.cacheTTL),
		}
		switch err := e.store.InsertLocked(ctx, fresh); {
		case err == nil:
			return e.run(ctx, key, work)
		case errors.Is(err, ErrKeyExists):
			// Lost the claim race; the loser observes "found".
			rec, err = e.store.Get(ctx, key)
			if err != nil {
				return Result{}, errors.Wrap(err, "idempotency: re-reading key after claim race")
			}
			if rec == nil {
				return Result{}, errors.New("idempotency: record vanished after duplicate-key insert")
			}
		default:
			return Result{}, errors.Wrap(err, "idempotency: claiming key")
		}
	}

	// The same key can never represent two different request bodies.
	if rec.RequestHash != hash {
		return Result{}, apperr.New(apperr.KindIdempotencyKeyConflict,
			"idempotency key already used with a different request body")
	}

	if rec.ResponseCode != nil {
		return Result{Cached: true, StatusCode: *rec.ResponseCode, Body: rec.ResponseBody}, nil
	}

	// No response yet: another execution is presumed in flight until its
	// lock goes stale.
	staleBefore := e.now().Add(-e.lockTimeout)
	if rec.LockedAt != nil && rec.LockedAt.After(staleBefore) {
		return Result{}, apperr.New(apperr.KindIdempotencyKeyLocked,
			"another request with this idempotency key is in flight")
	}

	won, err := e.store.Relock(ctx, key, e.now(), staleBefore)
	if err != nil {
		return Result{}, errors.Wrap(err, "idempotency: re-acquiring stale lock")
	}
	if !won {
		return Result{}, apperr.New(apperr.KindIdempotencyKeyLocked,
			"another request with this idempotency key is in flight")
	}
	e.logger.WarnContext(ctx, "re-acquired stale idempotency lock",
		slog.String("key", key), slog.String("endpoint", endpoint))
	return e.run(ctx, key, work)
}

// run executes the unit of work and finalizes the record. A failed unit
// of work leaves the record locked: a retry before the lock timeout sees
// IdempotencyKeyLocked, after it the stale-lock escape re-runs the work.
func (e *Engine) run(ctx context.Context, key string, work UnitOfWork) (Result, error) {
	code, body, err := work(ctx)
	if err != nil {
		return Result{}, err
	}
	if err := e.store.SaveResponse(ctx, key, code, body); err != nil {
		return Result{}, errors.Wrap(err, "idempotency: recording response")
	}
	return Result{Cached: false, StatusCode: code, Body: body}, nil
}
