// Package kv adapts Redis to the operations the ledger needs: hash, set and
// scalar commands, key scans, and optimistic WATCH/MULTI/EXEC transactions.
//
// Transactions never share a session. go-redis checks a dedicated connection
// out of the pool for every Watch call, so WATCH state from one logical
// transaction cannot leak into another running concurrently.
package kv

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ledger/ledger/internal/platform/apperr"
)

// Options configures the Redis connection pool.
type Options struct {
	URL      string
	PoolSize int
	Timeout  time.Duration
}

// NewClient parses the Redis URL, applies pool settings and verifies the
// server answers PING.
func NewClient(ctx context.Context, o Options) (*redis.Client, error) {
	opts, err := redis.ParseURL(o.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if o.PoolSize > 0 {
		opts.PoolSize = o.PoolSize
	}
	if o.Timeout > 0 {
		opts.DialTimeout = o.Timeout
		opts.ReadTimeout = o.Timeout
		opts.WriteTimeout = o.Timeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Watch runs fn on an isolated connection with keys watched. fn queues its
// writes with tx.TxPipelined; if any watched key changes before EXEC nothing
// is applied and ErrConcurrentModification is returned. Classified errors
// returned by fn pass through, anything else becomes a store error.
func Watch(ctx context.Context, client redis.UniversalClient, op string, fn func(tx *redis.Tx) error, keys ...string) error {
	err := client.Watch(ctx, fn, keys...)
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.TxFailedErr) {
		return apperr.ErrConcurrentModification
	}
	return apperr.Store(op, err)
}

// Commit queues writes on a watched transaction and executes them. A context
// that is already done is reported before MULTI is sent, so an aborted
// request never reaches EXEC.
func Commit(ctx context.Context, tx *redis.Tx, fn func(pipe redis.Pipeliner) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := tx.TxPipelined(ctx, fn)
	return err
}

// Atomic queues writes inside MULTI/EXEC without watching anything. Either
// every queued command applies or, on a command error, the call fails.
func Atomic(ctx context.Context, client redis.UniversalClient, op string, fn func(pipe redis.Pipeliner) error) error {
	_, err := client.TxPipelined(ctx, fn)
	return apperr.Store(op, err)
}

const scanCount = 100

// Scan lazily enumerates keys matching pattern. Every range over the returned
// sequence starts a fresh SCAN from cursor zero. SCAN may report a key more
// than once; duplicates are dropped.
func Scan(ctx context.Context, client redis.UniversalClient, pattern string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		seen := make(map[string]struct{})
		it := client.Scan(ctx, 0, pattern, scanCount).Iterator()
		for it.Next(ctx) {
			key := it.Val()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if !yield(key, nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield("", apperr.Store("scan "+pattern, err))
		}
	}
}
