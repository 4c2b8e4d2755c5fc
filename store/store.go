// Package store defines the capability-contract interface every backend
// provider implements, plus the semantic operations engine/router/scheduler
// build on top of it. The contract is deliberately narrow: hashes, strings,
// lists, sorted sets, and transactions — never a SQL dialect.
package store

import (
	"context"
	"time"
)

// SetOptions configures a string SET.
type SetOptions struct {
	NX       bool
	ExSecond int // 0 means no expiry
}

// HScanResult is one page of an HSCAN walk.
type HScanResult struct {
	Cursor uint64
	Fields map[string]string
}

// ScanResult is one page of a key-pattern SCAN walk.
type ScanResult struct {
	Cursor uint64
	Keys   []string
}

// Txn queues commands and executes them atomically. Results mirror enqueue
// order; a failure rolls back the whole batch.
type Txn interface {
	Set(key, value string, opts SetOptions)
	HSet(key string, fields map[string]string)
	HSetNX(key, field, value string)
	HIncrByFloat(key, field string, delta float64)
	LPush(key string, values ...string)
	RPush(key string, values ...string)
	ZAdd(key string, score float64, member string, nx bool)
	ZRem(key string, members ...string)
	Del(keys ...string)
	Expire(key string, seconds int)

	// Exec runs the queued commands atomically and returns their results
	// in enqueue order.
	Exec(ctx context.Context) ([]interface{}, error)
}

// Store is the capability contract every backend provider implements.
type Store interface {
	// strings
	Set(ctx context.Context, key, value string, opts SetOptions) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Expire(ctx context.Context, key string, seconds int) error

	// hashes
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HMGet(ctx context.Context, key string, fields ...string) (map[string]string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) (int64, error)
	HIncrByFloat(ctx context.Context, key, field string, delta float64) (float64, error)
	HScan(ctx context.Context, key string, cursor uint64, count int64, pattern string) (HScanResult, error)

	// lists
	LRange(ctx context.Context, key string, start, end int64) ([]string, error)
	LPush(ctx context.Context, key string, values ...string) (int64, error)
	RPush(ctx context.Context, key string, values ...string) (int64, error)
	LPop(ctx context.Context, key string) (string, bool, error)
	LMove(ctx context.Context, src, dst string, srcEnd, dstEnd string) (string, bool, error)
	Rename(ctx context.Context, src, dst string) error

	// sorted sets
	ZAdd(ctx context.Context, key string, score float64, member string, nx bool) error
	ZRange(ctx context.Context, key string, start, stop int64, withScores bool) ([]string, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZRangeByScoreWithScores(ctx context.Context, key string, min, max float64) (map[string]float64, error)
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	ZRank(ctx context.Context, key, member string) (int64, bool, error)
	ZScore(ctx context.Context, key, member string) (float64, bool, error)

	// transactions
	Transact() Txn

	// scans
	Scan(ctx context.Context, pattern string, cursor uint64, count int64) (ScanResult, error)

	Close() error
}

// LMove end-of-list sentinels.
const (
	Left  = "LEFT"
	Right = "RIGHT"
)

// default lease/TTL constants shared by the semantic operations below.
const (
	DefaultScoutLease = 5 * time.Second
	DefaultSignalTTL  = 60 * time.Second
)
