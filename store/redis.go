package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures a Redis-backed Store, mirroring the teacher's
// queue/redis.Config shape (a URL, or an existing client to reuse).
type Config struct {
	RedisURL string
	Client   redis.UniversalClient // set to reuse an existing client (e.g. in tests)
}

// Redis implements Store on top of go-redis/v9.
type Redis struct {
	client redis.UniversalClient
	owned  bool
}

// NewRedis adopts cfg.Client as-is when provided (no PING); otherwise it
// connects to cfg.RedisURL and verifies connectivity with a PING, the same
// startup check the teacher's queue.NewQueue performs.
func NewRedis(ctx context.Context, cfg Config) (*Redis, error) {
	if cfg.Client != nil {
		return &Redis{client: cfg.Client, owned: false}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("store: invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: redis ping failed: %w", err)
	}
	return &Redis{client: client, owned: true}, nil
}

func (r *Redis) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}

func (r *Redis) Set(ctx context.Context, key, value string, opts SetOptions) (bool, error) {
	exp := secToDuration(opts.ExSecond)
	if opts.NX {
		return r.client.SetNX(ctx, key, value, exp).Result()
	}
	if err := r.client.Set(ctx, key, value, exp).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	return r.client.Del(ctx, keys...).Result()
}

func (r *Redis) Expire(ctx context.Context, key string, seconds int) error {
	return r.client.Expire(ctx, key, secToDuration(seconds)).Err()
}

func (r *Redis) HSet(ctx context.Context, key string, fields map[string]string) error {
	values := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	return r.client.HSet(ctx, key, values...).Err()
}

func (r *Redis) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	return r.client.HSetNX(ctx, key, field, value).Result()
}

func (r *Redis) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := r.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) HMGet(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	vals, err := r.client.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(fields))
	for i, f := range fields {
		if vals[i] != nil {
			out[f] = fmt.Sprint(vals[i])
		}
	}
	return out, nil
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *Redis) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	return r.client.HDel(ctx, key, fields...).Result()
}

func (r *Redis) HIncrByFloat(ctx context.Context, key, field string, delta float64) (float64, error) {
	return r.client.HIncrByFloat(ctx, key, field, delta).Result()
}

func (r *Redis) HScan(ctx context.Context, key string, cursor uint64, count int64, pattern string) (HScanResult, error) {
	keysAndVals, next, err := r.client.HScan(ctx, key, cursor, pattern, count).Result()
	if err != nil {
		return HScanResult{}, err
	}
	fields := make(map[string]string, len(keysAndVals)/2)
	for i := 0; i+1 < len(keysAndVals); i += 2 {
		fields[keysAndVals[i]] = keysAndVals[i+1]
	}
	return HScanResult{Cursor: next, Fields: fields}, nil
}

func (r *Redis) LRange(ctx context.Context, key string, start, end int64) ([]string, error) {
	return r.client.LRange(ctx, key, start, end).Result()
}

func (r *Redis) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return r.client.LPush(ctx, key, args...).Result()
}

func (r *Redis) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return r.client.RPush(ctx, key, args...).Result()
}

func (r *Redis) LPop(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.LPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) LMove(ctx context.Context, src, dst string, srcEnd, dstEnd string) (string, bool, error) {
	v, err := r.client.LMove(ctx, src, dst, srcEnd, dstEnd).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Rename(ctx context.Context, src, dst string) error {
	return r.client.Rename(ctx, src, dst).Err()
}

func (r *Redis) ZAdd(ctx context.Context, key string, score float64, member string, nx bool) error {
	z := redis.Z{Score: score, Member: member}
	if nx {
		return r.client.ZAddNX(ctx, key, z).Err()
	}
	return r.client.ZAdd(ctx, key, z).Err()
}

func (r *Redis) ZRange(ctx context.Context, key string, start, stop int64, withScores bool) ([]string, error) {
	if withScores {
		zs, err := r.client.ZRangeWithScores(ctx, key, start, stop).Result()
		if err != nil {
			return nil, err
		}
		out := make([]string, len(zs))
		for i, z := range zs {
			out[i] = fmt.Sprint(z.Member)
		}
		return out, nil
	}
	return r.client.ZRange(ctx, key, start, stop).Result()
}

func (r *Redis) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprint(min),
		Max: fmt.Sprint(max),
	}).Result()
}

func (r *Redis) ZRangeByScoreWithScores(ctx context.Context, key string, min, max float64) (map[string]float64, error) {
	zs, err := r.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprint(min),
		Max: fmt.Sprint(max),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(zs))
	for _, z := range zs {
		out[fmt.Sprint(z.Member)] = z.Score
	}
	return out, nil
}

func (r *Redis) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return r.client.ZRem(ctx, key, args...).Result()
}

func (r *Redis) ZRank(ctx context.Context, key, member string) (int64, bool, error) {
	rank, err := r.client.ZRank(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rank, true, nil
}

func (r *Redis) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	score, err := r.client.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return score, true, nil
}

func (r *Redis) Scan(ctx context.Context, pattern string, cursor uint64, count int64) (ScanResult, error) {
	keys, next, err := r.client.Scan(ctx, cursor, pattern, count).Result()
	if err != nil {
		return ScanResult{}, err
	}
	return ScanResult{Cursor: next, Keys: keys}, nil
}

func (r *Redis) Transact() Txn {
	return &redisTxn{pipe: r.client.TxPipeline()}
}

// redisTxn wraps a redis.Pipeliner in TxPipelined mode so queued command
// results come back in enqueue order and a failure rolls back atomically.
type redisTxn struct {
	pipe redis.Pipeliner
}

func (t *redisTxn) Set(key, value string, opts SetOptions) {
	if opts.NX {
		t.pipe.SetNX(context.Background(), key, value, secToDuration(opts.ExSecond))
		return
	}
	t.pipe.Set(context.Background(), key, value, secToDuration(opts.ExSecond))
}

func (t *redisTxn) HSet(key string, fields map[string]string) {
	values := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	t.pipe.HSet(context.Background(), key, values...)
}

func (t *redisTxn) HSetNX(key, field, value string) {
	t.pipe.HSetNX(context.Background(), key, field, value)
}

func (t *redisTxn) HIncrByFloat(key, field string, delta float64) {
	t.pipe.HIncrByFloat(context.Background(), key, field, delta)
}

func (t *redisTxn) LPush(key string, values ...string) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	t.pipe.LPush(context.Background(), key, args...)
}

func (t *redisTxn) RPush(key string, values ...string) {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	t.pipe.RPush(context.Background(), key, args...)
}

func (t *redisTxn) ZAdd(key string, score float64, member string, nx bool) {
	z := redis.Z{Score: score, Member: member}
	if nx {
		t.pipe.ZAddNX(context.Background(), key, z)
		return
	}
	t.pipe.ZAdd(context.Background(), key, z)
}

func (t *redisTxn) ZRem(key string, members ...string) {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	t.pipe.ZRem(context.Background(), key, args...)
}

func (t *redisTxn) Del(keys ...string) {
	t.pipe.Del(context.Background(), keys...)
}

func (t *redisTxn) Expire(key string, seconds int) {
	t.pipe.Expire(context.Background(), key, secToDuration(seconds))
}

func (t *redisTxn) Exec(ctx context.Context) ([]interface{}, error) {
	cmds, err := t.pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	results := make([]interface{}, len(cmds))
	for i, cmd := range cmds {
		results[i] = cmd
	}
	return results, nil
}

func secToDuration(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
