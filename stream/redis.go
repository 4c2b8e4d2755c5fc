package stream

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Stream on top of Redis Streams (XADD/XREADGROUP/XACK/
// XAUTOCLAIM), generalizing the teacher's single BLPOP-based queue
// (queue/redis.Queue) into the full consumer-group contract.
type Redis struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// CreateGroup is idempotent: BUSYGROUP from a pre-existing group is not an
// error.
func (r *Redis) CreateGroup(ctx context.Context, stream, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (r *Redis) PublishBatch(ctx context.Context, stream string, msgs []map[string]string) ([]string, error) {
	ids := make([]string, 0, len(msgs))
	pipe := r.client.TxPipeline()
	cmds := make([]*redis.StringCmd, 0, len(msgs))
	for _, m := range msgs {
		values := make(map[string]interface{}, len(m))
		for k, v := range m {
			values[k] = v
		}
		cmds = append(cmds, pipe.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	for _, cmd := range cmds {
		ids = append(ids, cmd.Val())
	}
	return ids, nil
}

// ConsumeBatch implements the polling-mode branch of spec.md §4.5.2: block
// up to opts.BlockTimeout, applying exponential backoff between internal
// retries when the read comes back empty and EnableBackoff is set, and
// returning as soon as at least one message is available. Push mode
// (EnableNotifications) is not implemented by this provider — Redis
// Streams is polling-only — a push-capable provider would register
// NotificationCallback and return immediately instead.
func (r *Redis) ConsumeBatch(ctx context.Context, stream, group, consumer string, opts ConsumeOptions) ([]Message, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}

	backoff := opts.InitialBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	attempts := 0

	for {
		res, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    opts.BatchSize,
			Block:    opts.BlockTimeout,
		}).Result()

		if errors.Is(err, redis.Nil) || (err == nil && len(res) == 0) {
			if !opts.EnableBackoff || (opts.MaxRetries > 0 && attempts >= opts.MaxRetries) {
				return nil, nil
			}
			attempts++
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if opts.MaxBackoff > 0 && backoff > opts.MaxBackoff {
				backoff = opts.MaxBackoff
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		var out []Message
		for _, streamResult := range res {
			for _, entry := range streamResult.Messages {
				data := make(map[string]string, len(entry.Values))
				for k, v := range entry.Values {
					if s, ok := v.(string); ok {
						data[k] = s
					}
				}
				out = append(out, Message{ID: entry.ID, Data: data})
			}
		}
		return out, nil
	}
}

// AckAndDelete acks then deletes each id, pipelined, satisfying P4's
// exactly-once semantics from the caller's perspective: this is called
// once per delivery, after the response publish has already succeeded.
func (r *Redis) AckAndDelete(ctx context.Context, stream, group string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	pipe.XAck(ctx, stream, group, ids...)
	pipe.XDel(ctx, stream, ids...)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) Retry(ctx context.Context, stream, group string, opts RetryOptions) ([]Message, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	msgs, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: opts.Consumer,
		MinIdle:  opts.MinIdleTime,
		Start:    "0",
		Count:    opts.Limit,
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(msgs))
	for _, entry := range msgs {
		data := make(map[string]string, len(entry.Values))
		for k, v := range entry.Values {
			if s, ok := v.(string); ok {
				data[k] = s
			}
		}
		out = append(out, Message{ID: entry.ID, Data: data})
	}
	return out, nil
}

func (r *Redis) Depth(ctx context.Context, stream, group string) (Depths, error) {
	total, err := r.client.XLen(ctx, stream).Result()
	if err != nil {
		return Depths{}, err
	}
	pending, err := r.client.XPending(ctx, stream, group).Result()
	if err != nil {
		// group may not exist yet; pending count is best-effort
		return Depths{Total: total}, nil
	}
	return Depths{Total: total, Pending: pending.Count}, nil
}

func (r *Redis) Features() Features {
	return Features{
		SupportsBatching:        true,
		SupportsNotifications:   false,
		SupportsRetry:           true,
		SupportsOrdering:        true,
		SupportsTrimming:        true,
		SupportsDeadLetterQueue: false,
		MaxMessageSize:          512 * 1024 * 1024,
		MaxBatchSize:            1000,
	}
}
