package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hotmeshio/hotmesh-go/errs"
	"github.com/hotmeshio/hotmesh-go/keymint"
)

// pendingRangeSentinel marks a range reservation in progress by a peer.
const pendingRangeSentinel = "?:?"

// MaxDelay is the largest throttle value a backend can honor; -1 from a
// caller is mapped to this sentinel meaning "pause indefinitely".
const MaxDelay = 1000 * 60 * 60 * 24 // 24h in ms, per spec.md §6 "backend can honor"

// Semantic layers the higher-level engine/router/scheduler operations of
// spec.md §4.4 on top of a bare Store, building everything from the
// capability-contract primitives so an alternate Store implementation only
// has to satisfy the primitive surface.
type Semantic struct {
	Store     Store
	Namespace string
	AppID     string
}

func NewSemantic(s Store, namespace, appID string) *Semantic {
	return &Semantic{Store: s, Namespace: namespace, AppID: appID}
}

func (s *Semantic) key(kind keymint.Kind, p keymint.Params) string {
	p.AppID = s.AppID
	key, err := keymint.Mint(s.Namespace, kind, p)
	if err != nil {
		panic(err) // programmer error: Kind is always one of the enumerated values here
	}
	return key
}

// ReserveScoutRole attempts to become the single scout for kind, holding
// the role for leaseSec seconds (spec.md §4.4, §4.7).
func (s *Semantic) ReserveScoutRole(ctx context.Context, kind string, leaseSec int) (bool, error) {
	key := s.key(keymint.KindWorkQueue, keymint.Params{ScoutType: kind})
	return s.Store.Set(ctx, key, "1", SetOptions{NX: true, ExSecond: leaseSec})
}

// AddTaskQueues registers keys as pending work, each scored by enqueue time.
func (s *Semantic) AddTaskQueues(ctx context.Context, keys []string) error {
	now := float64(time.Now().UnixMilli())
	workKey := s.key(keymint.KindWorkQueue, keymint.Params{})
	for _, k := range keys {
		if err := s.Store.ZAdd(ctx, workKey, now, k, true); err != nil {
			return err
		}
	}
	return nil
}

// GetActiveTaskQueue returns the lowest-scoring (oldest) pending task key.
func (s *Semantic) GetActiveTaskQueue(ctx context.Context) (string, bool, error) {
	workKey := s.key(keymint.KindWorkQueue, keymint.Params{})
	members, err := s.Store.ZRange(ctx, workKey, 0, 0, false)
	if err != nil {
		return "", false, err
	}
	if len(members) == 0 {
		return "", false, nil
	}
	return members[0], true, nil
}

// DeleteProcessedTaskQueue removes workKey from the pending sorted set. If
// scrub is true both key and processedKey are expired immediately;
// otherwise processedKey is renamed onto the canonical key so its state
// survives under the original name.
func (s *Semantic) DeleteProcessedTaskQueue(ctx context.Context, workKey, canonicalKey, processedKey string, scrub bool) error {
	taskQueueKey := s.key(keymint.KindWorkQueue, keymint.Params{})
	if _, err := s.Store.ZRem(ctx, taskQueueKey, workKey); err != nil {
		return err
	}
	if scrub {
		if err := s.Store.Expire(ctx, canonicalKey, 0); err != nil {
			return err
		}
		return s.Store.Expire(ctx, processedKey, 0)
	}
	return s.Store.Rename(ctx, processedKey, canonicalKey)
}

// SignalParams describes a signal registration.
type SignalParams struct {
	Topic    string
	Resolved string
	JobID    string
	ExpireIn time.Duration
}

// SetHookSignal registers jobId as the recipient of a future signal
// delivery on (topic, resolved). Returns false if a signal with the same
// coordinates is already pending.
func (s *Semantic) SetHookSignal(ctx context.Context, p SignalParams) (bool, error) {
	key := s.signalKey(p.Topic, p.Resolved)
	exSec := int(p.ExpireIn.Seconds())
	if exSec <= 0 {
		exSec = int(DefaultSignalTTL.Seconds())
	}
	return s.Store.Set(ctx, key, p.JobID, SetOptions{NX: true, ExSecond: exSec})
}

// ResolveHookSignal looks up and deletes the pending signal, returning the
// jobId it was registered for.
func (s *Semantic) ResolveHookSignal(ctx context.Context, topic, resolved string) (string, bool, error) {
	key := s.signalKey(topic, resolved)
	jobID, ok, err := s.Store.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	if _, err := s.Store.Del(ctx, key); err != nil {
		return "", false, err
	}
	return jobID, true, nil
}

func (s *Semantic) signalKey(topic, resolved string) string {
	base := s.key(keymint.KindSignals, keymint.Params{})
	return fmt.Sprintf("%s:%s:%s", base, topic, resolved)
}

// TimeHookToken is the composite token stored in a time bucket list, per
// spec.md §3.1 (`type ∷ activityId ∷ guid ∷ dad ∷ jobId`).
type TimeHookToken struct {
	Type       string
	ActivityID string
	GID        string
	Dad        string
	JobID      string
}

const tokenSep = "::"

func (t TimeHookToken) String() string {
	return strings.Join([]string{t.Type, t.ActivityID, t.GID, t.Dad, t.JobID}, tokenSep)
}

// ParseTimeHookToken inverts TimeHookToken.String.
func ParseTimeHookToken(raw string) (TimeHookToken, error) {
	parts := strings.Split(raw, tokenSep)
	if len(parts) != 5 {
		return TimeHookToken{}, fmt.Errorf("store: malformed time hook token %q", raw)
	}
	return TimeHookToken{
		Type:       parts[0],
		ActivityID: parts[1],
		GID:        parts[2],
		Dad:        parts[3],
		JobID:      parts[4],
	}, nil
}

// RegisterTimeHook appends token to the bucket for deletionTime, creating
// and indexing the bucket if this is its first entry.
func (s *Semantic) RegisterTimeHook(ctx context.Context, token TimeHookToken, deletionTime int64) error {
	bucketKey := s.key(keymint.KindTimeBucket, keymint.Params{TimeValue: strconv.FormatInt(deletionTime, 10)})
	indexKey := s.key(keymint.KindTimeIndex, keymint.Params{})

	n, err := s.Store.RPush(ctx, bucketKey, token.String())
	if err != nil {
		return err
	}
	if n == 1 {
		return s.Store.ZAdd(ctx, indexKey, float64(deletionTime), bucketKey, false)
	}
	return nil
}

// GetNextTask resolves the earliest due bucket and pops its head token. If
// the bucket is now empty it is removed from the index and drained is
// true.
func (s *Semantic) GetNextTask(ctx context.Context, now int64) (token TimeHookToken, drained bool, found bool, err error) {
	indexKey := s.key(keymint.KindTimeIndex, keymint.Params{})

	buckets, err := s.Store.ZRangeByScore(ctx, indexKey, 0, float64(now))
	if err != nil || len(buckets) == 0 {
		return TimeHookToken{}, false, false, err
	}
	bucketKey := buckets[0]

	raw, ok, err := s.Store.LPop(ctx, bucketKey)
	if err != nil {
		return TimeHookToken{}, false, false, err
	}
	if !ok {
		if _, err := s.Store.ZRem(ctx, indexKey, bucketKey); err != nil {
			return TimeHookToken{}, false, false, err
		}
		return TimeHookToken{}, true, false, nil
	}

	tok, err := ParseTimeHookToken(raw)
	if err != nil {
		return TimeHookToken{}, false, false, err
	}

	remaining, err := s.Store.LRange(ctx, bucketKey, 0, 0)
	if err != nil {
		return TimeHookToken{}, false, false, err
	}
	if len(remaining) == 0 {
		if _, err := s.Store.ZRem(ctx, indexKey, bucketKey); err != nil {
			return TimeHookToken{}, false, false, err
		}
		return tok, true, true, nil
	}
	return tok, false, true, nil
}

// InterruptOptions configures Interrupt.
type InterruptOptions struct {
	Throw  bool
	Code   string
	Reason string
}

const interruptFloor = -1_000_000_000

// Interrupt marks a running job interrupted by driving `:` into the
// (-inf, -1e9] domain. Returns errs.ErrInterrupt if the job was already
// completed or already interrupted by a concurrent caller.
func (s *Semantic) Interrupt(ctx context.Context, jobID string, opts InterruptOptions) error {
	jobKey := s.key(keymint.KindJob, keymint.Params{JobID: jobID})

	raw, ok, err := s.Store.HGet(ctx, jobKey, ":")
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.ErrNotFound, "", jobID, "", 0, "job not found")
	}
	current, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return err
	}
	if current <= 0 {
		return errs.New(errs.ErrInterrupt, errs.CodeInterrupt, jobID, "", 0, "already completed")
	}

	// Move `:` from the value just read down to the floor; an interrupt
	// that landed between the read and this write leaves it a second floor
	// lower.
	newVal, err := s.Store.HIncrByFloat(ctx, jobKey, ":", interruptFloor-current)
	if err != nil {
		return err
	}
	if newVal > interruptFloor || newVal <= 2*interruptFloor {
		return errs.New(errs.ErrInterrupt, errs.CodeInterrupt, jobID, "", 0, "concurrently interrupted")
	}

	if opts.Throw {
		payload := fmt.Sprintf(`{"code":%q,"reason":%q}`, opts.Code, opts.Reason)
		if err := s.Store.HSet(ctx, jobKey, map[string]string{"metadata/err": payload}); err != nil {
			return err
		}
	}
	return nil
}

// GetStatus reads the job's `:` semaphore.
func (s *Semantic) GetStatus(ctx context.Context, jobID string) (float64, error) {
	jobKey := s.key(keymint.KindJob, keymint.Params{JobID: jobID})
	raw, ok, err := s.Store.HGet(ctx, jobKey, ":")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errs.New(errs.ErrNotFound, "", jobID, "", 0, "job not found")
	}
	return strconv.ParseFloat(raw, 64)
}

// FindJobs performs a cursor-based scan over job keys matching pattern.
func (s *Semantic) FindJobs(ctx context.Context, pattern string, limit int, cursor uint64) ([]string, uint64, error) {
	jobPattern := s.key(keymint.KindJob, keymint.Params{JobID: pattern})
	res, err := s.Store.Scan(ctx, jobPattern, cursor, int64(limit))
	if err != nil {
		return nil, 0, err
	}
	return res.Keys, res.Cursor, nil
}

// FindJobFields scans the fields of a single job hash matching pattern.
func (s *Semantic) FindJobFields(ctx context.Context, jobID, pattern string, limit int, cursor uint64) (map[string]string, uint64, error) {
	jobKey := s.key(keymint.KindJob, keymint.Params{JobID: jobID})
	res, err := s.Store.HScan(ctx, jobKey, cursor, int64(limit), pattern)
	if err != nil {
		return nil, 0, err
	}
	return res.Fields, res.Cursor, nil
}

// SetThrottleRate persists the per-topic (or global, topic=="") throttle
// rate. -1 maps to MaxDelay; other values clamp to [0, MaxDelay].
func (s *Semantic) SetThrottleRate(ctx context.Context, topic string, ms int) error {
	if ms == -1 {
		ms = MaxDelay
	}
	if ms < 0 {
		ms = 0
	}
	if ms > MaxDelay {
		ms = MaxDelay
	}
	key := s.key(keymint.KindThrottle, keymint.Params{})
	field := topic
	if field == "" {
		field = ":"
	}
	return s.Store.HSet(ctx, key, map[string]string{field: strconv.Itoa(ms)})
}

// GetThrottleRate resolves the effective throttle for topic: a per-topic
// override takes precedence over the global `:` rate; absent entirely
// defaults to 0 (no throttle). Result always satisfies P6: [0, MaxDelay].
func (s *Semantic) GetThrottleRate(ctx context.Context, topic string) (int, error) {
	key := s.key(keymint.KindThrottle, keymint.Params{})

	if topic != "" {
		if raw, ok, err := s.Store.HGet(ctx, key, topic); err != nil {
			return 0, err
		} else if ok {
			return clampThrottle(raw), nil
		}
	}

	raw, ok, err := s.Store.HGet(ctx, key, ":")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return clampThrottle(raw), nil
}

func clampThrottle(raw string) int {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	if v == -1 {
		return MaxDelay
	}
	if v < 0 {
		return 0
	}
	if v > MaxDelay {
		return MaxDelay
	}
	return v
}
