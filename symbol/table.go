package symbol

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hotmeshio/hotmesh-go/keymint"
	"github.com/hotmeshio/hotmesh-go/logging"
	"github.com/hotmeshio/hotmesh-go/store"
)

// ErrContention is returned when a range reservation could not stabilize
// after the backoff budget is exhausted (spec.md §4.2.1).
var ErrContention = errors.New("symbol: deployment contention")

// TargetKind distinguishes the two kinds of symbol-range owners.
type TargetKind int

const (
	TargetJob TargetKind = iota
	TargetActivity
)

// MetadataSlots is the fixed number of reserved slots every target carries
// ahead of its data symbols, per spec.md §4.2.3.
const MetadataSlots = 26

const (
	pendingSentinel = "?:?"
	cursorField     = ":cursor"
	dataCursorField = ":dcursor"
)

// DefaultRangeSize is the range width EnsureSymbol reserves the first time
// it sees a target that has never gone through an explicit ReserveRange
// call (e.g. a job target, which has no deploy-time activity count to size
// a reservation from).
const DefaultRangeSize = 100

var backoffSchedule = []time.Duration{
	1 * time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second,
}

// Table reserves and resolves the numeric ranges backing the key-symbol
// alphabet. It wraps a store.Store; reservation is the only write path.
type Table struct {
	Store     store.Store
	Namespace string
	AppID     string
	Logger    *logging.ContextLogger
}

func NewTable(s store.Store, namespace, appID string) *Table {
	return &Table{Store: s, Namespace: namespace, AppID: appID, Logger: logging.NewContextLogger(nil, nil)}
}

func (t *Table) rangeIndexKey() string {
	key, _ := keymint.Mint(t.Namespace, keymint.KindSymbolKeys, keymint.Params{AppID: t.AppID})
	return key
}

func (t *Table) targetSymbolsKey(target string, kind TargetKind) string {
	key, _ := keymint.Mint(t.Namespace, keymint.KindSymbolKeys, keymint.Params{AppID: t.AppID, ActivityID: target})
	return key
}

// targetValuesKey is the reverse (symbol -> path) lookup hash for target,
// stored separately from targetSymbolsKey so a forward-only HGetAll never
// sees reverse entries mixed in (loadExistingSymbols relies on this).
func (t *Table) targetValuesKey(target string) string {
	key, _ := keymint.Mint(t.Namespace, keymint.KindSymbolVals, keymint.Params{AppID: t.AppID, ActivityID: target})
	return key
}

// Reservation is the result of ReserveRange: the inclusive usable range and
// any symbols that already existed for this target.
type Reservation struct {
	Lower    int
	Upper    int
	Existing map[string]string // path -> symbol
}

// ReserveRange implements spec.md §4.2.1, exactly: an NX insert races
// concurrent callers onto one winner, the loser reads the stabilized range,
// and a peer seen mid-reservation triggers linear backoff.
func (t *Table) ReserveRange(ctx context.Context, target string, size int, kind TargetKind) (Reservation, error) {
	indexKey := t.rangeIndexKey()

	won, err := t.Store.HSetNX(ctx, indexKey, target, pendingSentinel)
	if err != nil {
		return Reservation{}, err
	}

	if won {
		upper, err := t.Store.HIncrByFloat(ctx, indexKey, cursorField, float64(size))
		if err != nil {
			return Reservation{}, err
		}
		upperInt := int(upper)
		lower := upperInt - size

		rangeVal := fmt.Sprintf("%d:%d", lower, upperInt-1)
		if err := t.Store.HSet(ctx, indexKey, map[string]string{target: rangeVal}); err != nil {
			return Reservation{}, err
		}

		if err := t.seedMetadata(ctx, target, kind, lower); err != nil {
			return Reservation{}, err
		}

		dataCursor := strconv.Itoa(lower + MetadataSlots - 1)
		if err := t.Store.HSet(ctx, t.targetSymbolsKey(target, kind), map[string]string{dataCursorField: dataCursor}); err != nil {
			return Reservation{}, err
		}

		return Reservation{Lower: lower + MetadataSlots, Upper: upperInt - 1, Existing: map[string]string{}}, nil
	}

	return t.awaitStableRange(ctx, indexKey, target)
}

func (t *Table) awaitStableRange(ctx context.Context, indexKey, target string) (Reservation, error) {
	for attempt := 0; ; attempt++ {
		raw, ok, err := t.Store.HGet(ctx, indexKey, target)
		if err != nil {
			return Reservation{}, err
		}
		if !ok {
			return Reservation{}, fmt.Errorf("symbol: range for %q vanished mid-reservation", target)
		}

		if raw != pendingSentinel {
			lower, upper, err := parseRange(raw)
			if err != nil {
				return Reservation{}, err
			}
			existing, err := t.loadExistingSymbols(ctx, target)
			if err != nil {
				return Reservation{}, err
			}
			return Reservation{
				Lower:    lower + MetadataSlots + len(existing),
				Upper:    upper,
				Existing: existing,
			}, nil
		}

		if attempt >= len(backoffSchedule) {
			return Reservation{}, fmt.Errorf("%w: target %q did not stabilize", ErrContention, target)
		}
		t.Logger.WithFields(map[string]interface{}{"target": target, "attempt": attempt}).Debug("symbol range contended, backing off")

		select {
		case <-ctx.Done():
			return Reservation{}, ctx.Err()
		case <-time.After(backoffSchedule[attempt]):
		}
	}
}

func (t *Table) loadExistingSymbols(ctx context.Context, target string) (map[string]string, error) {
	key := t.targetSymbolsKey(target, TargetActivity)
	all, err := t.Store.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]string, len(all))
	for path, sym := range all {
		if strings.HasPrefix(path, ":") {
			continue // internal bookkeeping field (e.g. dataCursorField), not a data symbol
		}
		if strings.HasPrefix(path, "metadata/") || strings.Contains(path, "/output/metadata/") {
			continue
		}
		existing[path] = sym
	}
	return existing, nil
}

func parseRange(raw string) (lower, upper int, err error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("symbol: malformed range %q", raw)
	}
	lower, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	upper, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return lower, upper, nil
}

// jobMetadataKeys is the fixed list of job-level metadata paths seeded into
// the first MetadataSlots symbols of every JOB target. The order is the
// contract: it must never change across deployments (spec.md §4.2.3).
var jobMetadataKeys = []string{
	"metadata/jid", "metadata/key", "metadata/app", "metadata/vrs",
	"metadata/pj", "metadata/pa", "metadata/pg", "metadata/pd",
	"metadata/px", "metadata/ac", "metadata/au", "metadata/ts",
	"metadata/js", "metadata/jc", "metadata/ju", "metadata/tpc",
	"metadata/trc", "metadata/spn", "metadata/err", "metadata/expire",
	"metadata/persist", "metadata/await", "metadata/throttle", "metadata/dad",
	"metadata/ngn", "metadata/rsv",
}

// activityMetadataKeys mirrors jobMetadataKeys for ACTIVITY targets; each
// path is scoped under "{activityId}/output/metadata/<key>".
var activityMetadataKeys = []string{
	"aid", "atp", "ac", "au", "ts", "jc", "ju", "err", "try", "dad",
	"pda", "gid", "topic", "as", "ac2", "code", "status", "stack",
	"data", "input", "output", "schema", "hook", "expire", "persist", "ngn",
}

func (t *Table) seedMetadata(ctx context.Context, target string, kind TargetKind, lower int) error {
	key := t.targetSymbolsKey(target, kind)
	valsKey := t.targetValuesKey(target)

	var keys []string
	switch kind {
	case TargetJob:
		keys = jobMetadataKeys
	case TargetActivity:
		out := make([]string, len(activityMetadataKeys))
		for i, k := range activityMetadataKeys {
			out[i] = fmt.Sprintf("%s/output/metadata/%s", target, k)
		}
		keys = out
	}

	forward := make(map[string]string, len(keys))
	reverse := make(map[string]string, len(keys))
	for i, path := range keys {
		if i >= MetadataSlots {
			break
		}
		sym, err := EncodeKey(lower + i)
		if err != nil {
			return err
		}
		forward[path] = sym
		reverse[sym] = path
	}
	if err := t.Store.HSet(ctx, key, forward); err != nil {
		return err
	}
	return t.Store.HSet(ctx, valsKey, reverse)
}

// PathToSymbol resolves a semantic path to its reserved symbol for target,
// the read-side half of the Resolver contract consumed by serializer.
func (t *Table) PathToSymbol(ctx context.Context, target, path string) (string, bool, error) {
	key := t.targetSymbolsKey(target, TargetActivity)
	return t.Store.HGet(ctx, key, path)
}

// SymbolToPath inverts PathToSymbol, reading the reverse lookup hash
// written alongside the forward one.
func (t *Table) SymbolToPath(ctx context.Context, target, sym string) (string, bool, error) {
	key := t.targetValuesKey(target)
	return t.Store.HGet(ctx, key, sym)
}

// AssignSymbol reserves the next free data symbol after r's metadata slots
// for path, persisting the forward (path->sym) mapping in the target's
// symbol-keys hash and the reverse (sym->path) mapping in its separate
// symbol-vals hash, so loadExistingSymbols's HGetAll over the forward hash
// never double-counts a single assignment as two entries.
func (t *Table) AssignSymbol(ctx context.Context, target string, r Reservation, ordinal int, path string) (string, error) {
	if ordinal > r.Upper {
		return "", fmt.Errorf("%w: ordinal %d exceeds reserved upper bound %d", ErrOutOfRange, ordinal, r.Upper)
	}
	sym, err := EncodeKey(ordinal)
	if err != nil {
		return "", err
	}
	key := t.targetSymbolsKey(target, TargetActivity)
	if err := t.Store.HSet(ctx, key, map[string]string{path: sym}); err != nil {
		return "", err
	}
	if err := t.Store.HSet(ctx, t.targetValuesKey(target), map[string]string{sym: path}); err != nil {
		return "", err
	}
	return sym, nil
}

// EnsureSymbol is the write-side counterpart to PathToSymbol: it resolves
// path's symbol for target, reserving a range (seeding it if target has
// never been seen) and claiming the next ordinal off its atomic cursor when
// no symbol exists yet. serializer.Context.Package never creates symbols
// itself; every job/activity field write that might be new goes through
// here first.
func (t *Table) EnsureSymbol(ctx context.Context, target string, kind TargetKind, path string) (string, error) {
	if sym, ok, err := t.PathToSymbol(ctx, target, path); err != nil {
		return "", err
	} else if ok {
		return sym, nil
	}

	res, err := t.ReserveRange(ctx, target, DefaultRangeSize, kind)
	if err != nil {
		return "", err
	}

	// A concurrent caller may have reserved and assigned this exact path
	// while we were reserving our own copy of the range.
	if sym, ok, err := t.PathToSymbol(ctx, target, path); err != nil {
		return "", err
	} else if ok {
		return sym, nil
	}

	next, err := t.Store.HIncrByFloat(ctx, t.targetSymbolsKey(target, kind), dataCursorField, 1)
	if err != nil {
		return "", err
	}
	return t.AssignSymbol(ctx, target, res, int(next), path)
}
