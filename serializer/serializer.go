// Package serializer packages and unpacks a flat job hash of
// symbol-to-typed-string pairs, using a symbol.Resolver for path<->symbol
// lookups. It never reserves symbol ranges itself; reservation is
// symbol.Table's job.
package serializer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hotmeshio/hotmesh-go/symbol"
)

// ErrUnknownPath means Package was asked to encode a path with no
// registered symbol in any of the named symbol scopes.
var ErrUnknownPath = errors.New("serializer: unknown path")

// Resolver is the read-side of symbol.Table: path<->symbol lookups scoped
// to one or more named symbol sets (an activity id, a job target, etc).
type Resolver interface {
	PathToSymbol(ctx context.Context, target, path string) (string, bool, error)
	SymbolToPath(ctx context.Context, target, sym string) (string, bool, error)
}

// Context is a per-operation serialization scope: the set of symbol
// targets (keys/vals) and dimensional ids in play for one package/
// unpackage/abbreviate call. The teacher's lesson on eliminating
// package-level mutable state (spec.md §9) applies here: every call site
// builds its own Context rather than mutating shared globals.
type Context struct {
	resolver Resolver
	keys     []string // symbol targets searched in order for key resolution
	vals     []string
	dimIDs   []int
}

// ResetSymbols prepares a serializer Context for one operation.
func ResetSymbols(resolver Resolver, keyTargets, valTargets []string, dimIDs []int) *Context {
	return &Context{resolver: resolver, keys: keyTargets, vals: valTargets, dimIDs: dimIDs}
}

// typeTag is the one-character prefix recording a value's original type so
// Unpackage can recover it (SPEC_FULL.md §5).
type typeTag byte

const (
	tagBool   typeTag = 'b'
	tagNumber typeTag = 'n'
	tagString typeTag = 's'
	tagObject typeTag = 'o'
	tagDate   typeTag = 'd'
	tagNull   typeTag = 'u'
)

func encodeValue(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return string(tagNull), nil
	case bool:
		if val {
			return string(tagBool) + "1", nil
		}
		return string(tagBool) + "0", nil
	case int:
		return string(tagNumber) + strconv.Itoa(val), nil
	case int64:
		return string(tagNumber) + strconv.FormatInt(val, 10), nil
	case float64:
		return string(tagNumber) + strconv.FormatFloat(val, 'g', -1, 64), nil
	case string:
		return string(tagString) + val, nil
	case time.Time:
		return string(tagDate) + val.Format(time.RFC3339), nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("serializer: cannot encode value: %w", err)
		}
		return string(tagObject) + string(raw), nil
	}
}

func decodeValue(raw string) (interface{}, error) {
	if raw == "" {
		return nil, nil
	}
	tag := typeTag(raw[0])
	payload := raw[1:]
	switch tag {
	case tagNull:
		return nil, nil
	case tagBool:
		return payload == "1", nil
	case tagNumber:
		if n, err := strconv.ParseInt(payload, 10, 64); err == nil {
			return n, nil
		}
		return strconv.ParseFloat(payload, 64)
	case tagString:
		return payload, nil
	case tagDate:
		return time.Parse(time.RFC3339, payload)
	case tagObject:
		var out interface{}
		if err := json.Unmarshal([]byte(payload), &out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("serializer: unknown type tag %q", tag)
	}
}

// PathEntry is one flat path -> value pair, optionally addressed at a
// dimensional isolate.
type PathEntry struct {
	Path  string
	Dims  []int
	Value interface{}
}

// Package walks state and emits {symbol+dimSuffix -> typed string}. Every
// path must resolve against the Context's key targets or it fails with
// ErrUnknownPath.
func (c *Context) Package(ctx context.Context, state []PathEntry) (map[string]string, error) {
	out := make(map[string]string, len(state))
	for _, entry := range state {
		sym, err := c.resolveSymbol(ctx, entry.Path)
		if err != nil {
			return nil, err
		}
		field := symbol.FormatField(sym, entry.Dims)
		encoded, err := encodeValue(entry.Value)
		if err != nil {
			return nil, err
		}
		out[field] = encoded
	}
	return out, nil
}

func (c *Context) resolveSymbol(ctx context.Context, path string) (string, error) {
	for _, target := range c.keys {
		if sym, ok, err := c.resolver.PathToSymbol(ctx, target, path); err != nil {
			return "", err
		} else if ok {
			return sym, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownPath, path)
}

// Unpackage inverts Package: for every hash field it resolves the symbol
// back to a path, returns the dimensional suffix separately in the entry's
// Dims, and decodes the typed-string value.
func (c *Context) Unpackage(ctx context.Context, hash map[string]string) ([]PathEntry, error) {
	out := make([]PathEntry, 0, len(hash))
	for field, raw := range hash {
		if field == ":" || strings.HasPrefix(field, "-") {
			continue // status semaphore and hook/mark fields are not paths
		}
		sym, dims, err := symbol.ParseField(field)
		if err != nil {
			return nil, err
		}

		path, err := c.resolveSymbolToPath(ctx, sym)
		if err != nil {
			return nil, err
		}

		value, err := decodeValue(raw)
		if err != nil {
			return nil, err
		}

		out = append(out, PathEntry{Path: path, Dims: dims, Value: value})
	}
	return out, nil
}

func (c *Context) resolveSymbolToPath(ctx context.Context, sym string) (string, error) {
	for _, target := range c.keys {
		if path, ok, err := c.resolver.SymbolToPath(ctx, target, sym); err != nil {
			return "", err
		} else if ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: symbol %s", ErrUnknownPath, sym)
}

// Abbreviate resolves consumes (semantic paths, with optional dims) into
// the minimal field list needed for a batch HMGET-style read, plus any
// extraLiterals (e.g. ":") passed through verbatim.
func (c *Context) Abbreviate(ctx context.Context, consumes []PathEntry, extraLiterals []string) ([]string, error) {
	fields := make([]string, 0, len(consumes)+len(extraLiterals))
	for _, entry := range consumes {
		sym, err := c.resolveSymbol(ctx, entry.Path)
		if err != nil {
			return nil, err
		}
		fields = append(fields, symbol.FormatField(sym, entry.Dims))
	}
	fields = append(fields, extraLiterals...)
	return fields, nil
}
