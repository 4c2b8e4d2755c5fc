// Package symbol implements the bijective-base-52 codec and the
// concurrency-safe range reservation algorithm that compress long semantic
// paths into three-character key symbols (and values into two-character
// ones).
package symbol

import (
	"errors"
	"strconv"
	"strings"
)

// ErrOutOfRange means a requested ordinal exceeds what the alphabet's
// fixed width can address.
var ErrOutOfRange = errors.New("symbol: ordinal out of range")

// alphabetChars is lowercase then uppercase, 52 letters, matching the
// teacher's base-52 ordering convention used nowhere else in this repo but
// specified bit-exact by the key-symbol grammar.
const alphabetChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

const base = 52

// KeyWidth is the fixed width of a key symbol (max 52^3-1 = 140607).
const KeyWidth = 3

// ValueWidth is the fixed width of a value symbol (max 52^2-1 = 2703).
const ValueWidth = 2

// MaxKeyOrdinal is the largest ordinal a KeyWidth-wide symbol can encode.
const MaxKeyOrdinal = 140607

// MaxValueOrdinal is the largest ordinal a ValueWidth-wide symbol can
// encode.
const MaxValueOrdinal = 2703

var charIndex = buildCharIndex()

func buildCharIndex() map[byte]int {
	m := make(map[byte]int, len(alphabetChars))
	for i := 0; i < len(alphabetChars); i++ {
		m[alphabetChars[i]] = i
	}
	return m
}

// EncodeKey renders ordinal as a 3-char symbol, least-significant digit
// first.
func EncodeKey(ordinal int) (string, error) {
	return encode(ordinal, KeyWidth, MaxKeyOrdinal)
}

// EncodeValue renders ordinal as a 2-char symbol, least-significant digit
// first.
func EncodeValue(ordinal int) (string, error) {
	return encode(ordinal, ValueWidth, MaxValueOrdinal)
}

func encode(ordinal, width, max int) (string, error) {
	if ordinal < 0 || ordinal > max {
		return "", ErrOutOfRange
	}
	buf := make([]byte, width)
	n := ordinal
	for i := 0; i < width; i++ {
		buf[i] = alphabetChars[n%base]
		n /= base
	}
	return string(buf), nil
}

// DecodeKey inverts EncodeKey.
func DecodeKey(symbol string) (int, error) {
	return decode(symbol, KeyWidth)
}

// DecodeValue inverts EncodeValue.
func DecodeValue(symbol string) (int, error) {
	return decode(symbol, ValueWidth)
}

func decode(symbol string, width int) (int, error) {
	if len(symbol) != width {
		return 0, ErrOutOfRange
	}
	n := 0
	mult := 1
	for i := 0; i < width; i++ {
		idx, ok := charIndex[symbol[i]]
		if !ok {
			return 0, ErrOutOfRange
		}
		n += idx * mult
		mult *= base
	}
	return n, nil
}

// IsKeySymbol reports whether s has the shape of a bare 3-char key symbol.
func IsKeySymbol(s string) bool {
	if len(s) != KeyWidth {
		return false
	}
	for i := 0; i < len(s); i++ {
		if _, ok := charIndex[s[i]]; !ok {
			return false
		}
	}
	return true
}

// FormatField renders the job-hash field name for a symbol at an optional
// dimensional address: a bare symbol, or symbol+","+dims joined by commas.
func FormatField(sym string, dims []int) string {
	if len(dims) == 0 {
		return sym
	}
	parts := make([]string, len(dims)+1)
	parts[0] = sym
	for i, d := range dims {
		parts[i+1] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

// ParseField inverts FormatField, splitting a job-hash field name into its
// symbol and dimensional suffix (nil when the field has no suffix).
func ParseField(field string) (sym string, dims []int, err error) {
	idx := strings.IndexByte(field, ',')
	if idx == -1 {
		return field, nil, nil
	}
	sym = field[:idx]
	rest := strings.Split(field[idx+1:], ",")
	dims = make([]int, len(rest))
	for i, r := range rest {
		d, convErr := strconv.Atoi(r)
		if convErr != nil {
			return "", nil, convErr
		}
		dims[i] = d
	}
	return sym, dims, nil
}
