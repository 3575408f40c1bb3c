// Package changehash computes the 32-bit FNV-1a content hash used to
// detect whether a session's durable state actually changed since the
// last sync, per spec.md §4.11. The hash is computed over a fixed,
// ordered set of significant fields so it is stable across processes
// and never depends on map iteration order.
package changehash

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// Fields is the ordered set of significant values fed into the hash.
// Construct it with NewFields and chain Add* calls; field order is
// part of the contract (changing it changes every existing hash).
type Fields struct {
	parts []string
}

// NewFields returns an empty Fields builder.
func NewFields() *Fields {
	return &Fields{}
}

// AddString appends a string field.
func (f *Fields) AddString(v string) *Fields {
	f.parts = append(f.parts, v)
	return f
}

// AddInt appends an integer field.
func (f *Fields) AddInt(v int64) *Fields {
	f.parts = append(f.parts, strconv.FormatInt(v, 10))
	return f
}

// AddFloat appends a float field, rounded to avoid noisy hash churn
// from floating-point representation differences.
func (f *Fields) AddFloat(v float64) *Fields {
	f.parts = append(f.parts, fmt.Sprintf("%.4f", v))
	return f
}

// AddBool appends a boolean field.
func (f *Fields) AddBool(v bool) *Fields {
	f.parts = append(f.parts, strconv.FormatBool(v))
	return f
}

// Canonical renders the fixed pipe-delimited string fed into the hash.
func (f *Fields) Canonical() string {
	return strings.Join(f.parts, "|")
}

// Compute returns the 8-hex-digit FNV-1a 32-bit hash of f's canonical
// form. Invariant: callers must never feed UpdatedAt or a previously
// computed hash value into Fields, or re-stamping identical inputs
// would not be stable.
func Compute(f *Fields) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(f.Canonical()))
	return fmt.Sprintf("%08x", h.Sum32())
}
