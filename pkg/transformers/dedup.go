package transformers

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/hl7/pkg/contracts"
)

// DuplicateFilter drops records whose key fields were already seen. HL7 senders resend
// messages after a lost acknowledgment, so the usual key is the control id together with
// the sending application.
type DuplicateFilter struct {
	fields []string
	cache  *ristretto.Cache
}

// NewDuplicateFilter remembers up to maxKeys recent keys built from fields.
func NewDuplicateFilter(maxKeys int, fields ...string) (*DuplicateFilter, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("duplicate filter: at least one key field is required")
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(maxKeys * 10),
		MaxCost:     int64(maxKeys),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("duplicate filter: %w", err)
	}
	return &DuplicateFilter{fields: fields, cache: cache}, nil
}

func (df *DuplicateFilter) Name() string {
	return "DuplicateFilter"
}

// Transform returns nil for a record already seen. Records missing every key field pass
// through untouched.
func (df *DuplicateFilter) Transform(_ context.Context, rec contracts.Record) (contracts.Record, error) {
	key, ok := df.fingerprint(rec)
	if !ok {
		return rec, nil
	}
	if _, exists := df.cache.Get(key); exists {
		return nil, nil
	}
	df.cache.Set(key, true, 1)
	df.cache.Wait()
	return rec, nil
}

func (df *DuplicateFilter) fingerprint(rec contracts.Record) (string, bool) {
	parts := make([]string, len(df.fields))
	found := false
	for i, field := range df.fields {
		if v, ok := rec[field]; ok && v != nil {
			parts[i] = fmt.Sprintf("%v", v)
			found = found || parts[i] != ""
		}
	}
	return strings.Join(parts, "\x1f"), found
}

// Close releases the cache.
func (df *DuplicateFilter) Close() {
	df.cache.Close()
}

var _ contracts.Transformer = (*DuplicateFilter)(nil)
