// Package catalog stores enrolled face vectors and answers nearest-neighbor
// queries over them.
//
// Two interchangeable EmbeddingStore implementations exist: the PostgreSQL
// store in the postgres subpackage and the in-process Memory store used as a
// fallback when the remote index is unreachable. Failover switches between them.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
)

// PersonIDKey is the metadata key every record must carry.
const PersonIDKey = "person_id"

// recordNamespace seeds deterministic record IDs so that re-enrolling the same
// person always addresses the same record.
var recordNamespace = uuid.MustParse("6f1d3c52-8a4e-4b5e-9d7a-2c1f0e9b7a31")

// Metadata holds the attributes attached to a record. Values are strings or
// integers.
type Metadata map[string]any

// VectorRecord is one enrolled face vector.
type VectorRecord struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Candidate is a single query hit. Distance is the cosine distance in [0, 2].
type Candidate struct {
	RecordID string
	Distance float64
	Metadata Metadata
}

// RecordID derives the record ID for a person. The mapping is stable, which
// makes enrollment an upsert-by-person.
func RecordID(personID string) string {
	return uuid.NewSHA1(recordNamespace, []byte(personID)).String()
}

// PersonID returns the person_id value rendered as a string.
func (m Metadata) PersonID() string {
	return m.String(PersonIDKey)
}

// String returns the value for key rendered as a string, or "" when absent.
func (m Metadata) String(key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}

// Clone returns a shallow copy of m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// maxExactFloatInt is the largest integer a float64 holds exactly.
const maxExactFloatInt = 1 << 53

// NormalizeMetadata converts decoded JSON values into the string|int value set.
// json.Number values and integral float64 values become int; anything else
// that is not a string or an integer is rejected.
func NormalizeMetadata(in map[string]any) (Metadata, error) {
	out := make(Metadata, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string, int, int64, int32:
			out[k] = val
		case json.Number:
			n, err := val.Int64()
			if err != nil {
				return nil, fmt.Errorf("%w: metadata %q must be a string or integer", ErrInvalidInput, k)
			}
			out[k] = narrowInt(n)
		case float64:
			if val != math.Trunc(val) || math.IsInf(val, 0) || math.Abs(val) > maxExactFloatInt {
				return nil, fmt.Errorf("%w: metadata %q must be a string or integer", ErrInvalidInput, k)
			}
			out[k] = narrowInt(int64(val))
		case nil:
			// dropped: absent and null are the same thing here
		default:
			return nil, fmt.Errorf("%w: metadata %q has unsupported type %T", ErrInvalidInput, k, v)
		}
	}
	return out, nil
}

// DecodeMetadata parses a stored JSON metadata object. Integers keep their
// full 64-bit range.
func DecodeMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 {
		return Metadata{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: unmarshal metadata: %w", ErrCorruption, err)
	}
	return NormalizeMetadata(m)
}

func narrowInt(n int64) any {
	if i := int(n); int64(i) == n {
		return i
	}
	return n
}

// ValidateVector checks that v is a usable query or record vector of dimension dim.
func ValidateVector(v []float32, dim int) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidInput)
	}
	if len(v) != dim {
		return &DimensionError{Expected: dim, Actual: len(v)}
	}
	var norm float64
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: component %d is not finite", ErrInvalidInput, i)
		}
		norm += f * f
	}
	if norm == 0 {
		return fmt.Errorf("%w: zero vector has no direction", ErrInvalidInput)
	}
	return nil
}

// ValidateRecord checks a record before it is written.
func ValidateRecord(rec VectorRecord, dim int) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: record id is required", ErrInvalidInput)
	}
	if rec.Metadata.PersonID() == "" {
		return fmt.Errorf("%w: metadata %s is required", ErrInvalidInput, PersonIDKey)
	}
	return ValidateVector(rec.Vector, dim)
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
