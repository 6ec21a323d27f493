package catalog

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordID_StablePerPerson(t *testing.T) {
	assert.Equal(t, RecordID("u-1"), RecordID("u-1"))
	assert.NotEqual(t, RecordID("u-1"), RecordID("u-2"))
	assert.Len(t, RecordID("u-1"), 36)
}

func TestMetadata_String(t *testing.T) {
	m := Metadata{"name": "Alice", "age": 31, "badge": int64(7), "floor": int32(3), "weird": 1.5}

	assert.Equal(t, "Alice", m.String("name"))
	assert.Equal(t, "31", m.String("age"))
	assert.Equal(t, "7", m.String("badge"))
	assert.Equal(t, "3", m.String("floor"))
	assert.Equal(t, "", m.String("weird"))
	assert.Equal(t, "", m.String("missing"))
	assert.Equal(t, "", Metadata(nil).PersonID())
}

func TestMetadata_CloneIsIndependent(t *testing.T) {
	m := Metadata{"person_id": "u-1"}
	c := m.Clone()
	c["person_id"] = "u-2"

	assert.Equal(t, "u-1", m.PersonID())
	assert.Nil(t, Metadata(nil).Clone())
}

func TestNormalizeMetadata(t *testing.T) {
	got, err := NormalizeMetadata(map[string]any{
		"person_id": "u-1",
		"badge":     float64(42),
		"note":      nil,
	})
	require.NoError(t, err)
	assert.Equal(t, Metadata{"person_id": "u-1", "badge": 42}, got)

	for name, v := range map[string]any{
		"fraction": 1.5,
		"bool":     true,
		"nested":   map[string]any{"a": "b"},
		"list":     []any{"a"},
		"huge":     math.Pow(2, 60),
		"number":   json.Number("2.5"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NormalizeMetadata(map[string]any{"k": v})
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestNormalizeMetadata_WideIntegers(t *testing.T) {
	got, err := NormalizeMetadata(map[string]any{
		"employee_no": float64(3000000000),
		"badge":       int64(5000000000),
		"serial":      json.Number("9007199254740993"),
	})
	require.NoError(t, err)
	assert.Equal(t, "3000000000", got.String("employee_no"))
	assert.Equal(t, "5000000000", got.String("badge"))
	assert.Equal(t, "9007199254740993", got.String("serial"))
}

func TestDecodeMetadata(t *testing.T) {
	written := Metadata{PersonIDKey: "p1", "badge": int64(5000000000), "name": "Ann"}
	raw, err := json.Marshal(written)
	require.NoError(t, err)

	got, err := DecodeMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PersonID())
	assert.Equal(t, "5000000000", got.String("badge"))
	assert.Equal(t, "Ann", got.String("name"))

	empty, err := DecodeMetadata(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = DecodeMetadata([]byte(`{"person_id":`))
	assert.ErrorIs(t, err, ErrCorruption)

	_, err = DecodeMetadata([]byte(`{"person_id":"p1","tags":["a"]}`))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestValidateVector(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	tests := []struct {
		name    string
		vec     []float32
		wantErr bool
	}{
		{"valid", []float32{0.1, 0.2, 0.3}, false},
		{"empty", nil, true},
		{"short", []float32{0.1, 0.2}, true},
		{"long", []float32{0.1, 0.2, 0.3, 0.4}, true},
		{"nan", []float32{0.1, nan, 0.3}, true},
		{"inf", []float32{inf, 0.2, 0.3}, true},
		{"zero", []float32{0, 0, 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVector(tt.vec, 3)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestValidateVector_DimensionError(t *testing.T) {
	err := ValidateVector([]float32{1, 2}, 4)

	var dimErr *DimensionError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Actual)
	assert.Contains(t, err.Error(), "expected 4, got 2")
}

func TestValidateRecord(t *testing.T) {
	vec := []float32{1, 0, 0}

	assert.NoError(t, ValidateRecord(VectorRecord{ID: "r", Vector: vec, Metadata: Metadata{"person_id": "u"}}, 3))
	assert.ErrorIs(t, ValidateRecord(VectorRecord{Vector: vec, Metadata: Metadata{"person_id": "u"}}, 3), ErrInvalidInput)
	assert.ErrorIs(t, ValidateRecord(VectorRecord{ID: "r", Vector: vec}, 3), ErrInvalidInput)
	assert.NoError(t, ValidateRecord(VectorRecord{ID: "r", Vector: vec, Metadata: Metadata{"person_id": 12}}, 3))
}

func TestStoreError(t *testing.T) {
	cause := errors.New("connection refused")
	err := Unavailable("query", cause)

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "query: store unavailable: connection refused", err.Error())

	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "query", se.Op)
}
