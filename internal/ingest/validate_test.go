package ingest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ones() []float64 {
	v := make([]float64, 16)
	for i := range v {
		v[i] = 1
	}
	return v
}

func TestValidator(t *testing.T) {
	now := time.Unix(100, 0)
	v := NewValidator(0)
	assert.Equal(t, DefaultMaxTranslation, v.MaxTranslation)

	withNaN := ones()
	withNaN[7] = math.NaN()
	withInf := ones()
	withInf[0] = math.Inf(1)
	far := ones()
	far[3] = 1e6

	tests := []struct {
		name    string
		in      []float64
		wantErr error
	}{
		{"all ones", ones(), nil},
		{"short", ones()[:15], ErrMatrixLength},
		{"long", append(ones(), 1), ErrMatrixLength},
		{"nan", withNaN, ErrNonFinite},
		{"inf", withInf, ErrNonFinite},
		{"far translation", far, ErrTranslationBound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := v.Validate(tt.in, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, IsRejection(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, now, s.At)
			assert.Equal(t, tt.in, s.Matrix.Slice())
		})
	}
}

func TestValidatorCustomBound(t *testing.T) {
	v := NewValidator(5)
	m := make([]float64, 16)
	m[3] = 3
	m[7] = 4
	_, err := v.Validate(m, time.Time{})
	assert.NoError(t, err)

	m[11] = 0.1
	_, err = v.Validate(m, time.Time{})
	assert.ErrorIs(t, err, ErrTranslationBound)
}

func TestIsRejection(t *testing.T) {
	assert.False(t, IsRejection(nil))
	assert.False(t, IsRejection(ErrMalformed))
}
