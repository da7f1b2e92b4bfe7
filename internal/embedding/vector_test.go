package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	t.Parallel()

	t.Run("identical vectors", func(t *testing.T) {
		v := []float32{0.5, -0.25, 1.0}
		assert.InDelta(t, 1.0, Cosine(v, v), 1e-9)
	})

	t.Run("orthogonal vectors", func(t *testing.T) {
		a := []float32{1, 0}
		b := []float32{0, 1}
		assert.InDelta(t, 0.0, Cosine(a, b), 1e-9)
	})

	t.Run("opposite vectors", func(t *testing.T) {
		a := []float32{1, 2}
		b := []float32{-1, -2}
		assert.InDelta(t, -1.0, Cosine(a, b), 1e-9)
	})

	t.Run("mismatched lengths yield zero", func(t *testing.T) {
		assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{1, 2, 3}))
	})

	t.Run("zero vector yields zero", func(t *testing.T) {
		assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
	})
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	t.Run("roundtrip", func(t *testing.T) {
		vec := []float32{1.5, -2.25, 0, 3.75}
		blob := Encode(vec)
		require.Len(t, blob, 4*len(vec))

		got, ok := Decode(blob, len(vec))
		require.True(t, ok)
		assert.Equal(t, vec, got)
	})

	t.Run("wrong length rejected", func(t *testing.T) {
		blob := Encode([]float32{1, 2, 3})
		_, ok := Decode(blob, 4)
		assert.False(t, ok)
	})

	t.Run("truncated blob rejected", func(t *testing.T) {
		blob := Encode([]float32{1, 2, 3})
		_, ok := Decode(blob[:len(blob)-1], 3)
		assert.False(t, ok)
	})

	t.Run("non finite values rejected", func(t *testing.T) {
		blob := Encode([]float32{1, float32(math.NaN()), 3})
		_, ok := Decode(blob, 3)
		assert.False(t, ok)

		blob = Encode([]float32{1, float32(math.Inf(1)), 3})
		_, ok = Decode(blob, 3)
		assert.False(t, ok)
	})
}
