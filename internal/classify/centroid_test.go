package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainingData() ([][]float32, []string) {
	return [][]float32{
		{1, 0, 0, 0},
		{0.9, 0.1, 0, 0},
		{0, 1, 0, 0},
		{0.1, 0.9, 0, 0},
	}, []string{"alice", "alice", "bob", "bob"}
}

func TestFactoryTrain(t *testing.T) {
	t.Parallel()

	t.Run("classes are sorted and predictions sum to one", func(t *testing.T) {
		vectors, labels := trainingData()
		clf, err := Factory{}.Train(vectors, labels)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, clf.Classes())

		probs, err := clf.PredictProba([]float32{1, 0, 0, 0})
		require.NoError(t, err)
		require.Len(t, probs, 2)
		assert.InDelta(t, 1.0, probs[0]+probs[1], 1e-9)
		assert.Greater(t, probs[0], probs[1], "closer to alice's centroid")

		probs, err = clf.PredictProba([]float32{0, 1, 0, 0})
		require.NoError(t, err)
		assert.Greater(t, probs[1], probs[0])
	})

	t.Run("empty training set rejected", func(t *testing.T) {
		_, err := Factory{}.Train(nil, nil)
		assert.Error(t, err)
	})

	t.Run("mismatched labels rejected", func(t *testing.T) {
		_, err := Factory{}.Train([][]float32{{1}}, []string{"a", "b"})
		assert.Error(t, err)
	})

	t.Run("inconsistent dimensions rejected", func(t *testing.T) {
		_, err := Factory{}.Train([][]float32{{1, 0}, {1}}, []string{"a", "a"})
		assert.Error(t, err)
	})
}

func TestMarshalRoundtrip(t *testing.T) {
	t.Parallel()

	vectors, labels := trainingData()
	clf, err := Factory{}.Train(vectors, labels)
	require.NoError(t, err)

	blob, err := clf.MarshalBinary()
	require.NoError(t, err)

	restored, err := Factory{}.UnmarshalBinary(blob)
	require.NoError(t, err)
	assert.Equal(t, clf.Classes(), restored.Classes())

	query := []float32{0.8, 0.2, 0, 0}
	want, err := clf.PredictProba(query)
	require.NoError(t, err)
	got, err := restored.PredictProba(query)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-9)
}
