// Package classify provides the built-in face classifier: a nearest
// centroid model over normalized embeddings with a softmax over scaled
// cosine similarities. It trades the margin of a kernel machine for
// having no numeric dependencies, which keeps retraining cheap on every
// enrollment.
package classify

import (
	"bytes"
	"encoding/gob"
	"math"
	"sort"

	"github.com/biogate/biogate-go/internal/embedding"
	"github.com/biogate/biogate-go/internal/errors"
	"github.com/biogate/biogate-go/internal/model"
)

// softmax temperature over cosine similarities in [-1, 1]. Chosen so a
// 0.1 similarity gap maps to a clearly dominant probability.
const temperature = 10.0

// Centroid is a trained nearest-centroid classifier.
type Centroid struct {
	ClassNames []string
	Centroids  [][]float32 // aligned with ClassNames
}

// Factory trains and rehydrates Centroid classifiers.
type Factory struct{}

var _ model.ClassifierFactory = Factory{}

// Train computes one mean vector per label.
func (Factory) Train(vectors [][]float32, labels []string) (model.Classifier, error) {
	if len(vectors) == 0 || len(vectors) != len(labels) {
		return nil, errors.Newf("classifier training needs matching vectors and labels, got %d and %d", len(vectors), len(labels)).
			Component("classify").
			Category(errors.CategoryValidation).
			Build()
	}

	sums := make(map[string][]float64)
	counts := make(map[string]int)
	for i, v := range vectors {
		label := labels[i]
		s := sums[label]
		if s == nil {
			s = make([]float64, len(v))
			sums[label] = s
		}
		if len(v) != len(s) {
			return nil, errors.Newf("inconsistent vector dimensions in training data").
				Component("classify").
				Category(errors.CategoryValidation).
				Build()
		}
		for j, x := range v {
			s[j] += float64(x)
		}
		counts[label]++
	}

	classes := make([]string, 0, len(sums))
	for label := range sums {
		classes = append(classes, label)
	}
	sort.Strings(classes)

	centroids := make([][]float32, len(classes))
	for i, label := range classes {
		s := sums[label]
		n := float64(counts[label])
		c := make([]float32, len(s))
		for j, x := range s {
			c[j] = float32(x / n)
		}
		centroids[i] = c
	}

	return &Centroid{ClassNames: classes, Centroids: centroids}, nil
}

// UnmarshalBinary rehydrates a classifier persisted by MarshalBinary.
func (Factory) UnmarshalBinary(data []byte) (model.Classifier, error) {
	var c Centroid
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return nil, errors.New(err).
			Component("classify").
			Category(errors.CategoryModelArtifact).
			Build()
	}
	return &c, nil
}

// Classes returns the label order of probability vectors.
func (c *Centroid) Classes() []string {
	return c.ClassNames
}

// PredictProba returns the softmax over scaled cosine similarities to
// every class centroid.
func (c *Centroid) PredictProba(v []float32) ([]float64, error) {
	if len(c.Centroids) == 0 {
		return nil, errors.Newf("classifier has no classes").
			Component("classify").
			Category(errors.CategoryState).
			Build()
	}

	scores := make([]float64, len(c.Centroids))
	maxScore := math.Inf(-1)
	for i, centroid := range c.Centroids {
		scores[i] = temperature * embedding.Cosine(v, centroid)
		if scores[i] > maxScore {
			maxScore = scores[i]
		}
	}

	var sum float64
	for i, s := range scores {
		scores[i] = math.Exp(s - maxScore)
		sum += scores[i]
	}
	for i := range scores {
		scores[i] /= sum
	}
	return scores, nil
}

// MarshalBinary serializes the classifier for the model artifact.
func (c *Centroid) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, errors.New(err).
			Component("classify").
			Category(errors.CategoryModelArtifact).
			Build()
	}
	return buf.Bytes(), nil
}
