// Package embedding provides fixed-dimension biometric vectors, cosine
// similarity and the byte codec used by the datastore. Stored blobs are
// flat little-endian float32 arrays; a blob whose length does not match
// the expected dimension is treated as corrupt and skipped by callers.
package embedding

import (
	"encoding/binary"
	"math"
)

// Default vector dimensions per modality. The configured values in
// conf.Settings take precedence, these are the shipped model sizes.
const (
	FaceDim  = 128
	VoiceDim = 256
)

// Cosine returns the cosine similarity between two vectors. Vectors of
// mismatched length or zero magnitude yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Encode serializes a vector as little-endian float32 bytes.
func Encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Decode deserializes a little-endian float32 blob of the given
// dimension. ok is false for wrong-length or non-finite data.
func Decode(b []byte, dim int) (vec []float32, ok bool) {
	if dim <= 0 || len(b) != dim*4 {
		return nil, false
	}
	vec = make([]float32, dim)
	for i := range vec {
		f := math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return nil, false
		}
		vec[i] = f
	}
	return vec, true
}
