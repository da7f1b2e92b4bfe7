// Package augment implements the similarity-gated synthetic sample
// generator used during enrollment. A perturbed variant is accepted only
// when its embedding stays within the configured cosine-similarity band
// of the original: below the band the variant no longer carries the
// identity strongly enough, at the top of the band it is a near-duplicate
// with no training value.
package augment

import (
	"log/slog"
	"math/rand/v2"
	"sort"

	"github.com/biogate/biogate-go/internal/conf"
)

// Hooks supplies the modality-specific pieces of the filter: a random
// perturbation of the sample and embedding re-extraction. An Embed error
// discards the attempt without counting toward acceptance, but the
// attempt still spends the try budget.
type Hooks[S any] struct {
	Perturb func(rng *rand.Rand, sample S) (S, error)
	Embed   func(sample S) ([]float32, error)
}

// Variant is one synthetic sample together with its similarity to the
// source embedding.
type Variant[S any] struct {
	Sample     S
	Similarity float64
}

// Result reports the outcome of one filter run over a single original
// sample.
type Result[S any] struct {
	Accepted []Variant[S]
	Tries    int
	Fallback bool // face-only: accepted variants came from the fallback
}

// Filter runs the accept/reject loop for one modality.
type Filter[S any] struct {
	hooks        Hooks[S]
	lowSim       float64
	highSim      float64
	nAug         int
	maxTries     int
	fallbackKeep int // 0 disables the fallback (audio)
	log          *slog.Logger
	cosine       func(a, b []float32) float64
}

// NewFilter builds a filter from the shared augmentation settings.
// fallbackKeep should be settings.Augment.FallbackKeep for faces and 0
// for audio.
func NewFilter[S any](settings *conf.Settings, hooks Hooks[S], fallbackKeep int, cosine func(a, b []float32) float64, log *slog.Logger) *Filter[S] {
	return &Filter[S]{
		hooks:        hooks,
		lowSim:       settings.Augment.LowSim,
		highSim:      settings.Augment.HighSim,
		nAug:         settings.Augment.NAug,
		maxTries:     settings.Augment.MaxTries,
		fallbackKeep: fallbackKeep,
		log:          log,
		cosine:       cosine,
	}
}

// Run generates variants for one original sample. refEmbedding is the
// embedding of the original; budget is the remaining per-user synthetic
// cap and bounds how many variants may be accepted, checked before each
// acceptance. Every accept/reject decision is logged with its similarity.
func (f *Filter[S]) Run(rng *rand.Rand, original S, refEmbedding []float32, origID string, budget int) Result[S] {
	target := min(f.nAug, budget)
	if target <= 0 {
		return Result[S]{}
	}

	var accepted, rejected []Variant[S]
	tries := 0

	for len(accepted) < target && tries < f.maxTries {
		tries++

		sample, err := f.hooks.Perturb(rng, original)
		if err != nil {
			f.log.Warn("perturbation failed", "orig_id", origID, "try", tries, "error", err)
			continue
		}

		emb, err := f.hooks.Embed(sample)
		if err != nil {
			f.log.Debug("embedding failed on variant", "orig_id", origID, "try", tries, "error", err)
			continue
		}

		sim := f.cosine(refEmbedding, emb)
		if f.lowSim <= sim && sim <= f.highSim {
			accepted = append(accepted, Variant[S]{Sample: sample, Similarity: sim})
			f.log.Info("variant accepted", "orig_id", origID, "try", tries, "similarity", sim, "accepted", len(accepted))
		} else {
			rejected = append(rejected, Variant[S]{Sample: sample, Similarity: sim})
			f.log.Info("variant rejected", "orig_id", origID, "try", tries, "similarity", sim,
				"band_low", f.lowSim, "band_high", f.highSim)
		}
	}

	res := Result[S]{Accepted: accepted, Tries: tries}

	// Fallback, applied exactly once after the try budget: when nothing
	// passed the band but some attempts produced embeddings, keep the
	// highest-similarity rejects so the sample still gets synthetic
	// coverage.
	if len(accepted) == 0 && f.fallbackKeep > 0 && len(rejected) > 0 {
		sort.SliceStable(rejected, func(i, j int) bool {
			return rejected[i].Similarity > rejected[j].Similarity
		})
		keep := min(f.fallbackKeep, len(rejected))
		keep = min(keep, budget)
		res.Accepted = rejected[:keep]
		res.Fallback = true
		for _, v := range res.Accepted {
			f.log.Warn("fallback variant kept", "orig_id", origID, "similarity", v.Similarity)
		}
	}

	return res
}
