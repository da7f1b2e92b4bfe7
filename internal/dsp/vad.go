// Package dsp holds the built-in audio collaborators: an energy based
// voice activity detector, a noise gate denoiser and resampling based
// perturbation effects. They are deliberately simple; a deployment can
// swap in stronger external implementations through the collaborator
// interfaces without touching the core.
package dsp

import "math"

// EnergyVAD classifies a block as speech when its RMS energy exceeds a
// floor tracked from the quietest blocks seen so far.
type EnergyVAD struct {
	// Ratio above the tracked noise floor that counts as speech.
	Ratio float64

	floor    float64
	observed bool
}

// NewEnergyVAD returns a detector with the default speech ratio.
func NewEnergyVAD() *EnergyVAD {
	return &EnergyVAD{Ratio: 3.0}
}

// IsSpeech reports whether the block's energy is well above the noise
// floor. The floor adapts downward immediately and upward slowly, so a
// long stretch of speech does not absorb into the floor.
func (v *EnergyVAD) IsSpeech(block []float32, sampleRate int) bool {
	e := rms(block)
	if !v.observed || e < v.floor {
		v.floor = e
		v.observed = true
	} else {
		v.floor += 0.001 * (e - v.floor)
	}

	// Guard against a floor of exactly zero from digital silence.
	floor := math.Max(v.floor, 1e-5)
	return e > floor*v.Ratio
}

func rms(block []float32) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, s := range block {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(block)))
}
