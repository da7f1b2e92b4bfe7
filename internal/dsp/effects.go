package dsp

import "math"

// Effects implements the audio perturbation primitives with linear
// resampling. The quality is below a phase vocoder's but sufficient for
// producing augmentation candidates, which are similarity-gated anyway.
type Effects struct{}

// TimeStretch changes playback speed by resampling. rate > 1 shortens
// the signal.
func (Effects) TimeStretch(samples []float32, rate float64) []float32 {
	if rate <= 0 || len(samples) == 0 {
		return append([]float32(nil), samples...)
	}
	return resample(samples, int(math.Round(float64(len(samples))/rate)))
}

// PitchShift shifts pitch by the given semitones while preserving
// duration: resample by the pitch factor, then stretch back to the
// original length.
func (Effects) PitchShift(samples []float32, sampleRate int, semitones float64) []float32 {
	if len(samples) == 0 {
		return nil
	}
	factor := math.Pow(2, semitones/12)
	shifted := resample(samples, int(math.Round(float64(len(samples))/factor)))
	return resample(shifted, len(samples))
}

// resample linearly interpolates samples to the target length.
func resample(samples []float32, n int) []float32 {
	if n <= 0 {
		return nil
	}
	out := make([]float32, n)
	if len(samples) == 1 {
		for i := range out {
			out[i] = samples[0]
		}
		return out
	}

	step := float64(len(samples)-1) / float64(n-1)
	if n == 1 {
		step = 0
	}
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j]*(1-frac) + samples[j+1]*frac
	}
	return out
}
