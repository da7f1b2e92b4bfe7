package dsp

import "sort"

// NoiseGate attenuates the parts of a recording that sit at or below
// the estimated noise floor. The floor is the RMS of the quietest
// quarter of the recording's windows.
type NoiseGate struct {
	// WindowMs is the analysis window length.
	WindowMs int
	// Attenuation applied to sub-floor windows, in (0, 1].
	Attenuation float64
}

// NewNoiseGate returns a gate with default parameters.
func NewNoiseGate() *NoiseGate {
	return &NoiseGate{WindowMs: 20, Attenuation: 0.1}
}

// Denoise returns a copy of samples with sub-floor windows attenuated.
func (g *NoiseGate) Denoise(samples []float32, sampleRate int) ([]float32, error) {
	out := make([]float32, len(samples))
	copy(out, samples)

	window := sampleRate * g.WindowMs / 1000
	if window <= 0 || len(samples) < 2*window {
		return out, nil
	}

	var energies []float64
	for i := 0; i+window <= len(samples); i += window {
		energies = append(energies, rms(samples[i:i+window]))
	}

	sorted := append([]float64(nil), energies...)
	sort.Float64s(sorted)
	quiet := sorted[:max(1, len(sorted)/4)]
	var floor float64
	for _, e := range quiet {
		floor += e
	}
	floor /= float64(len(quiet))
	// Gate slightly above the floor so borderline noise is caught.
	gate := floor * 1.5

	for wi, e := range energies {
		if e > gate {
			continue
		}
		start := wi * window
		for i := start; i < start+window && i < len(out); i++ {
			out[i] = float32(float64(out[i]) * g.Attenuation)
		}
	}
	return out, nil
}
