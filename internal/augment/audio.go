package augment

import (
	"math"
	"math/rand/v2"

	"github.com/biogate/biogate-go/internal/model"
)

// AudioSample is a mono clip held in memory during augmentation.
type AudioSample struct {
	Samples    []float32
	SampleRate int
}

// AudioPerturber draws one perturbation kind uniformly per attempt:
// time-stretch, pitch-shift or additive noise at 17-20 dB SNR.
type AudioPerturber struct {
	fx model.AudioEffects
}

// NewAudioPerturber wraps the external signal transforms.
func NewAudioPerturber(fx model.AudioEffects) *AudioPerturber {
	return &AudioPerturber{fx: fx}
}

// Perturb produces one randomly perturbed variant of the clip.
func (p *AudioPerturber) Perturb(rng *rand.Rand, s AudioSample) (AudioSample, error) {
	switch rng.IntN(3) {
	case 0: // time-stretch, mild most of the time
		var rate float64
		if rng.Float64() < 0.8 {
			rate = 0.9 + rng.Float64()*0.2
		} else {
			rate = 0.8 + rng.Float64()*0.4
		}
		return AudioSample{
			Samples:    p.fx.TimeStretch(s.Samples, rate),
			SampleRate: s.SampleRate,
		}, nil

	case 1: // pitch-shift within half a semitone
		semitones := -0.5 + rng.Float64()
		return AudioSample{
			Samples:    p.fx.PitchShift(s.Samples, s.SampleRate, semitones),
			SampleRate: s.SampleRate,
		}, nil

	default: // additive gaussian noise at 17-20 dB SNR
		snrDB := 17 + rng.Float64()*3
		scale := rms(s.Samples) * math.Pow(10, -snrDB/20)
		out := make([]float32, len(s.Samples))
		for i, v := range s.Samples {
			out[i] = v + float32(rng.NormFloat64()*scale)
		}
		return AudioSample{Samples: out, SampleRate: s.SampleRate}, nil
	}
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
