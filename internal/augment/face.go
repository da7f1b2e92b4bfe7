package augment

import (
	"math/rand/v2"

	"github.com/biogate/biogate-go/internal/model"
)

// FacePerturber applies an ordered composition of image perturbations.
// The composition probabilities are part of the augmentation contract,
// not incidental: affine jitter p=0.9, one lens-style distortion p=0.3,
// one blur p=0.3, brightness/contrast p=0.7, hue/saturation/value p=0.5,
// gamma p=0.4, pixel noise p=0.4, local-contrast enhancement p=0.3.
type FacePerturber struct {
	fx model.ImageEffects
}

// NewFacePerturber wraps the external image transforms.
func NewFacePerturber(fx model.ImageEffects) *FacePerturber {
	return &FacePerturber{fx: fx}
}

// Perturb produces one randomly perturbed variant of the encoded image.
func (p *FacePerturber) Perturb(rng *rand.Rand, img []byte) ([]byte, error) {
	out := img
	var err error

	if rng.Float64() < 0.9 {
		out, err = p.fx.Affine(out, model.AffineParams{
			RotateDeg:  -15 + rng.Float64()*30,
			TranslateX: -0.10 + rng.Float64()*0.20,
			TranslateY: -0.10 + rng.Float64()*0.20,
			Scale:      0.9 + rng.Float64()*0.2,
		})
		if err != nil {
			return nil, err
		}
	}

	if rng.Float64() < 0.3 {
		switch rng.IntN(3) {
		case 0:
			out, err = p.fx.OpticalDistortion(out, 0.05)
		case 1:
			out, err = p.fx.GridDistortion(out, 5, 0.05)
		default:
			out, err = p.fx.ElasticTransform(out, 1, 50)
		}
		if err != nil {
			return nil, err
		}
	}

	if rng.Float64() < 0.3 {
		if rng.IntN(2) == 0 {
			// odd kernel in [3, 7]
			out, err = p.fx.GaussianBlur(out, 3+2*rng.IntN(3))
		} else {
			out, err = p.fx.MotionBlur(out, 5)
		}
		if err != nil {
			return nil, err
		}
	}

	if rng.Float64() < 0.7 {
		out, err = p.fx.BrightnessContrast(out, -0.2+rng.Float64()*0.4, -0.2+rng.Float64()*0.4)
		if err != nil {
			return nil, err
		}
	}

	if rng.Float64() < 0.5 {
		out, err = p.fx.HueSaturationValue(out,
			-20+rng.Float64()*40,
			-30+rng.Float64()*60,
			-20+rng.Float64()*40)
		if err != nil {
			return nil, err
		}
	}

	if rng.Float64() < 0.4 {
		out, err = p.fx.Gamma(out, 0.8+rng.Float64()*0.6)
		if err != nil {
			return nil, err
		}
	}

	if rng.Float64() < 0.4 {
		out, err = p.fx.GaussNoise(out, (10+rng.Float64()*40)/255)
		if err != nil {
			return nil, err
		}
	}

	if rng.Float64() < 0.3 {
		out, err = p.fx.CLAHE(out, 2.0)
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}
