// conf/validate.go settings validation
package conf

import (
	"github.com/biogate/biogate-go/internal/errors"
)

// ValidateSettings checks that the loaded settings are internally
// consistent. It is called once at startup, before any component sees
// the settings value.
func ValidateSettings(s *Settings) error {
	if s.Main.DataDir == "" {
		return validationError("main.datadir must not be empty")
	}
	if s.Database.Path == "" {
		return validationError("database.path must not be empty")
	}

	a := &s.Augment
	switch {
	case a.LowSim <= 0 || a.LowSim >= 1:
		return validationError("augment.lowsim must be in (0, 1)")
	case a.HighSim <= a.LowSim || a.HighSim > 1:
		return validationError("augment.highsim must be in (lowsim, 1]")
	case a.NAug < 1:
		return validationError("augment.naug must be at least 1")
	case a.MaxTries < a.NAug:
		return validationError("augment.maxtries must be at least augment.naug")
	case a.MaxPerUser < 1:
		return validationError("augment.maxperuser must be at least 1")
	case a.FallbackKeep < 0:
		return validationError("augment.fallbackkeep must not be negative")
	}

	c := &s.Calibration
	switch {
	case c.ValPerUser < 1:
		return validationError("calibration.valperuser must be at least 1")
	case c.ClassThresholdCap <= 0 || c.ClassThresholdCap > 1:
		return validationError("calibration.classthresholdcap must be in (0, 1]")
	}

	v := &s.Voice
	switch {
	case v.SampleRate <= 0:
		return validationError("voice.samplerate must be positive")
	case v.Dimension <= 0:
		return validationError("voice.dimension must be positive")
	case v.RequiredSpeech <= 0:
		return validationError("voice.requiredspeech must be positive")
	case v.MinSegmentMs < 0:
		return validationError("voice.minsegmentms must not be negative")
	case v.BlockMs <= 0:
		return validationError("voice.blockms must be positive")
	case v.DefaultMargin < 0 || v.DefaultMargin > 1:
		return validationError("voice.defaultmargin must be in [0, 1]")
	}

	f := &s.Face
	switch {
	case f.Dimension <= 0:
		return validationError("face.dimension must be positive")
	case f.OutputSize <= 0:
		return validationError("face.outputsize must be positive")
	case f.RequiredStable < 1:
		return validationError("face.requiredstable must be at least 1")
	case f.PosTol <= 0 || f.SizeTol <= 0:
		return validationError("face.postol and face.sizetol must be positive")
	case f.PollHz <= 0:
		return validationError("face.pollhz must be positive")
	case f.FrameScale <= 0 || f.FrameScale > 1:
		return validationError("face.framescale must be in (0, 1]")
	}

	return nil
}

func validationError(msg string) error {
	return errors.Newf("%s", msg).
		Component("conf").
		Category(errors.CategoryValidation).
		Build()
}
