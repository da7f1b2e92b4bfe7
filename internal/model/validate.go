package model

import "github.com/biogate/biogate-go/internal/errors"

// RequireEnrollment verifies every collaborator the enrollment pipeline
// needs is wired.
func (c *Collaborators) RequireEnrollment() error {
	missing := ""
	switch {
	case c.Denoiser == nil:
		missing = "denoiser"
	case c.VoiceEmbedder == nil:
		missing = "voice embedder"
	case c.FacePreprocessor == nil:
		missing = "face preprocessor"
	case c.FaceEmbedder == nil:
		missing = "face embedder"
	case c.AudioEffects == nil:
		missing = "audio effects"
	case c.ImageEffects == nil:
		missing = "image effects"
	case c.ClassifierFactory == nil:
		missing = "classifier factory"
	}
	if missing == "" {
		return nil
	}
	return missingCollaborator(missing)
}

// RequireAuthentication verifies every collaborator the verification
// session needs is wired.
func (c *Collaborators) RequireAuthentication() error {
	missing := ""
	switch {
	case c.FrameAnalyzer == nil:
		missing = "frame analyzer"
	case c.VoiceEmbedder == nil:
		missing = "voice embedder"
	case c.VAD == nil:
		missing = "voice activity detector"
	case c.ClassifierFactory == nil:
		missing = "classifier factory"
	case c.NewCamera == nil:
		missing = "camera factory"
	case c.NewAudioStream == nil:
		missing = "audio stream factory"
	}
	if missing == "" {
		return nil
	}
	return missingCollaborator(missing)
}

// RequireCalibration verifies the collaborators threshold recomputation
// needs.
func (c *Collaborators) RequireCalibration() error {
	if c.ClassifierFactory == nil {
		return missingCollaborator("classifier factory")
	}
	return nil
}

func missingCollaborator(name string) error {
	return errors.Newf("no %s is wired, this build cannot run the requested operation", name).
		Component("model").
		Category(errors.CategoryConfiguration).
		Build()
}
