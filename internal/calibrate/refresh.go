package calibrate

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/biogate/biogate-go/internal/artifact"
	"github.com/biogate/biogate-go/internal/conf"
	"github.com/biogate/biogate-go/internal/datastore"
	"github.com/biogate/biogate-go/internal/model"
)

// Summary describes the result of one full recalibration.
type Summary struct {
	VoiceThresholds map[string]float64
	FaceTrained     bool
	FaceClasses     []string
	GlobalThreshold float64
	ClassThresholds map[string]float64
}

// Refresh recomputes every threshold and the face classifier from the
// embedding store and replaces the live artifacts. When no face
// embeddings exist the face artifact is removed rather than left stale.
func Refresh(ds datastore.Interface, store *artifact.Store, factory model.ClassifierFactory, settings *conf.Settings, rng *rand.Rand, log *slog.Logger) (*Summary, error) {
	sum := &Summary{}

	rows, err := ds.EmbeddingRows(datastore.ModalityFace)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		cal, err := CalibrateFace(rows, factory, settings, rng, log)
		if err != nil {
			return nil, err
		}
		blob, err := cal.Classifier.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("serializing face classifier: %w", err)
		}
		if err := store.SaveFace(&artifact.Face{
			ClassifierBlob:  blob,
			Classes:         cal.Classes,
			GlobalThreshold: cal.GlobalThreshold,
			ClassThresholds: cal.ClassThresholds,
		}); err != nil {
			return nil, err
		}
		sum.FaceTrained = true
		sum.FaceClasses = cal.Classes
		sum.GlobalThreshold = cal.GlobalThreshold
		sum.ClassThresholds = cal.ClassThresholds
	} else {
		if err := store.RemoveFace(); err != nil {
			return nil, err
		}
		log.Info("no face embeddings stored, face artifact removed")
	}

	thr, err := ComputeVoiceThresholds(ds, log)
	if err != nil {
		return nil, err
	}
	if err := store.SaveVoice(&artifact.Voice{UserThresholds: thr}); err != nil {
		return nil, err
	}
	sum.VoiceThresholds = thr

	return sum, nil
}
