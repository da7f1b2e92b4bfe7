package calibrate

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"

	"github.com/biogate/biogate-go/internal/conf"
	"github.com/biogate/biogate-go/internal/datastore"
	"github.com/biogate/biogate-go/internal/errors"
	"github.com/biogate/biogate-go/internal/model"
)

// FaceCalibration bundles the trained classifier with its decision
// thresholds. It is persisted as one atomic model artifact.
type FaceCalibration struct {
	Classifier      model.Classifier
	Classes         []string
	GlobalThreshold float64
	ClassThresholds map[string]float64
}

type splitKey struct {
	origID   string
	username string
}

// CalibrateFace trains the face classifier on a group-aware split of the
// stored population and derives the global and per-class equal-error
// thresholds from the validation partition.
//
// Splitting is by orig_id: each user's non-augmented original ids are
// shuffled and ValPerUser of them held out for validation. Augmented
// embeddings inherit their source's split membership and are used for
// training only, so a synthetic near-duplicate of a held-out sample can
// never leak into training.
func CalibrateFace(rows []datastore.EmbeddingRow, factory model.ClassifierFactory, settings *conf.Settings, rng *rand.Rand, log *slog.Logger) (*FaceCalibration, error) {
	userOrigs := make(map[string][]string)
	seen := make(map[splitKey]bool)
	for _, r := range rows {
		if r.IsAugmented {
			continue
		}
		k := splitKey{r.OrigID, r.Username}
		if !seen[k] {
			seen[k] = true
			userOrigs[r.Username] = append(userOrigs[r.Username], r.OrigID)
		}
	}

	users := make([]string, 0, len(userOrigs))
	for u := range userOrigs {
		users = append(users, u)
	}
	sort.Strings(users)

	valSet := make(map[splitKey]bool)
	trainSet := make(map[splitKey]bool)
	for _, user := range users {
		origs := append([]string(nil), userOrigs[user]...)
		rng.Shuffle(len(origs), func(i, j int) {
			origs[i], origs[j] = origs[j], origs[i]
		})
		n := min(settings.Calibration.ValPerUser, len(origs))
		for _, o := range origs[:n] {
			valSet[splitKey{o, user}] = true
		}
		for _, o := range origs[n:] {
			trainSet[splitKey{o, user}] = true
		}
	}

	var trainX [][]float32
	var trainY []string
	var valX [][]float32
	var valY []string
	for _, r := range rows {
		k := splitKey{r.OrigID, r.Username}
		switch {
		case trainSet[k]:
			trainX = append(trainX, r.Vector)
			trainY = append(trainY, r.Username)
		case valSet[k] && !r.IsAugmented:
			valX = append(valX, r.Vector)
			valY = append(valY, r.Username)
		}
	}

	if len(trainX) == 0 || len(valX) == 0 {
		return nil, errors.Newf("not enough face data after splitting: %d training, %d validation rows", len(trainX), len(valX)).
			Component("calibrate").
			Category(errors.CategoryCalibration).
			Build()
	}

	clf, err := factory.Train(trainX, trainY)
	if err != nil {
		return nil, errors.New(fmt.Errorf("training face classifier: %w", err)).
			Component("calibrate").
			Category(errors.CategoryCalibration).
			Build()
	}
	classes := clf.Classes()

	probs := make([][]float64, len(valX))
	for i, v := range valX {
		p, err := clf.PredictProba(v)
		if err != nil {
			return nil, errors.New(fmt.Errorf("scoring validation row: %w", err)).
				Component("calibrate").
				Category(errors.CategoryCalibration).
				Build()
		}
		probs[i] = p
	}

	classIndex := make(map[string]int, len(classes))
	for i, c := range classes {
		classIndex[c] = i
	}

	// Global threshold: pooled genuine (probability of the true class)
	// against impostor (highest probability among the other classes).
	var labels []int
	var scores []float64
	for i, truth := range valY {
		ti, ok := classIndex[truth]
		if !ok {
			continue
		}
		genuine := probs[i][ti]
		impostor := 0.0
		for j, p := range probs[i] {
			if j != ti && p > impostor {
				impostor = p
			}
		}
		labels = append(labels, 1, 0)
		scores = append(scores, genuine, impostor)
	}

	fpr, tpr, thr := ROCCurve(labels, scores)
	idx := EERIndex(fpr, tpr)
	if idx < 0 {
		return nil, errors.Newf("face calibration produced no usable equal-error point").
			Component("calibrate").
			Category(errors.CategoryCalibration).
			Build()
	}
	global := thr[idx]

	// Per-class thresholds: one-vs-rest over the validation
	// probabilities, capped so a tiny validation slice cannot produce an
	// unreachable threshold.
	thresholdCap := settings.Calibration.ClassThresholdCap
	classThresholds := make(map[string]float64, len(classes))
	for ci, cls := range classes {
		binLabels := make([]int, len(valY))
		clsScores := make([]float64, len(valY))
		for i, truth := range valY {
			if truth == cls {
				binLabels[i] = 1
			}
			clsScores[i] = probs[i][ci]
		}
		cFpr, cTpr, cThr := ROCCurve(binLabels, clsScores)
		cIdx := EERIndex(cFpr, cTpr)
		if cIdx < 0 {
			continue // class absent from validation, falls back to global
		}
		classThresholds[cls] = min(thresholdCap, cThr[cIdx])
	}

	log.Info("face calibration complete",
		"classes", len(classes),
		"training_rows", len(trainX),
		"validation_rows", len(valX),
		"global_threshold", global)

	return &FaceCalibration{
		Classifier:      clf,
		Classes:         classes,
		GlobalThreshold: global,
		ClassThresholds: classThresholds,
	}, nil
}
