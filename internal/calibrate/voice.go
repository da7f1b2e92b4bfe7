package calibrate

import (
	"log/slog"

	"github.com/biogate/biogate-go/internal/datastore"
	"github.com/biogate/biogate-go/internal/embedding"
)

// ComputeVoiceThresholds derives one equal-error similarity threshold
// per user from the stored voice embeddings. Users with fewer than two
// embeddings cannot form a genuine pair and are silently skipped; they
// fall back to the configured default margin at verification time.
func ComputeVoiceThresholds(ds datastore.Interface, log *slog.Logger) (map[string]float64, error) {
	users, err := ds.AllUsernames()
	if err != nil {
		return nil, err
	}

	thresholds := make(map[string]float64)
	for _, user := range users {
		embs, err := ds.Embeddings(user, datastore.ModalityVoice)
		if err != nil {
			return nil, err
		}
		if len(embs) < 2 {
			log.Debug("skipping user in voice calibration", "username", user, "embeddings", len(embs))
			continue
		}

		// Genuine: every unordered pair of the user's own embeddings.
		var genuine []float64
		for i := range embs {
			for j := i + 1; j < len(embs); j++ {
				genuine = append(genuine, embedding.Cosine(embs[i], embs[j]))
			}
		}

		// Impostor: the user's first embedding against every embedding
		// of every other user.
		var impostor []float64
		for _, other := range users {
			if other == user {
				continue
			}
			otherEmbs, err := ds.Embeddings(other, datastore.ModalityVoice)
			if err != nil {
				return nil, err
			}
			for _, e := range otherEmbs {
				impostor = append(impostor, embedding.Cosine(embs[0], e))
			}
		}

		labels := make([]int, 0, len(genuine)+len(impostor))
		scores := make([]float64, 0, len(genuine)+len(impostor))
		for _, s := range genuine {
			labels = append(labels, 1)
			scores = append(scores, s)
		}
		for _, s := range impostor {
			labels = append(labels, 0)
			scores = append(scores, s)
		}

		fpr, tpr, thr := ROCCurve(labels, scores)
		idx := EERIndex(fpr, tpr)
		if idx < 0 {
			// No impostor pool yet (first enrolled user): accept the
			// weakest genuine pair as the threshold.
			t := genuine[0]
			for _, s := range genuine[1:] {
				if s < t {
					t = s
				}
			}
			thresholds[user] = t
			log.Info("voice threshold from genuine floor", "username", user, "threshold", t)
			continue
		}

		thresholds[user] = thr[idx]
		log.Info("voice threshold calibrated", "username", user, "threshold", thr[idx],
			"genuine_pairs", len(genuine), "impostor_pairs", len(impostor))
	}

	return thresholds, nil
}
