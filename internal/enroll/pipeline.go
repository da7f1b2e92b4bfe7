// Package enroll implements the enrollment pipeline: a strictly ordered,
// fail-fast sequence of denoise, augment, embed, retrain and artifact
// replacement, executed as one transaction. On any stage failure the
// persisted state (embedding store, user table, model artifacts) is
// rolled back bit-identical to its pre-enrollment snapshot.
package enroll

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/biogate/biogate-go/internal/artifact"
	"github.com/biogate/biogate-go/internal/augment"
	"github.com/biogate/biogate-go/internal/calibrate"
	"github.com/biogate/biogate-go/internal/conf"
	"github.com/biogate/biogate-go/internal/datastore"
	"github.com/biogate/biogate-go/internal/embedding"
	"github.com/biogate/biogate-go/internal/errors"
	"github.com/biogate/biogate-go/internal/model"
)

// Result is delivered on the channel returned by Start.
type Result struct {
	Username string
	Err      error
}

// Pipeline runs enrollment transactions. One transaction at a time; the
// embedding store is append-only while it runs and bulk-deleted only by
// rollback or explicit user removal.
type Pipeline struct {
	settings  *conf.Settings
	ds        datastore.Interface
	media     *MediaStore
	artifacts *artifact.Store
	collab    model.Collaborators
	log       *slog.Logger
	rng       *rand.Rand

	mu sync.Mutex
}

// txState carries intermediate results between stages of one
// transaction.
type txState struct {
	username    string
	faceSkipped bool
	faceCal     *calibrate.FaceCalibration
	voiceThr    map[string]float64
}

type stage struct {
	name string
	fn   func(ctx context.Context, st *txState) error
}

// NewPipeline wires an enrollment pipeline.
func NewPipeline(settings *conf.Settings, ds datastore.Interface, media *MediaStore, artifacts *artifact.Store, collab model.Collaborators, log *slog.Logger, rng *rand.Rand) *Pipeline {
	return &Pipeline{
		settings:  settings,
		ds:        ds,
		media:     media,
		artifacts: artifacts,
		collab:    collab,
		log:       log,
		rng:       rng,
	}
}

// Start runs the enrollment transaction on a worker goroutine so the
// caller's control path never blocks on biometric work. The outcome is
// delivered on the returned channel.
func (p *Pipeline) Start(ctx context.Context, username string) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		ch <- Result{Username: username, Err: p.Run(ctx, username)}
	}()
	return ch
}

// Run executes the transaction synchronously. Stages run in order and
// each one's writes are durable before the next begins; the first
// failure aborts the remainder and triggers rollback. The pipeline is
// not resumable: a failed enrollment starts over from raw samples.
func (p *Pipeline) Run(ctx context.Context, username string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if username == "" {
		return errors.Newf("enrollment requires a username").
			Component("enroll").
			Category(errors.CategoryValidation).
			Build()
	}

	exists, err := p.ds.UserExists(username)
	if err != nil {
		return err
	}
	if exists {
		return errors.Newf("user %q is already enrolled", username).
			Component("enroll").
			Category(errors.CategoryConflict).
			Build()
	}

	// Write-ahead snapshot of the live artifacts before anything
	// mutates.
	if err := p.artifacts.Backup(); err != nil {
		return err
	}

	st := &txState{username: username}
	stages := []stage{
		{"denoise audio", p.stageDenoiseAudio},
		{"augment audio", p.stageAugmentAudio},
		{"embed audio", p.stageEmbedAudio},
		{"preprocess faces", p.stagePreprocessFaces},
		{"augment faces", p.stageAugmentFaces},
		{"embed faces", p.stageEmbedFaces},
		{"retrain", p.stageRetrain},
		{"replace artifacts", p.stageReplaceArtifacts},
	}

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			p.rollback(username)
			return errors.New(fmt.Errorf("enrollment cancelled before stage %s: %w", s.name, err)).
				Component("enroll").
				Category(errors.CategoryCancellation).
				Context("username", username).
				Build()
		}
		if err := s.fn(ctx, st); err != nil {
			p.log.Error("enrollment stage failed", "username", username, "stage", s.name, "error", err)
			p.rollback(username)
			return errors.New(fmt.Errorf("stage %s: %w", s.name, err)).
				Component("enroll").
				Category(errors.CategoryPipeline).
				Context("username", username).
				Context("stage", s.name).
				Build()
		}
		p.log.Info("enrollment stage complete", "username", username, "stage", s.name)
	}

	// Commit: the new artifacts are live, drop the snapshot and the
	// intermediate media. Only embeddings persist.
	if err := p.artifacts.Discard(); err != nil {
		p.log.Warn("could not discard artifact backups", "error", err)
	}
	if err := p.media.PurgeUser(username); err != nil {
		p.log.Warn("could not purge enrollment media", "username", username, "error", err)
	}

	p.log.Info("enrollment complete", "username", username)
	return nil
}

// rollback restores the pre-enrollment state: the user's rows are
// removed, the media directories purged and the artifacts reverted from
// their backups.
func (p *Pipeline) rollback(username string) {
	if err := p.ds.DeleteUserData(username); err != nil {
		p.log.Error("rollback: deleting user rows failed", "username", username, "error", err)
	}
	if err := p.media.PurgeUser(username); err != nil {
		p.log.Error("rollback: purging media failed", "username", username, "error", err)
	}
	if err := p.artifacts.Restore(); err != nil {
		p.log.Error("rollback: restoring artifacts failed", "error", err)
	}
	if err := p.artifacts.Discard(); err != nil {
		p.log.Error("rollback: discarding backups failed", "error", err)
	}
	p.log.Info("enrollment rolled back", "username", username)
}

func (p *Pipeline) stageDenoiseAudio(ctx context.Context, st *txState) error {
	raws, err := p.media.List(AudioRaw, st.username, ".wav")
	if err != nil {
		return err
	}
	for _, path := range raws {
		s, err := p.media.ReadWav(path)
		if err != nil {
			return err
		}
		cleaned, err := p.collab.Denoiser.Denoise(s.Samples, s.SampleRate)
		if err != nil {
			return fmt.Errorf("denoising %s: %w", path, err)
		}
		out := augment.AudioSample{Samples: cleaned, SampleRate: s.SampleRate}
		if err := p.media.WriteWav(AudioCleaned, st.username, Stem(path)+".wav", out); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) stageAugmentAudio(ctx context.Context, st *txState) error {
	cleaned, err := p.media.List(AudioCleaned, st.username, ".wav")
	if err != nil {
		return err
	}

	perturber := augment.NewAudioPerturber(p.collab.AudioEffects)
	filter := augment.NewFilter(p.settings, augment.Hooks[augment.AudioSample]{
		Perturb: perturber.Perturb,
		Embed: func(s augment.AudioSample) ([]float32, error) {
			return p.collab.VoiceEmbedder.Embed(s.Samples, s.SampleRate)
		},
	}, 0, embedding.Cosine, p.log)

	// Both synthetic files from this run and synthetic rows already in
	// the store count against the per-user cap.
	existing, err := p.media.List(AudioAugmented, st.username, ".wav")
	if err != nil {
		return err
	}
	stored, err := p.ds.CountAugmented(st.username, datastore.ModalityVoice)
	if err != nil {
		return err
	}
	augCount := len(existing) + int(stored)

	for _, path := range cleaned {
		s, err := p.media.ReadWav(path)
		if err != nil {
			return err
		}
		ref, err := p.collab.VoiceEmbedder.Embed(s.Samples, s.SampleRate)
		if err != nil {
			p.log.Warn("could not embed original clip, skipping augmentation", "path", path, "error", err)
			continue
		}

		origID := Stem(path)
		res := filter.Run(p.rng, s, ref, origID, p.settings.Augment.MaxPerUser-augCount)
		for i, v := range res.Accepted {
			name := fmt.Sprintf("%s_aug%d.wav", origID, i+1)
			if err := p.media.WriteWav(AudioAugmented, st.username, name, v.Sample); err != nil {
				return err
			}
		}
		augCount += len(res.Accepted)

		if len(res.Accepted) < p.settings.Augment.NAug {
			p.log.Warn("fewer augments passed than requested",
				"orig_id", origID,
				"accepted", len(res.Accepted),
				"requested", p.settings.Augment.NAug,
				"tries", res.Tries)
		}
	}
	return nil
}

func (p *Pipeline) stageEmbedAudio(ctx context.Context, st *txState) error {
	return p.embedStage(st, AudioCleaned, AudioAugmented, ".wav", datastore.ModalityVoice,
		func(path string) ([]float32, error) {
			s, err := p.media.ReadWav(path)
			if err != nil {
				return nil, err
			}
			return p.collab.VoiceEmbedder.Embed(s.Samples, s.SampleRate)
		})
}

func (p *Pipeline) stagePreprocessFaces(ctx context.Context, st *txState) error {
	raws, err := p.media.List(FaceRaw, st.username, ".jpg")
	if err != nil {
		return err
	}
	for _, path := range raws {
		data, err := p.media.ReadFile(path)
		if err != nil {
			return err
		}
		crop, ok, err := p.collab.FacePreprocessor.Process(data)
		if err != nil {
			return fmt.Errorf("preprocessing %s: %w", path, err)
		}
		if !ok {
			p.log.Warn("no face in image, skipping", "path", path)
			continue
		}
		if err := p.media.WriteFile(FaceProcessed, st.username, Stem(path)+".jpg", crop); err != nil {
			return err
		}
	}

	processed, err := p.media.List(FaceProcessed, st.username, ".jpg")
	if err != nil {
		return err
	}
	if len(processed) == 0 {
		// Audio-only enrollment proceeds; the face path alone is
		// abandoned for this user.
		st.faceSkipped = true
		p.log.Warn("no face-bearing images after preprocessing, continuing audio-only", "username", st.username)
	}
	return nil
}

func (p *Pipeline) stageAugmentFaces(ctx context.Context, st *txState) error {
	if st.faceSkipped {
		return nil
	}
	processed, err := p.media.List(FaceProcessed, st.username, ".jpg")
	if err != nil {
		return err
	}

	perturber := augment.NewFacePerturber(p.collab.ImageEffects)
	filter := augment.NewFilter(p.settings, augment.Hooks[[]byte]{
		Perturb: perturber.Perturb,
		Embed:   p.collab.FaceEmbedder.Embed,
	}, p.settings.Augment.FallbackKeep, embedding.Cosine, p.log)

	existing, err := p.media.List(FaceAugmented, st.username, ".jpg")
	if err != nil {
		return err
	}
	stored, err := p.ds.CountAugmented(st.username, datastore.ModalityFace)
	if err != nil {
		return err
	}
	augCount := len(existing) + int(stored)

	for _, path := range processed {
		data, err := p.media.ReadFile(path)
		if err != nil {
			return err
		}
		ref, err := p.collab.FaceEmbedder.Embed(data)
		if err != nil {
			p.log.Warn("could not embed original image, skipping augmentation", "path", path, "error", err)
			continue
		}

		origID := Stem(path)
		res := filter.Run(p.rng, data, ref, origID, p.settings.Augment.MaxPerUser-augCount)
		for i, v := range res.Accepted {
			name := fmt.Sprintf("%s_aug%d.jpg", origID, i+1)
			if err := p.media.WriteFile(FaceAugmented, st.username, name, v.Sample); err != nil {
				return err
			}
		}
		augCount += len(res.Accepted)

		p.log.Info("face augmentation finished for image",
			"orig_id", origID,
			"kept", len(res.Accepted),
			"requested", p.settings.Augment.NAug,
			"tries", res.Tries,
			"fallback", res.Fallback)
	}
	return nil
}

func (p *Pipeline) stageEmbedFaces(ctx context.Context, st *txState) error {
	if st.faceSkipped {
		return nil
	}
	return p.embedStage(st, FaceProcessed, FaceAugmented, ".jpg", datastore.ModalityFace,
		func(path string) ([]float32, error) {
			data, err := p.media.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return p.collab.FaceEmbedder.Embed(data)
		})
}

// embedStage persists embeddings for one modality: every original first,
// then every synthetic variant whose source was successfully embedded,
// so augmented lineage is never orphaned. Extraction failures skip the
// sample without aborting the batch.
func (p *Pipeline) embedStage(st *txState, origKind, augKind Kind, ext, modality string, embed func(path string) ([]float32, error)) error {
	originals, err := p.media.List(origKind, st.username, ext)
	if err != nil {
		return err
	}
	persisted := make(map[string]bool)
	for _, path := range originals {
		vec, err := embed(path)
		if err != nil {
			p.log.Warn("embedding failed, sample skipped", "path", path, "error", err)
			continue
		}
		origID := Stem(path)
		if err := p.ds.SaveEmbedding(st.username, modality, origID, false, vec); err != nil {
			return err
		}
		persisted[origID] = true
	}

	augmented, err := p.media.List(augKind, st.username, ext)
	if err != nil {
		return err
	}
	for _, path := range augmented {
		origID := OrigID(Stem(path))
		if !persisted[origID] {
			p.log.Warn("dropping variant with no persisted original", "path", path, "orig_id", origID)
			continue
		}
		vec, err := embed(path)
		if err != nil {
			p.log.Warn("embedding failed, variant skipped", "path", path, "error", err)
			continue
		}
		if err := p.ds.SaveEmbedding(st.username, modality, origID, true, vec); err != nil {
			return err
		}
	}
	return nil
}

// stageRetrain recomputes both classifiers and all thresholds on the
// full embedding store, not just the new user: multi-class face
// classification and the impostor pool depend on the whole population.
func (p *Pipeline) stageRetrain(ctx context.Context, st *txState) error {
	rows, err := p.ds.EmbeddingRows(datastore.ModalityFace)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		cal, err := calibrate.CalibrateFace(rows, p.collab.ClassifierFactory, p.settings, p.rng, p.log)
		if err != nil {
			return err
		}
		st.faceCal = cal
	} else {
		p.log.Warn("no face embeddings stored, face model not trained")
	}

	thr, err := calibrate.ComputeVoiceThresholds(p.ds, p.log)
	if err != nil {
		return err
	}
	st.voiceThr = thr
	return nil
}

func (p *Pipeline) stageReplaceArtifacts(ctx context.Context, st *txState) error {
	if err := p.artifacts.SaveVoice(&artifact.Voice{UserThresholds: st.voiceThr}); err != nil {
		return err
	}
	if st.faceCal != nil {
		blob, err := st.faceCal.Classifier.MarshalBinary()
		if err != nil {
			return fmt.Errorf("serializing face classifier: %w", err)
		}
		return p.artifacts.SaveFace(&artifact.Face{
			ClassifierBlob:  blob,
			Classes:         st.faceCal.Classes,
			GlobalThreshold: st.faceCal.GlobalThreshold,
			ClassThresholds: st.faceCal.ClassThresholds,
		})
	}
	return nil
}
