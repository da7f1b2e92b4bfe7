package enroll

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biogate/biogate-go/internal/artifact"
	"github.com/biogate/biogate-go/internal/augment"
	"github.com/biogate/biogate-go/internal/classify"
	"github.com/biogate/biogate-go/internal/conf"
	"github.com/biogate/biogate-go/internal/datastore"
	"github.com/biogate/biogate-go/internal/errors"
	"github.com/biogate/biogate-go/internal/model"
)

// fakes bundles the mutable failure switches shared by all fake
// collaborators of one test environment.
type fakes struct {
	denoiseErr error
	preErr     error
	preNoFace  bool
	trainErr   error
	marshalErr error

	// non-nil overrides replace the default fixed-vector embedders
	voiceEmbed func([]float32, int) ([]float32, error)
	faceEmbed  func([]byte) ([]float32, error)
}

type fakeDenoiser struct{ f *fakes }

func (d fakeDenoiser) Denoise(s []float32, sr int) ([]float32, error) {
	if d.f.denoiseErr != nil {
		return nil, d.f.denoiseErr
	}
	return s, nil
}

type fakePreprocessor struct{ f *fakes }

func (p fakePreprocessor) Process(img []byte) ([]byte, bool, error) {
	if p.f.preErr != nil {
		return nil, false, p.f.preErr
	}
	if p.f.preNoFace {
		return nil, false, nil
	}
	return img, true, nil
}

type voiceEmbedFunc func([]float32, int) ([]float32, error)

func (f voiceEmbedFunc) Embed(s []float32, sr int) ([]float32, error) { return f(s, sr) }

type faceEmbedFunc func([]byte) ([]float32, error)

func (f faceEmbedFunc) Embed(img []byte) ([]float32, error) { return f(img) }

type identityAudioFX struct{}

func (identityAudioFX) TimeStretch(s []float32, rate float64) []float32 {
	return append([]float32(nil), s...)
}

func (identityAudioFX) PitchShift(s []float32, sr int, semitones float64) []float32 {
	return append([]float32(nil), s...)
}

type identityImageFX struct{}

func (identityImageFX) Affine(img []byte, p model.AffineParams) ([]byte, error) { return cp(img), nil }
func (identityImageFX) OpticalDistortion(img []byte, limit float64) ([]byte, error) {
	return cp(img), nil
}
func (identityImageFX) GridDistortion(img []byte, steps int, limit float64) ([]byte, error) {
	return cp(img), nil
}
func (identityImageFX) ElasticTransform(img []byte, alpha, sigma float64) ([]byte, error) {
	return cp(img), nil
}
func (identityImageFX) GaussianBlur(img []byte, kernel int) ([]byte, error) { return cp(img), nil }
func (identityImageFX) MotionBlur(img []byte, kernel int) ([]byte, error)   { return cp(img), nil }
func (identityImageFX) BrightnessContrast(img []byte, b, c float64) ([]byte, error) {
	return cp(img), nil
}
func (identityImageFX) HueSaturationValue(img []byte, h, s, v float64) ([]byte, error) {
	return cp(img), nil
}
func (identityImageFX) Gamma(img []byte, gamma float64) ([]byte, error)       { return cp(img), nil }
func (identityImageFX) GaussNoise(img []byte, stddev float64) ([]byte, error) { return cp(img), nil }
func (identityImageFX) CLAHE(img []byte, clipLimit float64) ([]byte, error)   { return cp(img), nil }

func cp(b []byte) []byte { return append([]byte(nil), b...) }

type fakeFactory struct{ f *fakes }

func (ff fakeFactory) Train(vectors [][]float32, labels []string) (model.Classifier, error) {
	if ff.f.trainErr != nil {
		return nil, ff.f.trainErr
	}
	clf, err := classify.Factory{}.Train(vectors, labels)
	if err != nil {
		return nil, err
	}
	if ff.f.marshalErr != nil {
		return brokenMarshalClassifier{Classifier: clf, err: ff.f.marshalErr}, nil
	}
	return clf, nil
}

// brokenMarshalClassifier trains and scores normally but cannot be
// serialized, failing enrollment at artifact replacement.
type brokenMarshalClassifier struct {
	model.Classifier
	err error
}

func (c brokenMarshalClassifier) MarshalBinary() ([]byte, error) { return nil, c.err }

func (ff fakeFactory) UnmarshalBinary(data []byte) (model.Classifier, error) {
	return classify.Factory{}.UnmarshalBinary(data)
}

type env struct {
	settings  *conf.Settings
	ds        datastore.Interface
	media     *MediaStore
	artifacts *artifact.Store
	fakes     *fakes
	pipeline  *Pipeline
}

func newEnv(t *testing.T) *env {
	t.Helper()

	s := &conf.Settings{}
	s.Main.DataDir = t.TempDir()
	s.Database.Path = "biogate.db"
	s.Augment = conf.AugmentSettings{
		LowSim: 0.85, HighSim: 0.99, NAug: 2, MaxTries: 3, MaxPerUser: 25, FallbackKeep: 2,
	}
	s.Calibration = conf.CalibrationSettings{ValPerUser: 1, ClassThresholdCap: 0.95, Seed: 42}
	s.Voice.Dimension = 4
	s.Voice.SampleRate = 16000
	s.Face.Dimension = 4

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ds := datastore.New(s)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { ds.Close() })

	artifacts, err := artifact.NewStore(s.ModelsDir(), log)
	require.NoError(t, err)

	f := &fakes{}
	collab := model.Collaborators{
		Denoiser:         fakeDenoiser{f},
		FacePreprocessor: fakePreprocessor{f},
		FaceEmbedder: faceEmbedFunc(func(img []byte) ([]float32, error) {
			if f.faceEmbed != nil {
				return f.faceEmbed(img)
			}
			return []float32{0, 1, 0, 0}, nil
		}),
		VoiceEmbedder: voiceEmbedFunc(func(s []float32, sr int) ([]float32, error) {
			if f.voiceEmbed != nil {
				return f.voiceEmbed(s, sr)
			}
			return []float32{1, 0, 0, 0}, nil
		}),
		AudioEffects:      identityAudioFX{},
		ImageEffects:      identityImageFX{},
		ClassifierFactory: fakeFactory{f},
	}

	media := NewMediaStore(s.MediaDir())
	rng := rand.New(rand.NewPCG(42, 42))

	return &env{
		settings:  s,
		ds:        ds,
		media:     media,
		artifacts: artifacts,
		fakes:     f,
		pipeline:  NewPipeline(s, ds, media, artifacts, collab, log, rng),
	}
}

// stageSamples writes two raw clips and two raw images for a user.
func (e *env) stageSamples(t *testing.T, username string) {
	t.Helper()
	clip := augment.AudioSample{Samples: make([]float32, 1600), SampleRate: 16000}
	for i := range clip.Samples {
		clip.Samples[i] = 0.1
	}
	require.NoError(t, e.media.WriteWav(AudioRaw, username, "clip1.wav", clip))
	require.NoError(t, e.media.WriteWav(AudioRaw, username, "clip2.wav", clip))
	require.NoError(t, e.media.WriteFile(FaceRaw, username, "img1.jpg", []byte("image-one")))
	require.NoError(t, e.media.WriteFile(FaceRaw, username, "img2.jpg", []byte("image-two")))
}

func modelFiles(t *testing.T, e *env) map[string][]byte {
	t.Helper()
	entries, err := os.ReadDir(e.settings.ModelsDir())
	require.NoError(t, err)
	out := make(map[string][]byte)
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(e.settings.ModelsDir(), entry.Name()))
		require.NoError(t, err)
		out[entry.Name()] = data
	}
	return out
}

func TestPipelineRun(t *testing.T) {
	t.Run("successful enrollment", func(t *testing.T) {
		e := newEnv(t)
		e.stageSamples(t, "alice")

		require.NoError(t, e.pipeline.Run(context.Background(), "alice"))

		exists, err := e.ds.UserExists("alice")
		require.NoError(t, err)
		assert.True(t, exists)

		voice, err := e.ds.Embeddings("alice", datastore.ModalityVoice)
		require.NoError(t, err)
		assert.Len(t, voice, 2, "one voiceprint per clip, identical variants are near-duplicates")

		// The fixed face embedder makes every variant a near-duplicate,
		// so each image keeps its two fallback variants.
		augmented, err := e.ds.CountAugmented("alice", datastore.ModalityFace)
		require.NoError(t, err)
		assert.EqualValues(t, 4, augmented)

		_, err = e.artifacts.LoadFace()
		assert.NoError(t, err)
		voiceArt, err := e.artifacts.LoadVoice()
		require.NoError(t, err)
		assert.Contains(t, voiceArt.UserThresholds, "alice")

		// Media is intermediate and gone after commit, backups dropped.
		for _, kind := range AllKinds() {
			paths, err := e.media.List(kind, "alice", "")
			require.NoError(t, err)
			assert.Empty(t, paths, "kind %s", kind)
		}
		baks, err := filepath.Glob(filepath.Join(e.settings.ModelsDir(), "*.bak"))
		require.NoError(t, err)
		assert.Empty(t, baks)
	})

	t.Run("duplicate enrollment is rejected", func(t *testing.T) {
		e := newEnv(t)
		e.stageSamples(t, "alice")
		require.NoError(t, e.pipeline.Run(context.Background(), "alice"))

		err := e.pipeline.Run(context.Background(), "alice")
		require.Error(t, err)
		assert.True(t, errors.HasCategory(err, errors.CategoryConflict))
	})

	t.Run("failure at any stage rolls back to the pre-enrollment state", func(t *testing.T) {
		arm := map[string]func(t *testing.T, e *env){
			"denoise audio": func(t *testing.T, e *env) {
				e.fakes.denoiseErr = errors.NewStd("filter blew up")
			},
			"augment audio": func(t *testing.T, e *env) {
				// A cleaned file that is not a WAV fails the stage's decode.
				require.NoError(t, e.media.WriteFile(AudioCleaned, "bob", "junk.wav", []byte("not a wav")))
			},
			"embed audio": func(t *testing.T, e *env) {
				// Wrong-dimension voiceprints are refused by the store.
				e.fakes.voiceEmbed = func([]float32, int) ([]float32, error) {
					return []float32{1, 0, 0}, nil
				}
			},
			"preprocess faces": func(t *testing.T, e *env) {
				e.fakes.preErr = errors.NewStd("detector crashed")
			},
			"augment faces": func(t *testing.T, e *env) {
				// A file squatting on the stage directory fails its listing.
				dir := e.media.Dir(FaceAugmented, "bob")
				require.NoError(t, os.MkdirAll(filepath.Dir(dir), 0o755))
				require.NoError(t, os.WriteFile(dir, []byte("squatter"), 0o644))
			},
			"embed faces": func(t *testing.T, e *env) {
				e.fakes.faceEmbed = func([]byte) ([]float32, error) {
					return []float32{0, 1, 0}, nil
				}
			},
			"retrain": func(t *testing.T, e *env) {
				e.fakes.trainErr = errors.NewStd("solver diverged")
			},
			"replace artifacts": func(t *testing.T, e *env) {
				e.fakes.marshalErr = errors.NewStd("serialization broke")
			},
		}

		for stage, inject := range arm {
			t.Run(stage, func(t *testing.T) {
				e := newEnv(t)
				e.stageSamples(t, "alice")
				require.NoError(t, e.pipeline.Run(context.Background(), "alice"))
				snapshot := modelFiles(t, e)

				e.stageSamples(t, "bob")
				inject(t, e)

				err := e.pipeline.Run(context.Background(), "bob")
				require.Error(t, err)
				assert.True(t, errors.HasCategory(err, errors.CategoryPipeline))

				var ee *errors.EnhancedError
				require.True(t, errors.As(err, &ee))
				assert.Equal(t, stage, ee.GetContext()["stage"])

				exists, err := e.ds.UserExists("bob")
				require.NoError(t, err)
				assert.False(t, exists, "bob's partial rows must be gone")

				assert.Equal(t, snapshot, modelFiles(t, e), "artifacts must be bit-identical")

				for _, kind := range AllKinds() {
					paths, err := e.media.List(kind, "bob", "")
					require.NoError(t, err)
					assert.Empty(t, paths, "kind %s", kind)
				}

				// The prior enrollment is untouched.
				voice, err := e.ds.Embeddings("alice", datastore.ModalityVoice)
				require.NoError(t, err)
				assert.Len(t, voice, 2)
			})
		}
	})

	t.Run("retrain failure rolls back too", func(t *testing.T) {
		e := newEnv(t)
		e.stageSamples(t, "alice")
		e.fakes.trainErr = errors.NewStd("solver diverged")

		err := e.pipeline.Run(context.Background(), "alice")
		require.Error(t, err)

		exists, err := e.ds.UserExists("alice")
		require.NoError(t, err)
		assert.False(t, exists)
		assert.Empty(t, modelFiles(t, e))
	})

	t.Run("first enrollment failure leaves no artifacts behind", func(t *testing.T) {
		e := newEnv(t)
		e.stageSamples(t, "alice")
		e.fakes.preErr = errors.NewStd("detector crashed")

		require.Error(t, e.pipeline.Run(context.Background(), "alice"))
		assert.Empty(t, modelFiles(t, e))
	})

	t.Run("no detectable faces degrades to audio only", func(t *testing.T) {
		e := newEnv(t)
		e.stageSamples(t, "alice")
		e.fakes.preNoFace = true

		require.NoError(t, e.pipeline.Run(context.Background(), "alice"))

		faces, err := e.ds.Embeddings("alice", datastore.ModalityFace)
		require.NoError(t, err)
		assert.Empty(t, faces)

		_, err = e.artifacts.LoadFace()
		assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
		_, err = e.artifacts.LoadVoice()
		assert.NoError(t, err)
	})

	t.Run("cancelled context aborts and rolls back", func(t *testing.T) {
		e := newEnv(t)
		e.stageSamples(t, "alice")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := e.pipeline.Run(ctx, "alice")
		require.Error(t, err)
		assert.True(t, errors.HasCategory(err, errors.CategoryCancellation))

		exists, err := e.ds.UserExists("alice")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("stored synthetic rows count against the augmentation cap", func(t *testing.T) {
		// Scripted embedder: the original sits on the reference axis and
		// every variant lands inside the band, so augments are accepted
		// whenever budget remains.
		bandEmbedder := func() func([]float32, int) ([]float32, error) {
			calls := 0
			return func([]float32, int) ([]float32, error) {
				calls++
				if calls == 1 {
					return []float32{1, 0, 0, 0}, nil
				}
				return []float32{0.9, 0.43589, 0, 0}, nil
			}
		}
		clip := augment.AudioSample{Samples: make([]float32, 1600), SampleRate: 16000}
		for i := range clip.Samples {
			clip.Samples[i] = 0.1
		}

		e := newEnv(t)
		e.fakes.voiceEmbed = bandEmbedder()
		require.NoError(t, e.media.WriteWav(AudioCleaned, "bob", "clip1.wav", clip))

		require.NoError(t, e.pipeline.stageAugmentAudio(context.Background(), &txState{username: "bob"}))
		paths, err := e.media.List(AudioAugmented, "bob", ".wav")
		require.NoError(t, err)
		assert.Len(t, paths, e.settings.Augment.NAug)

		// Same embedder, but the cap is already consumed by persisted
		// rows: nothing may be added.
		e2 := newEnv(t)
		e2.fakes.voiceEmbed = bandEmbedder()
		for range e2.settings.Augment.MaxPerUser {
			require.NoError(t, e2.ds.SaveEmbedding("carol", datastore.ModalityVoice, "seed", true, []float32{1, 0, 0, 0}))
		}
		require.NoError(t, e2.media.WriteWav(AudioCleaned, "carol", "clip1.wav", clip))

		require.NoError(t, e2.pipeline.stageAugmentAudio(context.Background(), &txState{username: "carol"}))
		paths, err = e2.media.List(AudioAugmented, "carol", ".wav")
		require.NoError(t, err)
		assert.Empty(t, paths)
	})

	t.Run("empty username is rejected", func(t *testing.T) {
		e := newEnv(t)
		err := e.pipeline.Run(context.Background(), "")
		require.Error(t, err)
		assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
	})
}
