package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/biogate/biogate-go/internal/artifact"
	"github.com/biogate/biogate-go/internal/conf"
	"github.com/biogate/biogate-go/internal/datastore"
	"github.com/biogate/biogate-go/internal/errors"
	"github.com/biogate/biogate-go/internal/model"
)

// authCfg is the shared knob set for one environment's fakes.
type authCfg struct {
	faceProb     float64
	voiceVec     []float32
	camErr       error
	noFaceFrames int
	silence      bool
}

type fakeClassifier struct{ cfg *authCfg }

func (c fakeClassifier) Classes() []string { return []string{"alice"} }
func (c fakeClassifier) PredictProba(v []float32) ([]float64, error) {
	return []float64{c.cfg.faceProb}, nil
}
func (c fakeClassifier) MarshalBinary() ([]byte, error) { return []byte("fake"), nil }

type fakeAuthFactory struct{ cfg *authCfg }

func (f fakeAuthFactory) Train(vectors [][]float32, labels []string) (model.Classifier, error) {
	return fakeClassifier{f.cfg}, nil
}
func (f fakeAuthFactory) UnmarshalBinary(data []byte) (model.Classifier, error) {
	return fakeClassifier{f.cfg}, nil
}

type fakeCamera struct{ cfg *authCfg }

func (c fakeCamera) ReadFrame() (model.Frame, error) {
	if c.cfg.camErr != nil {
		return model.Frame{}, c.cfg.camErr
	}
	return model.Frame{Data: []byte("frame"), Width: 640, Height: 480}, nil
}
func (c fakeCamera) Release() error { return nil }

type fakeAnalyzer struct {
	cfg   *authCfg
	calls int
}

func (a *fakeAnalyzer) Detect(f model.Frame) (model.Box, bool) {
	a.calls++
	if a.calls <= a.cfg.noFaceFrames {
		return model.Box{}, false
	}
	return model.Box{Top: 100, Right: 300, Bottom: 300, Left: 100}, true
}

func (a *fakeAnalyzer) Embed(f model.Frame, box model.Box) ([]float32, error) {
	return []float32{0, 1, 0, 0}, nil
}

type fakeStream struct{ cfg *authCfg }

func (s fakeStream) ReadBlock() ([]float32, error) {
	time.Sleep(time.Millisecond)
	block := make([]float32, 480)
	for i := range block {
		block[i] = 0.5
	}
	return block, nil
}
func (s fakeStream) Close() error { return nil }

type fakeVAD struct{ cfg *authCfg }

func (v fakeVAD) IsSpeech(block []float32, sampleRate int) bool { return !v.cfg.silence }

type voiceEmbedFunc func([]float32, int) ([]float32, error)

func (f voiceEmbedFunc) Embed(s []float32, sr int) ([]float32, error) { return f(s, sr) }

type authEnv struct {
	cfg     *authCfg
	session *Session
	ds      datastore.Interface
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()

	s := &conf.Settings{}
	s.Main.DataDir = t.TempDir()
	s.Database.Path = "biogate.db"
	s.Voice = conf.VoiceSettings{
		SampleRate: 16000, Dimension: 4, RequiredSpeech: 0.06,
		MinSegmentMs: 30, BlockMs: 30, DefaultMargin: 0.2,
	}
	s.Face = conf.FaceSettings{
		Dimension: 4, RequiredStable: 3, PosTol: 20, SizeTol: 20, PollHz: 500,
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ds := datastore.New(s)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { ds.Close() })
	require.NoError(t, ds.SaveEmbedding("alice", datastore.ModalityVoice, "c1", false, []float32{1, 0, 0, 0}))

	artifacts, err := artifact.NewStore(s.ModelsDir(), log)
	require.NoError(t, err)
	require.NoError(t, artifacts.SaveFace(&artifact.Face{
		ClassifierBlob:  []byte("fake"),
		Classes:         []string{"alice"},
		GlobalThreshold: 0.90,
		ClassThresholds: map[string]float64{"alice": 0.90},
	}))
	require.NoError(t, artifacts.SaveVoice(&artifact.Voice{
		UserThresholds: map[string]float64{"alice": 0.65},
	}))

	cfg := &authCfg{faceProb: 0.92, voiceVec: []float32{1, 0, 0, 0}}
	collab := model.Collaborators{
		ClassifierFactory: fakeAuthFactory{cfg},
		FrameAnalyzer:     &fakeAnalyzer{cfg: cfg},
		VAD:               fakeVAD{cfg},
		VoiceEmbedder: voiceEmbedFunc(func(samples []float32, sr int) ([]float32, error) {
			return cfg.voiceVec, nil
		}),
		NewCamera:      func() (model.Camera, error) { return fakeCamera{cfg}, nil },
		NewAudioStream: func() (model.AudioStream, error) { return fakeStream{cfg}, nil },
	}

	return &authEnv{
		cfg:     cfg,
		session: NewSession(s, ds, artifacts, collab, log),
		ds:      ds,
	}
}

func methods(logs []datastore.AccessLog) []string {
	out := make([]string, len(logs))
	for i, l := range logs {
		out[i] = l.Method + ":" + l.Status
	}
	return out
}

func TestSessionRun(t *testing.T) {
	t.Run("both gates pass", func(t *testing.T) {
		e := newAuthEnv(t)
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

		outcome, err := e.session.Run(context.Background())
		require.NoError(t, err)
		assert.True(t, outcome.Granted)
		assert.Equal(t, "alice", outcome.Username)
		assert.InDelta(t, 0.92, outcome.FaceScore, 1e-9)
		assert.InDelta(t, 1.0, outcome.VoiceScore, 1e-6)
		assert.Equal(t, StateAuthenticated, e.session.State())

		logs, err := e.ds.AccessLogs("alice", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"combined:granted", "voice_stage:granted", "face_stage:granted",
		}, methods(logs))
	})

	t.Run("voice gate fails after face passes", func(t *testing.T) {
		e := newAuthEnv(t)
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

		// cos([1,0,0,0], voiceVec) = 0.55, below alice's 0.65.
		e.cfg.voiceVec = []float32{0.55, 0.8352, 0, 0}

		outcome, err := e.session.Run(context.Background())
		require.NoError(t, err)
		assert.False(t, outcome.Granted)
		assert.InDelta(t, 0.55, outcome.VoiceScore, 0.01)
		assert.Equal(t, StateFailed, e.session.State())

		logs, err := e.ds.AccessLogs("alice", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"combined:denied", "voice_stage:denied", "face_stage:granted",
		}, methods(logs))
	})

	t.Run("face gate fails without scoring voice", func(t *testing.T) {
		e := newAuthEnv(t)
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

		e.cfg.faceProb = 0.85 // below alice's 0.90

		outcome, err := e.session.Run(context.Background())
		require.NoError(t, err)
		assert.False(t, outcome.Granted)
		assert.Equal(t, StateFailed, e.session.State())

		logs, err := e.ds.AccessLogs("alice", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"combined:denied", "face_stage:denied",
		}, methods(logs), "no voice stage record for a face denial")
	})

	t.Run("voice finishing first is held for the claim", func(t *testing.T) {
		e := newAuthEnv(t)
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

		// Keep the face away long enough that the voice embedding is
		// buffered before any claim exists.
		e.cfg.noFaceFrames = 20

		outcome, err := e.session.Run(context.Background())
		require.NoError(t, err)
		assert.True(t, outcome.Granted)

		logs, err := e.ds.AccessLogs("alice", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"combined:granted", "voice_stage:granted", "face_stage:granted",
		}, methods(logs))
	})

	t.Run("denied attempt can be retried", func(t *testing.T) {
		e := newAuthEnv(t)
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

		e.cfg.faceProb = 0.85
		outcome, err := e.session.Run(context.Background())
		require.NoError(t, err)
		require.False(t, outcome.Granted)

		e.cfg.faceProb = 0.95
		outcome, err = e.session.Run(context.Background())
		require.NoError(t, err)
		assert.True(t, outcome.Granted)
		assert.Equal(t, StateAuthenticated, e.session.State())
	})

	t.Run("camera fault is an error not a denial", func(t *testing.T) {
		e := newAuthEnv(t)
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

		e.cfg.camErr = errors.NewStd("device disconnected")

		_, err := e.session.Run(context.Background())
		require.Error(t, err)
		assert.True(t, errors.HasCategory(err, errors.CategoryCapture))

		// Acquisition faults never reach the audit log.
		logs, err := e.ds.AccessLogs("alice", 0)
		require.NoError(t, err)
		assert.Empty(t, logs)
	})

	t.Run("cancellation aborts the attempt", func(t *testing.T) {
		e := newAuthEnv(t)
		defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

		e.cfg.noFaceFrames = 1 << 30
		e.cfg.silence = true

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err := e.session.Run(ctx)
		require.Error(t, err)
		assert.True(t, errors.HasCategory(err, errors.CategoryCancellation))
	})

	t.Run("missing face artifact is not found", func(t *testing.T) {
		e := newAuthEnv(t)
		require.NoError(t, e.session.artifacts.RemoveFace())

		_, err := e.session.Run(context.Background())
		require.Error(t, err)
		assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
	})
}
