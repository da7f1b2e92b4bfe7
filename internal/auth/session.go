package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/biogate/biogate-go/internal/artifact"
	"github.com/biogate/biogate-go/internal/conf"
	"github.com/biogate/biogate-go/internal/datastore"
	"github.com/biogate/biogate-go/internal/embedding"
	"github.com/biogate/biogate-go/internal/errors"
	"github.com/biogate/biogate-go/internal/model"
)

// State is the session's position in the verification flow.
type State int32

const (
	StateIdle State = iota
	StateCapturing
	StateFaceScored
	StateVoiceGatedOnClaim
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateFaceScored:
		return "face_scored"
	case StateVoiceGatedOnClaim:
		return "voice_gated_on_claim"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one verification attempt. Granted is true
// only when both gates passed for the same identity.
type Outcome struct {
	Granted    bool
	Username   string
	FaceScore  float64
	VoiceScore float64
}

// Session runs two-factor verification attempts. Face and voice are
// captured concurrently, but the voice comparison is gated on the
// identity claimed by the face stage: a voice embedding that arrives
// first is held and scored only once a claim exists, so voice scoring
// never completes for an unclaimed identity.
type Session struct {
	settings  *conf.Settings
	ds        datastore.Interface
	artifacts *artifact.Store
	collab    model.Collaborators
	log       *slog.Logger

	state atomic.Int32
}

// NewSession wires a verification session.
func NewSession(settings *conf.Settings, ds datastore.Interface, artifacts *artifact.Store, collab model.Collaborators, log *slog.Logger) *Session {
	return &Session{
		settings:  settings,
		ds:        ds,
		artifacts: artifacts,
		collab:    collab,
		log:       log,
	}
}

// State reports the current session state. Safe to call concurrently
// with Run.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.log.Debug("session state", "state", st.String())
}

// Run executes one verification attempt: capture both modalities, gate
// face first, then voice against the face's claim. A denied attempt
// returns an Outcome with Granted false and a nil error; errors are
// reserved for faults (missing artifacts, capture failures,
// cancellation). Retrying is simply calling Run again.
func (s *Session) Run(ctx context.Context) (*Outcome, error) {
	s.setState(StateIdle)

	// Correlates the capture loops, gate decisions and audit writes of
	// one attempt in the logs.
	log := s.log.With("attempt_id", uuid.NewString())
	log.Info("verification attempt started")

	faceArt, err := s.artifacts.LoadFace()
	if err != nil {
		return nil, err
	}
	clf, err := s.collab.ClassifierFactory.UnmarshalBinary(faceArt.ClassifierBlob)
	if err != nil {
		return nil, errors.New(fmt.Errorf("loading face classifier: %w", err)).
			Component("auth").
			Category(errors.CategoryModelArtifact).
			Build()
	}

	voiceArt, err := s.artifacts.LoadVoice()
	if err != nil {
		if !errors.HasCategory(err, errors.CategoryNotFound) {
			return nil, err
		}
		// No voice calibration yet: every user falls back to the
		// configured default margin.
		voiceArt = &artifact.Voice{UserThresholds: map[string]float64{}}
	}

	cam, err := s.collab.NewCamera()
	if err != nil {
		return nil, errors.New(err).
			Component("auth").
			Category(errors.CategoryCapture).
			Context("device", "camera").
			Build()
	}
	stream, err := s.collab.NewAudioStream()
	if err != nil {
		cam.Release()
		return nil, errors.New(err).
			Component("auth").
			Category(errors.CategoryCapture).
			Context("device", "microphone").
			Build()
	}

	s.setState(StateCapturing)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	faceCh := make(chan FaceResult, 1)
	voiceCh := make(chan []float32, 1)

	fl := &faceLoop{cam: cam, analyzer: s.collab.FrameAnalyzer, clf: clf, settings: s.settings, log: log}
	g.Go(func() error {
		res, err := fl.run(gctx)
		if err != nil {
			return err
		}
		faceCh <- res
		return nil
	})

	vl := &voiceLoop{stream: stream, vad: s.collab.VAD, embedder: s.collab.VoiceEmbedder, settings: s.settings, log: log}
	g.Go(func() error {
		vec, err := vl.run(gctx)
		if err != nil {
			return err
		}
		voiceCh <- vec
		return nil
	})

	var claim *FaceResult
	var pendingVoice []float32
	var outcome *Outcome

	for outcome == nil {
		select {
		case <-gctx.Done():
			cancel()
			werr := g.Wait()
			s.setState(StateFailed)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, errors.New(ctxErr).
					Component("auth").
					Category(errors.CategoryCancellation).
					Build()
			}
			if werr != nil && !errors.Is(werr, context.Canceled) {
				return nil, werr
			}
			return nil, errors.Newf("capture ended without a decision").
				Component("auth").
				Category(errors.CategoryState).
				Build()

		case res := <-faceCh:
			s.setState(StateFaceScored)
			thr, ok := faceArt.ClassThresholds[res.Username]
			if !ok {
				thr = faceArt.GlobalThreshold
			}
			if res.Score < thr {
				s.audit(res.Username, datastore.MethodFaceStage, false)
				s.audit(res.Username, datastore.MethodCombined, false)
				outcome = &Outcome{Username: res.Username, FaceScore: res.Score}
				break
			}
			s.audit(res.Username, datastore.MethodFaceStage, true)
			s.setState(StateVoiceGatedOnClaim)
			claim = &res
			if pendingVoice != nil {
				outcome = s.scoreVoice(*claim, pendingVoice, voiceArt)
			}

		case vec := <-voiceCh:
			if claim == nil {
				// Voice finished first: hold the embedding until the
				// face stage produces a claim to score it against.
				pendingVoice = vec
				continue
			}
			outcome = s.scoreVoice(*claim, vec, voiceArt)
		}
	}

	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("capture loop ended with error after decision", "error", err)
	}

	if outcome.Granted {
		s.setState(StateAuthenticated)
	} else {
		s.setState(StateFailed)
	}
	return outcome, nil
}

// scoreVoice compares the captured voice embedding against the claimed
// user's stored voiceprints and applies the conjunction of both gates.
func (s *Session) scoreVoice(claim FaceResult, vec []float32, voiceArt *artifact.Voice) *Outcome {
	stored, err := s.ds.Embeddings(claim.Username, datastore.ModalityVoice)
	if err != nil {
		s.log.Error("loading voiceprints failed", "username", claim.Username, "error", err)
		stored = nil
	}

	best := 0.0
	for _, e := range stored {
		if sim := embedding.Cosine(vec, e); sim > best {
			best = sim
		}
	}

	thr, ok := voiceArt.UserThresholds[claim.Username]
	if !ok {
		thr = s.settings.Voice.DefaultMargin
	}

	granted := len(stored) > 0 && best >= thr
	s.audit(claim.Username, datastore.MethodVoiceStage, granted)
	s.audit(claim.Username, datastore.MethodCombined, granted)

	return &Outcome{
		Granted:    granted,
		Username:   claim.Username,
		FaceScore:  claim.Score,
		VoiceScore: best,
	}
}

func (s *Session) audit(username, method string, granted bool) {
	if err := s.ds.LogAccess(username, method, granted); err != nil {
		s.log.Error("writing audit record failed", "username", username, "method", method, "error", err)
	}
}
