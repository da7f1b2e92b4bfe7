// Package auth implements the live two-factor verification session: a
// face capture loop and a voice capture loop running concurrently,
// joined by a state machine that admits only when both gates pass.
package auth

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/biogate/biogate-go/internal/conf"
	"github.com/biogate/biogate-go/internal/errors"
	"github.com/biogate/biogate-go/internal/model"
)

// FaceResult is the outcome of one face capture run: the predicted
// identity and its probability.
type FaceResult struct {
	Username string
	Score    float64
}

// faceLoop polls the camera until a face holds still for the configured
// number of consecutive frames, then classifies exactly once.
type faceLoop struct {
	cam      model.Camera
	analyzer model.FrameAnalyzer
	clf      model.Classifier
	settings *conf.Settings
	log      *slog.Logger
}

func (l *faceLoop) run(ctx context.Context) (FaceResult, error) {
	defer func() {
		if err := l.cam.Release(); err != nil {
			l.log.Warn("releasing camera failed", "error", err)
		}
	}()

	interval := time.Second / time.Duration(l.settings.Face.PollHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	stability := 0
	var refX, refY, refW, refH float64

	for {
		select {
		case <-ctx.Done():
			return FaceResult{}, ctx.Err()
		case <-ticker.C:
		}

		frame, err := l.cam.ReadFrame()
		if err != nil {
			return FaceResult{}, errors.New(err).
				Component("auth").
				Category(errors.CategoryCapture).
				Context("device", "camera").
				Build()
		}

		box, found := l.analyzer.Detect(frame)
		if !found {
			// Absence resets the detector completely.
			stability = 0
			continue
		}

		cx, cy := box.Center()
		w, h := float64(box.Width()), float64(box.Height())
		switch {
		case stability == 0:
			stability = 1
			refX, refY, refW, refH = cx, cy, w, h
		case math.Abs(cx-refX) <= l.settings.Face.PosTol &&
			math.Abs(cy-refY) <= l.settings.Face.PosTol &&
			math.Abs(w-refW) <= l.settings.Face.SizeTol &&
			math.Abs(h-refH) <= l.settings.Face.SizeTol:
			stability++
		default:
			// Moved or resized too much: this frame starts a new
			// candidate run.
			stability = 1
			refX, refY, refW, refH = cx, cy, w, h
		}

		if stability < l.settings.Face.RequiredStable {
			continue
		}

		vec, err := l.analyzer.Embed(frame, box)
		if err != nil {
			return FaceResult{}, errors.New(err).
				Component("auth").
				Category(errors.CategoryEmbedding).
				Build()
		}
		probs, err := l.clf.PredictProba(vec)
		if err != nil {
			return FaceResult{}, errors.New(err).
				Component("auth").
				Category(errors.CategoryState).
				Build()
		}

		classes := l.clf.Classes()
		best := -1
		for i, p := range probs {
			if best < 0 || p > probs[best] {
				best = i
			}
		}
		if best < 0 || best >= len(classes) {
			return FaceResult{}, errors.Newf("classifier produced no prediction").
				Component("auth").
				Category(errors.CategoryState).
				Build()
		}

		res := FaceResult{Username: classes[best], Score: probs[best]}
		l.log.Debug("face stabilized and classified",
			"frames", stability, "username", res.Username, "score", res.Score)
		return res, nil
	}
}
