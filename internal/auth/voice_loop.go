package auth

import (
	"context"
	"log/slog"

	"github.com/biogate/biogate-go/internal/conf"
	"github.com/biogate/biogate-go/internal/errors"
	"github.com/biogate/biogate-go/internal/model"
)

// voiceLoop accumulates speech from the microphone until enough of it
// has been heard, then embeds the whole recording once. Silence pauses
// accumulation, it never resets it; a speech run shorter than the
// minimum segment length is treated as a blip and not counted.
type voiceLoop struct {
	stream   model.AudioStream
	vad      model.VoiceActivityDetector
	embedder model.VoiceEmbedder
	settings *conf.Settings
	log      *slog.Logger
}

func (l *voiceLoop) run(ctx context.Context) ([]float32, error) {
	defer func() {
		if err := l.stream.Close(); err != nil {
			l.log.Warn("closing audio stream failed", "error", err)
		}
	}()

	blockMs := l.settings.Voice.BlockMs
	minSegmentBlocks := l.settings.Voice.MinSegmentMs / blockMs
	requiredBlocks := int(l.settings.Voice.RequiredSpeech * 1000 / float64(blockMs))

	var buffer []float32
	completed := 0  // blocks from finished runs that met the minimum length
	currentRun := 0 // blocks in the speech run still in progress

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		block, err := l.stream.ReadBlock()
		if err != nil {
			return nil, errors.New(err).
				Component("auth").
				Category(errors.CategoryCapture).
				Context("device", "microphone").
				Build()
		}
		buffer = append(buffer, block...)

		if l.vad.IsSpeech(block, l.settings.Voice.SampleRate) {
			currentRun++
		} else {
			if currentRun >= minSegmentBlocks {
				completed += currentRun
			}
			currentRun = 0
		}

		total := completed
		if currentRun >= minSegmentBlocks {
			total += currentRun
		}
		if total >= requiredBlocks {
			break
		}
	}

	vec, err := l.embedder.Embed(buffer, l.settings.Voice.SampleRate)
	if err != nil {
		return nil, errors.New(err).
			Component("auth").
			Category(errors.CategoryEmbedding).
			Build()
	}

	l.log.Debug("voice captured and embedded",
		"samples", len(buffer),
		"speech_blocks", completed+currentRun)
	return vec, nil
}
