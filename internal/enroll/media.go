package enroll

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/biogate/biogate-go/internal/augment"
	"github.com/biogate/biogate-go/internal/errors"
)

// Kind identifies one stage directory in the media tree. Layout is
// <base>/<kind>/<username>/<file>.
type Kind string

const (
	AudioRaw       Kind = "audio_raw"
	AudioCleaned   Kind = "audio_cleaned"
	AudioAugmented Kind = "audio_augmented"
	FaceRaw        Kind = "images_raw"
	FaceProcessed  Kind = "images_processed"
	FaceAugmented  Kind = "images_augmented"
)

// AllKinds lists every stage directory, used by the purge on success and
// rollback paths.
func AllKinds() []Kind {
	return []Kind{AudioRaw, AudioCleaned, AudioAugmented, FaceRaw, FaceProcessed, FaceAugmented}
}

// MediaStore manages per-user media directories for the enrollment
// pipeline. Media is intermediate: only embeddings survive a completed
// enrollment.
type MediaStore struct {
	base string
}

// NewMediaStore creates a media store rooted at base.
func NewMediaStore(base string) *MediaStore {
	return &MediaStore{base: base}
}

// Dir returns the directory for one user under one stage.
func (m *MediaStore) Dir(kind Kind, username string) string {
	return filepath.Join(m.base, string(kind), username)
}

// List returns the sorted paths of the user's files with the given
// extension under one stage. A missing directory yields an empty list.
func (m *MediaStore) List(kind Kind, username, ext string) ([]string, error) {
	dir := m.Dir(kind, username)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, mediaError(fmt.Errorf("listing %s: %w", dir, err))
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadWav decodes a mono WAV file into float samples. Multi-channel
// input is averaged down to mono.
func (m *MediaStore) ReadWav(path string) (augment.AudioSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return augment.AudioSample{}, mediaError(fmt.Errorf("opening %s: %w", path, err))
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return augment.AudioSample{}, mediaError(fmt.Errorf("decoding %s: %w", path, err))
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	scale := float32(int(1) << (buf.SourceBitDepth - 1))
	if buf.SourceBitDepth == 0 {
		scale = 1 << 15
	}

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		samples[i] = sum / float32(channels)
	}

	return augment.AudioSample{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// WriteWav encodes float samples as a 16-bit PCM mono WAV file under the
// given stage directory.
func (m *MediaStore) WriteWav(kind Kind, username, name string, s augment.AudioSample) error {
	dir := m.Dir(kind, username)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return mediaError(fmt.Errorf("creating %s: %w", dir, err))
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return mediaError(fmt.Errorf("creating %s: %w", path, err))
	}
	defer f.Close()

	enc := wav.NewEncoder(f, s.SampleRate, 16, 1, 1)
	data := make([]int, len(s.Samples))
	for i, v := range s.Samples {
		data[i] = int(clamp(v) * 32767)
	}
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{NumChannels: 1, SampleRate: s.SampleRate},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return mediaError(fmt.Errorf("writing %s: %w", path, err))
	}
	if err := enc.Close(); err != nil {
		return mediaError(fmt.Errorf("finalizing %s: %w", path, err))
	}
	return nil
}

// ReadFile returns the raw bytes of one media file.
func (m *MediaStore) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mediaError(fmt.Errorf("reading %s: %w", path, err))
	}
	return data, nil
}

// WriteFile stores raw bytes under the given stage directory.
func (m *MediaStore) WriteFile(kind Kind, username, name string, data []byte) error {
	dir := m.Dir(kind, username)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return mediaError(fmt.Errorf("creating %s: %w", dir, err))
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return mediaError(fmt.Errorf("writing %s: %w", path, err))
	}
	return nil
}

// PurgeUser removes the user's directory under every stage. Used both on
// successful enrollment (media is intermediate) and on rollback.
func (m *MediaStore) PurgeUser(username string) error {
	for _, kind := range AllKinds() {
		dir := m.Dir(kind, username)
		if err := os.RemoveAll(dir); err != nil {
			return mediaError(fmt.Errorf("purging %s: %w", dir, err))
		}
	}
	return nil
}

// Stem returns the file name without directory or extension.
func Stem(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// OrigID maps a media file stem to its lineage id: a synthetic variant
// named <stem>_augN shares the orig_id of its source <stem>.
func OrigID(stem string) string {
	if i := strings.Index(stem, "_aug"); i >= 0 {
		return stem[:i]
	}
	return stem
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func mediaError(err error) error {
	return errors.New(err).
		Component("enroll").
		Category(errors.CategoryFileIO).
		Build()
}
