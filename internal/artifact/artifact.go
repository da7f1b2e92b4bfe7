// Package artifact persists the trained model bundles and implements the
// two-phase backup/restore discipline that guards concurrent readers:
// writes go to a temp file and are renamed into place, so a reader sees
// either the fully-prior or the fully-new artifact, never a partial one.
package artifact

import (
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/biogate/biogate-go/internal/errors"
)

// Face is the face model artifact: the opaque trained classifier, its
// ordered class list and the calibrated thresholds.
type Face struct {
	ClassifierBlob  []byte
	Classes         []string
	GlobalThreshold float64
	ClassThresholds map[string]float64
}

// Voice is the voice model artifact: per-username equal-error thresholds.
type Voice struct {
	UserThresholds map[string]float64
}

const (
	faceFile  = "face_model.gob"
	voiceFile = "voice_thresholds.gob"
	bakSuffix = ".bak"
)

// Store manages the model artifact files in one directory. Exactly one
// live artifact exists per modality at any time.
type Store struct {
	dir string
	log *slog.Logger
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, artifactError(fmt.Errorf("creating artifact directory: %w", err))
	}
	return &Store{dir: dir, log: log}, nil
}

// SaveFace atomically replaces the live face artifact.
func (s *Store) SaveFace(a *Face) error {
	return s.save(faceFile, a)
}

// LoadFace loads the live face artifact. Returns os.ErrNotExist (wrapped)
// when no artifact has been trained yet.
func (s *Store) LoadFace() (*Face, error) {
	var a Face
	if err := s.load(faceFile, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// SaveVoice atomically replaces the live voice artifact.
func (s *Store) SaveVoice(a *Voice) error {
	return s.save(voiceFile, a)
}

// LoadVoice loads the live voice artifact. Returns os.ErrNotExist
// (wrapped) when no artifact has been trained yet.
func (s *Store) LoadVoice() (*Voice, error) {
	var a Voice
	if err := s.load(voiceFile, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) save(name string, v any) error {
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return artifactError(fmt.Errorf("creating temp artifact: %w", err))
	}
	tmpName := tmp.Name()

	if err := gob.NewEncoder(tmp).Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return artifactError(fmt.Errorf("encoding artifact %s: %w", name, err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return artifactError(fmt.Errorf("syncing artifact %s: %w", name, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return artifactError(fmt.Errorf("closing artifact %s: %w", name, err))
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return artifactError(fmt.Errorf("replacing artifact %s: %w", name, err))
	}
	return nil
}

func (s *Store) load(name string, v any) error {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New(fmt.Errorf("artifact %s: %w", name, os.ErrNotExist)).
				Component("artifact").
				Category(errors.CategoryNotFound).
				Build()
		}
		return artifactError(fmt.Errorf("opening artifact %s: %w", name, err))
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return artifactError(fmt.Errorf("decoding artifact %s: %w", name, err))
	}
	return nil
}

// RemoveFace deletes the live face artifact. Used when recalibration
// finds no face embeddings left, typically after the last enrolled user
// was removed.
func (s *Store) RemoveFace() error {
	if err := os.Remove(filepath.Join(s.dir, faceFile)); err != nil && !os.IsNotExist(err) {
		return artifactError(fmt.Errorf("removing face artifact: %w", err))
	}
	return nil
}

// Backup snapshots every existing artifact to its .bak twin. It is the
// write-ahead phase of the enrollment transaction and must run before
// any stage mutates state.
func (s *Store) Backup() error {
	for _, name := range []string{faceFile, voiceFile} {
		src := filepath.Join(s.dir, name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyFile(src, src+bakSuffix); err != nil {
			return artifactError(fmt.Errorf("backing up %s: %w", name, err))
		}
	}
	return nil
}

// Restore reverts the artifacts to the backed-up state. An artifact with
// a .bak twin is replaced by it; an artifact without one did not exist
// when Backup ran and is removed. After Restore the artifact directory
// is bit-identical to its pre-transaction state.
func (s *Store) Restore() error {
	for _, name := range []string{faceFile, voiceFile} {
		live := filepath.Join(s.dir, name)
		bak := live + bakSuffix

		if _, err := os.Stat(bak); err == nil {
			if err := os.Rename(bak, live); err != nil {
				return artifactError(fmt.Errorf("restoring %s: %w", name, err))
			}
			continue
		}

		if err := os.Remove(live); err != nil && !os.IsNotExist(err) {
			return artifactError(fmt.Errorf("removing uncommitted %s: %w", name, err))
		}
	}
	return nil
}

// Discard deletes the backups after a successful transaction.
func (s *Store) Discard() error {
	for _, name := range []string{faceFile, voiceFile} {
		bak := filepath.Join(s.dir, name+bakSuffix)
		if err := os.Remove(bak); err != nil && !os.IsNotExist(err) {
			return artifactError(fmt.Errorf("discarding backup of %s: %w", name, err))
		}
	}
	return nil
}

// SweepStaleBackups removes leftover .bak files at startup. A stale
// backup means a previous run crashed between rollback phases; the live
// artifacts are authoritative at that point.
func (s *Store) SweepStaleBackups() {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+bakSuffix))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			s.log.Warn("could not remove stale backup", "path", m, "error", err)
			continue
		}
		s.log.Info("removed stale backup", "path", m)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func artifactError(err error) error {
	return errors.New(err).
		Component("artifact").
		Category(errors.CategoryModelArtifact).
		Build()
}
