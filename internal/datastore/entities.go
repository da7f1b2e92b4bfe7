// entities.go: database table definitions
package datastore

import "time"

// Modality names for embeddings.
const (
	ModalityFace  = "face"
	ModalityVoice = "voice"
)

// Audit log methods and statuses.
const (
	MethodFaceStage  = "face_stage"
	MethodVoiceStage = "voice_stage"
	MethodCombined   = "combined"

	StatusGranted = "granted"
	StatusDenied  = "denied"
)

// User is an enrolled identity, keyed by unique username. Embeddings are
// removed with the user.
type User struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time

	Embeddings []Embedding `gorm:"constraint:OnDelete:CASCADE"`
}

// Embedding is one stored biometric vector. OrigID links an original
// capture and all synthetic variants derived from it; every augmented
// row shares its OrigID with a non-augmented row of the same user.
type Embedding struct {
	ID          uint   `gorm:"primaryKey"`
	UserID      uint   `gorm:"index;not null"`
	Modality    string `gorm:"size:16;index;not null"`
	OrigID      string `gorm:"size:64;index;not null"`
	IsAugmented bool   `gorm:"not null"`
	Blob        []byte `gorm:"not null"` // little-endian float32 vector
}

// AccessLog is one authentication decision: face stage, voice stage or
// the combined outcome.
type AccessLog struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"index;not null"`
	Method    string `gorm:"size:32;not null"`
	Status    string `gorm:"size:16;not null"`
	Timestamp time.Time
}

// EmbeddingRow is a decoded embedding joined with its owner, used by the
// face calibrator which needs the whole population.
type EmbeddingRow struct {
	Username    string
	OrigID      string
	IsAugmented bool
	Vector      []float32
}
