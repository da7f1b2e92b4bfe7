// Package model defines the narrow contracts through which the core
// interacts with its external collaborators: capture devices, signal
// processing, embedding extraction and classifier training. The numerics
// behind these interfaces live outside this module.
package model

import "errors"

// ErrNoFace is returned by face embedders and preprocessors when no face
// can be located in the input. Augmentation attempts hitting this error
// are discarded without counting toward acceptance.
var ErrNoFace = errors.New("no face detected")

// Frame is one camera frame as delivered by the device layer.
type Frame struct {
	Data   []byte // encoded image bytes
	Width  int
	Height int
}

// Box is a detected face bounding box in frame coordinates, using the
// top/right/bottom/left convention of the detector.
type Box struct {
	Top    int
	Right  int
	Bottom int
	Left   int
}

// Width returns the horizontal extent of the box.
func (b Box) Width() int { return b.Right - b.Left }

// Height returns the vertical extent of the box.
func (b Box) Height() int { return b.Bottom - b.Top }

// Center returns the box center point.
func (b Box) Center() (x, y float64) {
	return float64(b.Left) + float64(b.Width())/2, float64(b.Top) + float64(b.Height())/2
}

// Denoiser removes background noise from a mono audio buffer.
type Denoiser interface {
	Denoise(samples []float32, sampleRate int) ([]float32, error)
}

// FacePreprocessor detects a face in an encoded image, aligns it to the
// eye line, crops with margin and resizes to the canonical size. ok is
// false when the image contains no detectable face.
type FacePreprocessor interface {
	Process(image []byte) (crop []byte, ok bool, err error)
}

// FaceEmbedder extracts a fixed-dimension vector from an encoded image.
// Returns ErrNoFace when no face is detected.
type FaceEmbedder interface {
	Embed(image []byte) ([]float32, error)
}

// FrameAnalyzer serves the live face capture loop: cheap per-frame
// detection plus embedding extraction for the frame that triggers
// classification.
type FrameAnalyzer interface {
	Detect(f Frame) (Box, bool)
	Embed(f Frame, box Box) ([]float32, error)
}

// VoiceEmbedder extracts a fixed-dimension vector from a mono sample
// buffer.
type VoiceEmbedder interface {
	Embed(samples []float32, sampleRate int) ([]float32, error)
}

// VoiceActivityDetector classifies one audio block as speech or not.
type VoiceActivityDetector interface {
	IsSpeech(block []float32, sampleRate int) bool
}

// Camera is an exclusively-owned video capture handle.
type Camera interface {
	ReadFrame() (Frame, error)
	Release() error
}

// AudioStream is an exclusively-owned audio capture handle delivering
// fixed-size mono blocks.
type AudioStream interface {
	ReadBlock() ([]float32, error)
	Close() error
}

// AudioEffects provides the perturbation primitives used by audio
// augmentation. Parameter sampling happens in the core; the signal
// transforms themselves are external.
type AudioEffects interface {
	TimeStretch(samples []float32, rate float64) []float32
	PitchShift(samples []float32, sampleRate int, semitones float64) []float32
}

// AffineParams describes a geometric jitter applied to a face image.
type AffineParams struct {
	RotateDeg  float64
	TranslateX float64 // fraction of width
	TranslateY float64 // fraction of height
	Scale      float64
}

// ImageEffects provides the perturbation primitives used by face
// augmentation.
type ImageEffects interface {
	Affine(img []byte, p AffineParams) ([]byte, error)
	OpticalDistortion(img []byte, limit float64) ([]byte, error)
	GridDistortion(img []byte, steps int, limit float64) ([]byte, error)
	ElasticTransform(img []byte, alpha, sigma float64) ([]byte, error)
	GaussianBlur(img []byte, kernel int) ([]byte, error)
	MotionBlur(img []byte, kernel int) ([]byte, error)
	BrightnessContrast(img []byte, brightness, contrast float64) ([]byte, error)
	HueSaturationValue(img []byte, hue, sat, val float64) ([]byte, error)
	Gamma(img []byte, gamma float64) ([]byte, error)
	GaussNoise(img []byte, stddev float64) ([]byte, error)
	CLAHE(img []byte, clipLimit float64) ([]byte, error)
}

// Classifier is a trained multi-class face classifier. Probability
// vectors are aligned with Classes.
type Classifier interface {
	Classes() []string
	PredictProba(v []float32) ([]float64, error)
	MarshalBinary() ([]byte, error)
}

// ClassifierFactory trains new classifiers and rehydrates persisted
// ones from their opaque serialized form.
type ClassifierFactory interface {
	Train(vectors [][]float32, labels []string) (Classifier, error)
	UnmarshalBinary(data []byte) (Classifier, error)
}

// Collaborators bundles the external implementations the application is
// wired with at startup. Commands validate the fields they need and fail
// with a configuration error when an implementation is missing.
type Collaborators struct {
	Denoiser          Denoiser
	FacePreprocessor  FacePreprocessor
	FaceEmbedder      FaceEmbedder
	FrameAnalyzer     FrameAnalyzer
	VoiceEmbedder     VoiceEmbedder
	VAD               VoiceActivityDetector
	AudioEffects      AudioEffects
	ImageEffects      ImageEffects
	ClassifierFactory ClassifierFactory
	NewCamera         func() (Camera, error)
	NewAudioStream    func() (AudioStream, error)
}
