// Package conf defines the application settings and loads them from the
// configuration file. The Settings value is constructed once at startup
// and passed by reference into every component; there is no ambient
// global configuration state.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LogConfig configures a rotating file log.
type LogConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// AugmentSettings holds the similarity-gated augmentation tunables shared
// by the audio and face variants.
type AugmentSettings struct {
	LowSim       float64 // lower bound of the acceptance band
	HighSim      float64 // upper bound of the acceptance band
	NAug         int     // target synthetic variants per original sample
	MaxTries     int     // retry budget per original sample
	MaxPerUser   int     // cap on stored synthetic samples per user per modality
	FallbackKeep int     // face-only: rejected variants kept when none pass
}

// CalibrationSettings holds threshold calibration tunables.
type CalibrationSettings struct {
	ValPerUser        int     // original sample ids held out per user for validation
	ClassThresholdCap float64 // upper bound on per-class face thresholds
	Seed              uint64  // RNG seed for the validation split shuffle
}

// VoiceSettings holds voice capture and verification tunables.
type VoiceSettings struct {
	SampleRate     int
	Dimension      int     // embedding vector dimension
	RequiredSpeech float64 // accumulated seconds of detected speech before embedding
	MinSegmentMs   int     // minimum contiguous speech run counted toward the total
	BlockMs        int     // capture block length
	DefaultMargin  float64 // fallback similarity threshold for uncalibrated users
}

// FaceSettings holds face capture and verification tunables.
type FaceSettings struct {
	Dimension      int // embedding vector dimension
	OutputSize     int // canonical aligned crop edge length
	MarginFrac     float64
	RequiredStable int     // consecutive stable frames before classification
	PosTol         float64 // center drift tolerance, pixels
	SizeTol        float64 // size drift tolerance, pixels
	PollHz         int
	FrameScale     float64 // downscale factor applied before detection
}

// Settings contains all runtime configuration.
type Settings struct {
	Debug bool

	Main struct {
		Name    string
		DataDir string // root directory for media, models and the database
		Log     LogConfig
	}

	Database struct {
		Path string // sqlite file, relative to datadir unless absolute
	}

	Augment     AugmentSettings
	Calibration CalibrationSettings
	Voice       VoiceSettings
	Face        FaceSettings
}

// DatabasePath resolves the sqlite file location.
func (s *Settings) DatabasePath() string {
	return s.resolve(s.Database.Path)
}

// ModelsDir resolves the model artifact directory.
func (s *Settings) ModelsDir() string {
	return s.resolve("models")
}

// MediaDir resolves the media root directory.
func (s *Settings) MediaDir() string {
	return s.resolve("data")
}

func (s *Settings) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.Main.DataDir, p)
}

// Load reads the configuration file, applying defaults for anything not
// set, and returns the validated settings.
func Load() (*Settings, error) {
	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper initializes viper with default values and reads the
// configuration file, creating one from defaults when none exists.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := defaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the current defaults as a config file so the
// user has something to edit.
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	out, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return fmt.Errorf("error marshaling default config: %w", err)
	}
	if err := os.WriteFile(configPath, out, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	return viper.ReadInConfig()
}

// defaultConfigPaths returns the locations searched for config.yaml, in
// priority order.
func defaultConfigPaths() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fall back to the working directory only.
		return []string{"."}, nil
	}
	return []string{
		".",
		filepath.Join(home, ".config", "biogate"),
	}, nil
}
