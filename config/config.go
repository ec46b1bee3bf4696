// Package config defines the JSON configuration of the fusion binary.
package config

import (
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/fusion/engine/builtin"
	"go.viam.com/fusion/logging"
	"go.viam.com/fusion/pipeline"
	"go.viam.com/fusion/sink/filesink"
	"go.viam.com/fusion/source/fake"
	"go.viam.com/fusion/source/replay"
)

// Source types.
const (
	SourceFake   = "fake"
	SourceReplay = "replay"
)

// Config is the whole configuration of a fusion session.
type Config struct {
	ConfigFilePath string `json:"-"`

	Source SourceConfig   `json:"source"`
	Volume builtin.Config `json:"volume"`
	Views  ViewsConfig    `json:"views"`

	Registration    bool `json:"registration,omitempty"`
	IntegrateColors bool `json:"integrate_colors,omitempty"`
	CurrentCloud    bool `json:"current_cloud,omitempty"`
	ExtractTextures bool `json:"extract_textures,omitempty"`
	SaveViews       bool `json:"save_views,omitempty"`

	TextureCadence uint64 `json:"texture_cadence,omitempty"`
	WaitTimeoutMs  int    `json:"wait_timeout_ms,omitempty"`
	StatsEvery     int    `json:"stats_every,omitempty"`
	MaxColorWeight int    `json:"max_color_weight,omitempty"`

	// OutputDir receives exports, view dumps, textures and the trajectory. Empty means the
	// working directory.
	OutputDir string         `json:"output_dir,omitempty"`
	LogLevel  *logging.Level `json:"log_level,omitempty"`
	// LogFile also receives every log entry when set. It is rotated at LogFileMaxMB.
	LogFile      string `json:"log_file,omitempty"`
	LogFileMaxMB int    `json:"log_file_max_mb,omitempty"`
}

// SourceConfig selects the frame source. Only the attributes of the selected type are used.
type SourceConfig struct {
	Type   string        `json:"type,omitempty"`
	Fake   fake.Config   `json:"fake"`
	Replay replay.Config `json:"replay"`
}

// ViewsConfig enables the file backed views.
type ViewsConfig struct {
	Scene      bool `json:"scene"`
	Depth      bool `json:"depth"`
	SceneCloud bool `json:"scene_cloud"`
	WriteEvery int  `json:"write_every,omitempty"`
	// MaxFrames closes every view after that many frames, which ends the session.
	MaxFrames int `json:"max_frames,omitempty"`
}

// Default is the configuration used without a config file: a fake sensor with all views on.
func Default() *Config {
	return &Config{
		Source: SourceConfig{Type: SourceFake},
		Views:  ViewsConfig{Scene: true, Depth: true, SceneCloud: true},
	}
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) ([]string, error) {
	sourcePath := filepath.Join(path, "source")
	switch c.Source.Type {
	case SourceFake:
		if _, err := c.Source.Fake.Validate(filepath.Join(sourcePath, "fake")); err != nil {
			return nil, err
		}
	case SourceReplay:
		if _, err := c.Source.Replay.Validate(filepath.Join(sourcePath, "replay")); err != nil {
			return nil, err
		}
	case "":
		return nil, goutils.NewConfigValidationFieldRequiredError(sourcePath, "type")
	default:
		return nil, goutils.NewConfigValidationError(sourcePath, errors.Errorf("unknown source type %q", c.Source.Type))
	}
	if err := c.Volume.ValidateVolume(filepath.Join(path, "volume")); err != nil {
		return nil, err
	}
	if c.IntegrateColors && !c.Registration {
		return nil, goutils.NewConfigValidationError(path, errors.New("integrate_colors requires registration"))
	}
	if c.WaitTimeoutMs < 0 || c.StatsEvery < 0 || c.MaxColorWeight < 0 || c.LogFileMaxMB < 0 {
		return nil, goutils.NewConfigValidationError(path,
			errors.New("wait_timeout_ms, stats_every, max_color_weight and log_file_max_mb cannot be negative"))
	}
	if c.Views.WriteEvery < 0 || c.Views.MaxFrames < 0 {
		return nil, goutils.NewConfigValidationError(filepath.Join(path, "views"),
			errors.New("write_every and max_frames cannot be negative"))
	}
	return nil, nil
}

// Level is the configured log level, INFO when unset.
func (c *Config) Level() logging.Level {
	if c.LogLevel == nil {
		return logging.INFO
	}
	return *c.LogLevel
}

// DefaultLogFileMaxMB is the log file size at which it is rotated.
const DefaultLogFileMaxMB = 64

// LogFileAppender returns the appender for LogFile, nil without one.
func (c *Config) LogFileAppender() *logging.FileAppender {
	if c.LogFile == "" {
		return nil
	}
	maxMB := c.LogFileMaxMB
	if maxMB == 0 {
		maxMB = DefaultLogFileMaxMB
	}
	return logging.NewFileAppender(c.LogFile, maxMB)
}

// InitialFlags are the pipeline modes a session starts with.
func (c *Config) InitialFlags() pipeline.Flags {
	return pipeline.Flags{
		Registration:      c.Registration,
		ColorIntegration:  c.IntegrateColors,
		TextureExtraction: c.ExtractTextures,
	}
}

// Coordinator returns the coordinator settings. Unset values take the coordinator defaults.
func (c *Config) Coordinator() pipeline.Config {
	return pipeline.Config{
		WaitTimeout:    time.Duration(c.WaitTimeoutMs) * time.Millisecond,
		TextureCadence: c.TextureCadence,
		StatsEvery:     c.StatsEvery,
		MaxColorWeight: c.MaxColorWeight,
		OutputDir:      c.OutputDir,
	}
}

// View returns the file sink settings of the named view.
func (c *Config) View(name string) filesink.Config {
	return filesink.Config{
		Dir:        filepath.Join(c.OutputDir, "views", name),
		WriteEvery: c.Views.WriteEvery,
		MaxFrames:  c.Views.MaxFrames,
	}
}
