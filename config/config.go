// Package config loads the moviewriter CLI configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Swind/go-movie-writer/media"
)

// Config is the complete CLI configuration.
type Config struct {
	Output   OutputConfig   `yaml:"output"`
	Video    VideoConfig    `yaml:"video"`
	Audio    AudioConfig    `yaml:"audio"`
	Pool     PoolConfig     `yaml:"pool"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Metadata []MetadataItem `yaml:"metadata"`

	// Duration is how long the demo records, e.g. "5s".
	Duration Duration `yaml:"duration"`
	// PauseAt and PauseFor insert a pause into the demo recording when set.
	PauseAt  Duration `yaml:"pause_at"`
	PauseFor Duration `yaml:"pause_for"`
}

// OutputConfig selects where and how the movie is written.
type OutputConfig struct {
	Path     string `yaml:"path"`
	FileType string `yaml:"file_type"` // mwraw, mp4, mov, mkv; inferred from path when empty
	Writer   string `yaml:"writer"`    // rawfile or gst
}

// VideoConfig describes the video track.
type VideoConfig struct {
	Width    int     `yaml:"width"`
	Height   int     `yaml:"height"`
	FPS      float64 `yaml:"fps"`
	Codec    string  `yaml:"codec"`
	BitRate  int     `yaml:"bit_rate"`
	Rotation string  `yaml:"rotation"` // none, rotate_left, rotate_right, rotate_180, ...
	Live     bool    `yaml:"live"`
	Pull     bool    `yaml:"pull"` // drive frames from readiness callbacks
}

// AudioConfig describes the optional audio track.
type AudioConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Codec      string  `yaml:"codec"`
	SampleRate int     `yaml:"sample_rate"`
	Channels   int     `yaml:"channels"`
	BitRate    int     `yaml:"bit_rate"`
	ToneHz     float64 `yaml:"tone_hz"`
}

// PoolConfig sizes the shared queue pool.
type PoolConfig struct {
	Size int `yaml:"size"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// MetricsConfig controls the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen       string   `yaml:"listen"`
	PollInterval Duration `yaml:"poll_interval"`
}

// MetadataItem is one container metadata entry.
type MetadataItem struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// Duration decodes Go duration strings ("1m30s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Output: OutputConfig{Path: "out.mwraw", Writer: "rawfile"},
		Video: VideoConfig{
			Width:    640,
			Height:   360,
			FPS:      30,
			Codec:    "h264",
			Rotation: "none",
		},
		Audio: AudioConfig{
			Codec:      "aac",
			SampleRate: 48000,
			Channels:   1,
			BitRate:    64000,
			ToneHz:     440,
		},
		Pool:     PoolConfig{Size: 4},
		Log:      LogConfig{Level: "info", Format: "text"},
		Metrics:  MetricsConfig{PollInterval: Duration(time.Second)},
		Duration: Duration(3 * time.Second),
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func Validate(cfg *Config) error {
	var errs []error
	if cfg.Output.Path == "" {
		errs = append(errs, errors.New("output.path is required"))
	}
	if _, err := cfg.FileType(); err != nil {
		errs = append(errs, err)
	}
	switch cfg.Output.Writer {
	case "rawfile", "gst":
	default:
		errs = append(errs, fmt.Errorf("output.writer %q: want rawfile or gst", cfg.Output.Writer))
	}
	if err := cfg.VideoSettings().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("video: %w", err))
	}
	if cfg.Video.FPS <= 0 {
		errs = append(errs, fmt.Errorf("video.fps %v is not positive", cfg.Video.FPS))
	}
	if cfg.Audio.Enabled {
		if err := cfg.AudioSettings().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("audio: %w", err))
		}
	}
	if cfg.Pool.Size < 1 {
		errs = append(errs, fmt.Errorf("pool.size %d is not positive", cfg.Pool.Size))
	}
	if _, err := cfg.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Duration <= 0 {
		errs = append(errs, errors.New("duration must be positive"))
	}
	if cfg.PauseAt < 0 || cfg.PauseFor < 0 {
		errs = append(errs, errors.New("pause_at and pause_for must not be negative"))
	}
	return errors.Join(errs...)
}

// FileType resolves the container type from output.file_type or the path extension.
func (c *Config) FileType() (media.FileType, error) {
	if c.Output.FileType != "" {
		return media.ParseFileType(c.Output.FileType)
	}
	ext := filepath.Ext(c.Output.Path)
	if ext == "" {
		return "", fmt.Errorf("output.path %q has no extension and output.file_type is empty", c.Output.Path)
	}
	return media.ParseFileType(ext)
}

// VideoSettings builds the encoder settings for the video track.
func (c *Config) VideoSettings() *media.VideoSettings {
	bitRate := c.Video.BitRate
	if bitRate == 0 {
		bitRate = c.Video.Width * c.Video.Height * 4
	}
	return &media.VideoSettings{
		Codec:     c.Video.Codec,
		Width:     c.Video.Width,
		Height:    c.Video.Height,
		BitRate:   bitRate,
		FrameRate: c.Video.FPS,
	}
}

// AudioSettings builds the encoder settings for the audio track.
func (c *Config) AudioSettings() *media.AudioSettings {
	return &media.AudioSettings{
		Codec:      c.Audio.Codec,
		SampleRate: c.Audio.SampleRate,
		Channels:   c.Audio.Channels,
		BitRate:    c.Audio.BitRate,
	}
}

// MetadataItems converts the configured metadata.
func (c *Config) MetadataItems() []media.MetadataItem {
	items := make([]media.MetadataItem, 0, len(c.Metadata))
	for _, m := range c.Metadata {
		items = append(items, media.MetadataItem{Key: m.Key, Value: m.Value})
	}
	return items
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level)
}
