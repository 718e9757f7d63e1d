package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/menta2k/tile-selector/internal/utils"
	"github.com/menta2k/tile-selector/pkg/apperr"
	"github.com/menta2k/tile-selector/pkg/types"
	"github.com/menta2k/tile-selector/pkg/visibility"
)

// Config holds the application configuration
type Config struct {
	Input   InputConfig   `json:"input"`
	Tiling  TilingConfig  `json:"tiling"`
	Output  OutputConfig  `json:"output"`
	Runtime RuntimeConfig `json:"runtime"`
}

// InputConfig points at the source dataset and images
type InputConfig struct {
	AnnotationPath string `json:"annotation_path"`
	ImagePath      string `json:"image_path"`
	ImagesDir      string `json:"images_dir"`
}

// TilingConfig holds the tile grid and visibility settings
type TilingConfig struct {
	TileSize       []int     `json:"tile_size"`
	Stride         []int     `json:"stride"`
	Threshold      Threshold `json:"polygon_visibility_threshold"`
	SkipDegenerate bool      `json:"skip_degenerate"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	AnnotationPath  string `json:"annotation_path"`
	OutputDir       string `json:"output_dir"`
	Format          string `json:"format"`
	Quality         int    `json:"quality"`
	Lossless        bool   `json:"lossless"`
	DrawAnnotations bool   `json:"draw_annotations"`
}

// RuntimeConfig holds process level settings
type RuntimeConfig struct {
	// Workers bounds per-image parallelism in directory runs; 0 means one
	// per CPU.
	Workers  int    `json:"workers"`
	LogLevel string `json:"log_level"`
}

// Threshold is a visibility threshold that also accepts a numeric string.
// null, a missing key and 0 all select the default.
type Threshold float64

// UnmarshalJSON accepts a number, a numeric string or null
func (t *Threshold) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*t = 0
		return nil
	}
	if s, ok := raw.(string); ok {
		raw = strings.TrimSpace(s)
	}
	v, err := cast.ToFloat64E(raw)
	if err != nil {
		return apperr.Config(apperr.CodeInvalidValue,
			"polygon_visibility_threshold should be a float number", string(data))
	}
	*t = Threshold(v)
	return nil
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Tiling: TilingConfig{
			TileSize:  []int{512, 512},
			Stride:    []int{256, 256},
			Threshold: visibility.DefaultThreshold,
		},
		Output: OutputConfig{
			AnnotationPath: "./output/annotations.json",
			OutputDir:      "./output",
			Format:         "jpg",
			Quality:        95,
		},
		Runtime: RuntimeConfig{
			LogLevel: "info",
		},
	}
}

// LoadFromFile loads configuration from a JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Config(apperr.CodePathNotFound, "config file does not exist", filename)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Merge(Default(), data)
}

// LoadWithOverride loads defaultPath (or the built-in defaults when empty)
// and applies the non-null keys of overridePath on top, section by section.
func LoadWithOverride(defaultPath, overridePath string) (*Config, error) {
	cfg := Default()
	if defaultPath != "" {
		loaded, err := LoadFromFile(defaultPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if overridePath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(overridePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Config(apperr.CodePathNotFound, "override config file does not exist", overridePath)
		}
		return nil, fmt.Errorf("failed to read override file: %w", err)
	}
	return Merge(cfg, data)
}

// Merge returns a copy of base with the non-null keys of the JSON document
// data applied on top. Nested objects are merged key by key.
func Merge(base *Config, data []byte) (*Config, error) {
	baseData, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	var merged map[string]any
	if err := json.Unmarshal(baseData, &merged); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	var override map[string]any
	if err := json.Unmarshal(data, &override); err != nil {
		return nil, parseError(err)
	}
	mergeMaps(merged, override)

	mergedData, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	var config Config
	if err := json.Unmarshal(mergedData, &config); err != nil {
		return nil, parseError(err)
	}
	return &config, nil
}

func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		if v == nil {
			continue
		}
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		if existing, ok := dst[k].(map[string]any); ok {
			mergeMaps(existing, sub)
		} else {
			dst[k] = sub
		}
	}
}

func parseError(err error) error {
	if e, ok := apperr.As(err); ok {
		return e
	}
	return apperr.Config(apperr.CodeInvalidValue, "failed to parse config", err.Error())
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	if err := utils.EnsureDir(filepath.Dir(filename)); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the value ranges of the configuration. File system
// checks are done by ValidateImageInput and ValidateDirectoryInput.
func (c *Config) Validate() error {
	if err := validatePair("tiling.tile_size", c.Tiling.TileSize); err != nil {
		return err
	}
	if err := validatePair("tiling.stride", c.Tiling.Stride); err != nil {
		return err
	}
	if _, err := visibility.NormalizeThreshold(float64(c.Tiling.Threshold)); err != nil {
		return err
	}

	switch strings.ToLower(c.Output.Format) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return invalid("output.format must be one of jpg, png, webp", c.Output.Format)
	}
	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return invalid("output.quality must be between 1 and 100", strconv.Itoa(c.Output.Quality))
	}
	if c.Output.OutputDir == "" {
		return invalid("output.output_dir cannot be empty", "")
	}
	if c.Output.AnnotationPath == "" {
		return invalid("output.annotation_path cannot be empty", "")
	}

	if c.Runtime.Workers < 0 {
		return invalid("runtime.workers cannot be negative", strconv.Itoa(c.Runtime.Workers))
	}
	if _, err := ParseLevel(c.Runtime.LogLevel); err != nil {
		return err
	}

	return nil
}

// ValidateImageInput checks the inputs of a single image run
func (c *Config) ValidateImageInput() error {
	if !utils.FileExists(c.Input.AnnotationPath) {
		return apperr.Config(apperr.CodePathNotFound, "input.annotation_path does not exist", c.Input.AnnotationPath)
	}
	if !utils.FileExists(c.Input.ImagePath) {
		return apperr.Config(apperr.CodePathNotFound, "input.image_path does not exist", c.Input.ImagePath)
	}
	return nil
}

// ValidateDirectoryInput checks the inputs of a directory run
func (c *Config) ValidateDirectoryInput() error {
	if !utils.FileExists(c.Input.AnnotationPath) {
		return apperr.Config(apperr.CodePathNotFound, "input.annotation_path does not exist", c.Input.AnnotationPath)
	}
	if !utils.DirExists(c.Input.ImagesDir) {
		return apperr.Config(apperr.CodeDirNotFound, "input.images_dir does not exist", c.Input.ImagesDir)
	}
	return nil
}

func validatePair(name string, pair []int) error {
	if len(pair) != 2 {
		return invalid(name+" should be a list of two integers [height, width]", fmt.Sprint(pair))
	}
	if pair[0] <= 0 || pair[1] <= 0 {
		return invalid(name+" must be positive", fmt.Sprint(pair))
	}
	return nil
}

func invalid(message, details string) error {
	return apperr.Config(apperr.CodeInvalidValue, message, details)
}

// Spec converts the tile size and stride into a TileSpec. Call Validate
// first; missing values come out as zero.
func (t TilingConfig) Spec() types.TileSpec {
	var size, stride [2]int
	copy(size[:], t.TileSize)
	copy(stride[:], t.Stride)
	return types.NewTileSpec(size, stride)
}

// ParseLevel maps a log level name to a slog level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, invalid("runtime.log_level must be one of debug, info, warn, error", level)
	}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "tile-selector", "config.json")
}
