package server

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cyclopcam/dbh"
	"github.com/icevision/overlay/pkg/inference"
	"github.com/icevision/overlay/pkg/kibi"
	"github.com/icevision/overlay/pkg/overlay"
)

type Config struct {
	Listen        string            `json:"listen"`        // eg ":8090"
	DB            dbh.DBConfig      `json:"db"`            // Detection set cache
	InferenceURL  string            `json:"inferenceURL"`  // Base URL of the detection service
	VideoRoot     string            `json:"videoRoot"`     // Video sources are resolved relative to this directory
	RefreshHz     float64           `json:"refreshHz"`     // Display refresh rate of the overlay
	LineWidth     float64           `json:"lineWidth"`     // Box outline width, in CSS pixels
	FontFile      string            `json:"fontFile"`      // Optional TrueType font for labels
	FontSize      float64           `json:"fontSize"`      // Label font size, in CSS pixels
	MaxUploadSize kibi.Size         `json:"maxUploadSize"` // Largest detection set that a client may upload, eg "64 MB"
	Inference     inference.Options `json:"inference"`     // Default options for predictions
	HotReloadWWW  bool              `json:"hotReloadWWW"`  // Serve the viewer from server/static on disk
}

func DefaultConfig() Config {
	return Config{
		Listen:        ":8090",
		DB:            dbh.MakeSqliteConfig("overlay.sqlite"),
		VideoRoot:     ".",
		RefreshHz:     60,
		LineWidth:     overlay.DefaultStyle().LineWidth,
		FontSize:      overlay.DefaultFontSize,
		MaxUploadSize: 64 * 1024 * 1024,
		Inference:     inference.DefaultOptions(),
	}
}

// LoadConfig reads a JSON config file. Missing fields keep their default values.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()
	if cfgB, err := os.ReadFile(filename); err != nil {
		return nil, err
	} else {
		if err := json.Unmarshal(cfgB, &cfg); err != nil {
			return nil, fmt.Errorf("Error parsing config file %v: %w", filename, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config file %v: %w", filename, err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if !(c.RefreshHz > 0 && c.RefreshHz <= 240) {
		return fmt.Errorf("refreshHz must be between 0 and 240 (got %v)", c.RefreshHz)
	}
	if !(c.LineWidth > 0) {
		return fmt.Errorf("lineWidth must be positive (got %v)", c.LineWidth)
	}
	if !(c.FontSize > 0) {
		return fmt.Errorf("fontSize must be positive (got %v)", c.FontSize)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("maxUploadSize must be positive (got %v)", int64(c.MaxUploadSize))
	}
	if c.DB.Driver == "" {
		return fmt.Errorf("db.Driver must be specified")
	}
	c.Inference = c.Inference.WithDefaults()
	return nil
}

func (c *Config) Style() overlay.Style {
	style := overlay.DefaultStyle()
	style.LineWidth = c.LineWidth
	return style
}
