// Package config loads and validates the camera fleet description the
// daemon records from.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-proto-recorder/internal/recorder"
)

// Config is the on-disk daemon configuration.
type Config struct {
	// Cameras lists every capture source the daemon records from
	Cameras []CameraConfig `json:"cameras" yaml:"cameras" toml:"cameras"`
	// StreamingCamera names the camera whose frames feed the live preview;
	// empty disables the preview
	StreamingCamera string `json:"streaming_camera" yaml:"streaming_camera" toml:"streaming_camera"`
}

// CameraConfig describes one camera.
type CameraConfig struct {
	// Name is unique per fleet and becomes the output file stem
	Name string `json:"name" yaml:"name" toml:"name"`
	// Type is the sensor family: "color" or "thermal"
	Type string `json:"type" yaml:"type" toml:"type"`
	// Element is the GStreamer source element (e.g., "v4l2src")
	Element string `json:"element" yaml:"element" toml:"element"`
	// Properties are set on the source element as-is
	Properties map[string]any `json:"properties" yaml:"properties" toml:"properties"`
	// Format is the output file extension including the dot; defaults by
	// type (".avi" color, ".raw" thermal)
	Format string `json:"format" yaml:"format" toml:"format"`
	// Framerate is the capture rate; defaults to 30
	Framerate int `json:"framerate" yaml:"framerate" toml:"framerate"`
}

// Load reads a configuration file based on its extension and validates it.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported config extension: %s", ext)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Streams converts the camera list into the recorder's fleet description,
// marking the streaming camera as the preview source.
func (c *Config) Streams() []recorder.StreamConfig {
	out := make([]recorder.StreamConfig, 0, len(c.Cameras))
	for _, cam := range c.Cameras {
		out = append(out, recorder.StreamConfig{
			Name: cam.Name,
			Kind: recorder.StreamKind(cam.Type),
			Source: recorder.SourceConfig{
				Element:    cam.Element,
				Properties: cam.Properties,
			},
			Format:  cam.Format,
			FPS:     cam.Framerate,
			Preview: cam.Name == c.StreamingCamera,
		})
	}
	return out
}
