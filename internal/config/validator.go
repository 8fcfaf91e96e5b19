package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Camera names become file names, so keep them shell- and filesystem-safe.
var cameraNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`)

// Validate checks the configuration and fills in defaults.
func Validate(cfg *Config) error {
	if len(cfg.Cameras) == 0 {
		return fmt.Errorf("at least one camera is required")
	}

	names := make(map[string]bool, len(cfg.Cameras))
	for i := range cfg.Cameras {
		cam := &cfg.Cameras[i]

		if cam.Name == "" {
			return fmt.Errorf("camera %d: name is required", i)
		}
		if !cameraNamePattern.MatchString(cam.Name) {
			return fmt.Errorf("camera %q: name must match pattern [a-zA-Z0-9_-]+", cam.Name)
		}
		if names[cam.Name] {
			return fmt.Errorf("camera %q: duplicate name", cam.Name)
		}
		names[cam.Name] = true

		switch cam.Type {
		case "color", "thermal":
		default:
			return fmt.Errorf("camera %q: unknown type %q, must be 'color' or 'thermal'",
				cam.Name, cam.Type)
		}

		if cam.Element == "" {
			return fmt.Errorf("camera %q: element is required", cam.Name)
		}

		if cam.Framerate <= 0 {
			cam.Framerate = 30 // default
		}

		if cam.Format == "" {
			switch cam.Type {
			case "color":
				cam.Format = ".avi"
			case "thermal":
				cam.Format = ".raw"
			}
		}
		if !strings.HasPrefix(cam.Format, ".") {
			return fmt.Errorf("camera %q: format %q must start with a dot", cam.Name, cam.Format)
		}
	}

	if cfg.StreamingCamera != "" {
		if !names[cfg.StreamingCamera] {
			return fmt.Errorf("unknown streaming camera %q, should be one of %v",
				cfg.StreamingCamera, cameraNames(cfg))
		}
		for _, cam := range cfg.Cameras {
			if cam.Name == cfg.StreamingCamera && cam.Type != "color" {
				return fmt.Errorf("streaming camera %q is not a color camera, streaming is only supported for color cameras",
					cfg.StreamingCamera)
			}
		}
	}

	return nil
}

func cameraNames(cfg *Config) []string {
	names := make([]string, 0, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		names = append(names, cam.Name)
	}
	return names
}
