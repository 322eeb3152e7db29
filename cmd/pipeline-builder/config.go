package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/FrancisVarga/stupid-db-sub000/internal/layout"
)

// Config holds the CLI settings.
// Priority: env vars > settings.json > defaults.
type Config struct {
	LogLevel  string        `json:"log_level"`
	LogFormat string        `json:"log_format"`
	Layout    layout.Config `json:"layout"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Layout:    layout.DefaultConfig(),
	}
}

// builderDir is ~/.pipeline-builder unless PIPELINE_BUILDER_HOME is set.
func builderDir() string {
	if v := os.Getenv("PIPELINE_BUILDER_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pipeline-builder"
	}
	return filepath.Join(home, ".pipeline-builder")
}

func settingsPath() string {
	return filepath.Join(builderDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("PIPELINE_BUILDER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PIPELINE_BUILDER_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	envFloat("PIPELINE_BUILDER_CANVAS_WIDTH", &cfg.Layout.CanvasWidth)
	envFloat("PIPELINE_BUILDER_NODE_WIDTH", &cfg.Layout.NodeWidth)
	envFloat("PIPELINE_BUILDER_NODE_HEIGHT", &cfg.Layout.NodeHeight)
	envFloat("PIPELINE_BUILDER_INTRA_STAGE_GAP", &cfg.Layout.IntraStageGap)
	envFloat("PIPELINE_BUILDER_INTER_STAGE_GAP", &cfg.Layout.InterStageGap)
	envFloat("PIPELINE_BUILDER_MARGIN", &cfg.Layout.Margin)

	return cfg
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func writeConfig(cfg Config) (string, error) {
	if err := os.MkdirAll(builderDir(), 0o700); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", err
	}
	path := settingsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
