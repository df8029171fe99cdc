// Package config sources all tunables from environment variables, with a
// .env file honored for local runs.
package config

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every configurable parameter of the service.
type Config struct {
	// Server
	Addr string `envconfig:"ADDR" default:":8080"`

	// Storage. Empty selects an in-memory database.
	DBPath     string `envconfig:"DB_PATH"`
	ScratchDir string `envconfig:"SCRATCH_DIR" default:"data/scratch"`

	// Reasoning provider. An empty key disables the reasoning service and
	// every turn takes the fallback path.
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	GeminiModel  string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`

	// Agent loop
	AgentMaxSteps    int     `envconfig:"AGENT_MAX_STEPS" default:"5"`
	AgentTemperature float32 `envconfig:"AGENT_TEMPERATURE" default:"0.3"`

	// Undo stack
	UndoCapacity int `envconfig:"UNDO_CAPACITY" default:"20"`

	// PromptsPath overrides the embedded prompt templates.
	PromptsPath string `envconfig:"PROMPTS_PATH"`
}

// Load reads .env if present, then processes environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment config: %w", err)
	}
	return &cfg, nil
}
