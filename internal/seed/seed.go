// Package seed loads a YAML manifest of chatbot configurations and
// knowledge files at startup, so fresh deployments come up with a working
// prompt and corpus.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Alroma79/data-flywheel-chatbot/internal/chat"
	"github.com/Alroma79/data-flywheel-chatbot/internal/ingest"
)

// Manifest is the on-disk seed format. File paths are resolved relative to
// the manifest's directory.
type Manifest struct {
	Configs []ConfigEntry `yaml:"configs"`
	Files   []string      `yaml:"files"`
}

type ConfigEntry struct {
	Name         string   `yaml:"name"`
	SystemPrompt *string  `yaml:"system_prompt"`
	Model        *string  `yaml:"model"`
	Temperature  *float64 `yaml:"temperature"`
	MaxTokens    *int     `yaml:"max_tokens"`
}

// ConfigStore is the slice of persistence seeding needs.
type ConfigStore interface {
	LatestConfig(ctx context.Context) (*chat.ConfigRecord, error)
	SaveConfig(ctx context.Context, name string, settings chat.ConfigSettings) (*chat.ConfigRecord, error)
}

// Load parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Apply seeds the store and corpus from a manifest. Configurations are only
// written when none exist yet, and file ingestion dedups by content hash,
// so Apply is safe to run on every startup. Per-file failures are logged
// and skipped.
func Apply(ctx context.Context, manifestPath string, store ConfigStore, ingestor *ingest.Ingestor) error {
	m, err := Load(manifestPath)
	if err != nil {
		return err
	}
	baseDir := filepath.Dir(manifestPath)

	if len(m.Configs) > 0 {
		existing, err := store.LatestConfig(ctx)
		if err != nil {
			return fmt.Errorf("check existing config: %w", err)
		}
		if existing == nil {
			for _, c := range m.Configs {
				settings := chat.ConfigSettings{
					SystemPrompt: c.SystemPrompt,
					Model:        c.Model,
					Temperature:  c.Temperature,
					MaxTokens:    c.MaxTokens,
				}
				if _, err := store.SaveConfig(ctx, c.Name, settings); err != nil {
					return fmt.Errorf("seed config %q: %w", c.Name, err)
				}
				slog.Info("seed: config created", "name", c.Name)
			}
		} else {
			slog.Info("seed: configs already present, skipping")
		}
	}

	for _, rel := range m.Files {
		path := rel
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, rel)
		}
		res, err := ingestor.AddPath(ctx, path)
		if err != nil {
			slog.Warn("seed: skipping file", "path", path, "error", err)
			continue
		}
		if res.Duplicate {
			slog.Debug("seed: file already ingested", "path", path)
		} else {
			slog.Info("seed: file ingested", "path", path, "filename", res.File.Filename)
		}
	}
	return nil
}
