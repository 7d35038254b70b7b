package chat

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSystemPrompt is used when no configuration record sets one.
const DefaultSystemPrompt = "You are a helpful and adaptive assistant."

// ConfigSettings are the tunable fields of a configuration record. Pointer
// fields distinguish "not set" from zero values so records merge cleanly
// over defaults.
type ConfigSettings struct {
	SystemPrompt *string  `json:"system_prompt,omitempty"`
	Model        *string  `json:"model,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
}

// ConfigRecord is one stored configuration. The most recently updated
// record is the active one.
type ConfigRecord struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Settings  ConfigSettings `json:"config_json"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ActiveConfig is the resolved (prompt, model, temperature, max tokens)
// tuple consulted once per request.
type ActiveConfig struct {
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int
}

// Defaults are the process-level fallbacks applied when no record exists or
// a record leaves a field unset.
type Defaults struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// ConfigSource supplies the most recently updated configuration record, or
// nil when none exists.
type ConfigSource interface {
	LatestConfig(ctx context.Context) (*ConfigRecord, error)
}

// Resolver merges the latest configuration record over defaults. It never
// caches: administrative updates are reflected on the next call.
type Resolver struct {
	source   ConfigSource
	defaults Defaults
}

func NewResolver(source ConfigSource, defaults Defaults) *Resolver {
	return &Resolver{source: source, defaults: defaults}
}

// Resolve returns the active configuration. Source failures degrade to
// defaults rather than failing the request.
func (r *Resolver) Resolve(ctx context.Context) ActiveConfig {
	active := ActiveConfig{
		SystemPrompt: DefaultSystemPrompt,
		Model:        r.defaults.Model,
		Temperature:  r.defaults.Temperature,
		MaxTokens:    r.defaults.MaxTokens,
	}

	rec, err := r.source.LatestConfig(ctx)
	if err != nil {
		slog.Warn("config: falling back to defaults", "error", err)
		return active
	}
	if rec == nil {
		return active
	}

	if rec.Settings.SystemPrompt != nil {
		active.SystemPrompt = *rec.Settings.SystemPrompt
	}
	if rec.Settings.Model != nil {
		active.Model = *rec.Settings.Model
	}
	if rec.Settings.Temperature != nil {
		active.Temperature = *rec.Settings.Temperature
	}
	if rec.Settings.MaxTokens != nil {
		active.MaxTokens = *rec.Settings.MaxTokens
	}
	return active
}
