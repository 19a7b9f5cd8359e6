package config

import (
	"fmt"
	"net/url"
	"strings"
)

// FieldError is a validation error for one configuration field.
type FieldError struct {
	// Field is the dotted path to the field (e.g. "providers[0].base_url").
	Field string

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every validation failure in a configuration.
type ValidationError struct {
	Errors []FieldError
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

var validProtocols = map[string]bool{
	"openai":    true,
	"responses": true,
	"anthropic": true,
	"gemini":    true,
}

// Validate checks the configuration and returns a ValidationError
// listing every problem found, or nil.
func Validate(cfg *Config) error {
	var errs []FieldError

	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Logging.Level != "" {
		switch cfg.Logging.Level {
		case "debug", "info", "warn", "error":
		default:
			add("logging.level", "must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
		}
	}
	if cfg.Logging.Format != "" && cfg.Logging.Format != "json" && cfg.Logging.Format != "text" {
		add("logging.format", "must be json or text; got %q", cfg.Logging.Format)
	}

	if len(cfg.Providers) == 0 {
		add("providers", "at least one provider is required")
	}

	seen := make(map[string]bool, len(cfg.Providers))
	for i, p := range cfg.Providers {
		field := func(name string) string { return fmt.Sprintf("providers[%d].%s", i, name) }

		if p.ID == "" {
			add(field("id"), "required")
		} else if seen[p.ID] {
			add(field("id"), "duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true

		if p.BaseURL == "" {
			add(field("base_url"), "required")
		} else if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			add(field("base_url"), "must be an absolute URL; got %q", p.BaseURL)
		} else if strings.HasSuffix(p.BaseURL, "/") {
			add(field("base_url"), "must not end with a slash")
		}

		if !validProtocols[p.Protocol] {
			add(field("protocol"), "must be one of openai, responses, anthropic, gemini; got %q", p.Protocol)
		}
		if p.Weight < 1 {
			add(field("weight"), "must be >= 1; got %d", p.Weight)
		}
		if p.APIKey == "" && p.APIKeyEnv == "" {
			add(field("api_key"), "either api_key or api_key_env is required")
		}
		if p.Timeout < 0 {
			add(field("timeout"), "must not be negative")
		}
	}

	for model, providers := range cfg.ModelMappings {
		for providerID := range providers {
			if !seen[providerID] {
				add(fmt.Sprintf("model_mappings.%s", model), "references unknown provider %q", providerID)
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return ValidationError{Errors: errs}
}
