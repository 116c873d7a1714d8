package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/seismic-bv/seismic/internal/errors"
	"github.com/seismic-bv/seismic/internal/logging"
	"github.com/seismic-bv/seismic/internal/nostr"
	"github.com/seismic-bv/seismic/internal/validation"
)

// ValidationError is a single configuration problem with suggestions.
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation. Warnings
// never prevent startup.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("Validation errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("      hint: %s\n", suggestion))
			}
		}
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("Validation warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("      hint: %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

// Err converts the errors into a structured config error, or nil.
func (vr *ValidationResult) Err() error {
	if !vr.HasErrors() {
		return nil
	}
	vec := &errors.ValidationErrorCollection{}
	for _, ve := range vr.Errors {
		vec.AddField(ve.Field, ve.Value, ve.Message, ve.Suggestions...)
	}
	return errors.WrapConfig(vec.ToError(), errors.ErrCodeConfigInvalid, vec.Error()).
		WithComponent("config")
}

func (vr *ValidationResult) addError(field string, value interface{}, message string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

func (vr *ValidationResult) addWarning(field string, value interface{}, message string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

// ValidateConfigWithDetails checks every section and collects errors and
// warnings.
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServerConfig(&config.Server, result)
	validateContactConfig(&config.Contact, result)
	validateSiteConfig(&config.Site, result)
	validateLogConfig(&config.Log, result)

	return result
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	return ValidateConfigWithDetails(config).Err()
}

func validateServerConfig(config *ServerConfig, result *ValidationResult) {
	// 0 lets the OS pick a port, used by tests
	if config.Port < 0 || config.Port > 65535 {
		result.addError("server.port", config.Port, fmt.Sprintf("port %d is not in valid range 0-65535", config.Port))
	}

	if strings.ContainsAny(config.Host, ";&|$`()<>\"'\\ ") {
		result.addError("server.host", config.Host, "host contains dangerous characters")
	}

	if config.Host == "0.0.0.0" && len(config.AllowedOrigins) == 0 {
		result.addWarning("server.allowed_origins", nil,
			"listening on all interfaces without allowed origins; status websocket accepts same-host origins only",
			"set server.allowed_origins to the public site origin")
	}

	if config.ShutdownTimeout <= 0 {
		result.addError("server.shutdown_timeout", config.ShutdownTimeout, "must be positive")
	}

	if config.RateLimit.Enabled {
		if config.RateLimit.RequestsPerMinute <= 0 {
			result.addError("server.rate_limit.requests_per_minute", config.RateLimit.RequestsPerMinute, "must be positive when rate limiting is enabled")
		}
		if config.RateLimit.Burst <= 0 {
			result.addError("server.rate_limit.burst", config.RateLimit.Burst, "must be positive when rate limiting is enabled")
		}
	}
}

func validateContactConfig(config *ContactConfig, result *ValidationResult) {
	if _, err := nostr.ParsePublicKey(config.Recipient); err != nil {
		result.addError("contact.recipient", config.Recipient, err.Error(),
			"use an npub1... key or 64 hex characters", "run `seismic keygen` to create a recipient key")
	} else if config.Recipient == DefaultRecipient {
		result.addWarning("contact.recipient", config.Recipient, "using the built-in recipient key")
	}

	if len(config.Relays) == 0 {
		result.addError("contact.relays", config.Relays, "at least one relay is required")
	}
	seen := make(map[string]bool, len(config.Relays))
	for i, r := range config.Relays {
		field := fmt.Sprintf("contact.relays[%d]", i)
		if err := validation.ValidateRelayURL(r); err != nil {
			result.addError(field, r, err.Error())
			continue
		}
		if seen[r] {
			result.addWarning(field, r, "duplicate relay")
		}
		seen[r] = true
		if !validation.IsSecureRelay(r) {
			result.addWarning(field, r, "relay is not using TLS", "prefer wss:// relays")
		}
	}

	if config.PublishTimeout <= 0 {
		result.addError("contact.publish_timeout", config.PublishTimeout, "must be positive")
	} else if config.PublishTimeout > time.Minute {
		result.addWarning("contact.publish_timeout", config.PublishTimeout, "visitors wait at most this long for relays")
	}

	if config.StatusClearDelay <= 0 {
		result.addError("contact.status_clear_delay", config.StatusClearDelay, "must be positive")
	}

	if _, err := nostr.CipherByName(config.Cipher); err != nil {
		result.addError("contact.cipher", config.Cipher, err.Error())
	}

	if config.MaxMessageSize <= 0 {
		result.addError("contact.max_message_size", config.MaxMessageSize, "must be positive")
	}
}

func validateSiteConfig(config *SiteConfig, result *ValidationResult) {
	if config.ContentFile != "" {
		if err := validation.ValidatePath(config.ContentFile); err != nil {
			result.addError("site.content_file", config.ContentFile, err.Error())
		}
	} else if config.Watch {
		result.addWarning("site.watch", config.Watch, "nothing to watch without site.content_file")
	}

	if config.AssetsDir != "" {
		if err := validation.ValidatePath(config.AssetsDir); err != nil {
			result.addError("site.assets_dir", config.AssetsDir, err.Error())
		}
	}
}

func validateLogConfig(config *LogConfig, result *ValidationResult) {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		result.addError("log.level", config.Level, err.Error(), "one of debug, info, warn, error")
	}

	switch strings.ToLower(config.Format) {
	case "text", "json":
	default:
		result.addError("log.format", config.Format, "must be text or json")
	}
}
