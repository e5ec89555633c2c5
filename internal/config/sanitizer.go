package config

import "encoding/json"

// Sanitizer redacts sensitive configuration fields before the
// configuration is logged.
type Sanitizer interface {
	Sanitize(cfg *Config) *Config
}

// DefaultSanitizer redacts archive-store and configuration-store
// credentials with a fixed placeholder value.
type DefaultSanitizer struct {
	redactionValue string
}

// NewDefaultSanitizer returns a Sanitizer using "***REDACTED***".
func NewDefaultSanitizer() Sanitizer {
	return &DefaultSanitizer{redactionValue: "***REDACTED***"}
}

// NewSanitizer returns a Sanitizer using a custom redaction value.
func NewSanitizer(redactionValue string) Sanitizer {
	return &DefaultSanitizer{redactionValue: redactionValue}
}

// Sanitize returns a deep copy of cfg with every secret-bearing field
// replaced by the redaction value.
func (s *DefaultSanitizer) Sanitize(cfg *Config) *Config {
	sanitized := s.deepCopy(cfg)

	sanitized.ConfigurationStore.URI = s.redactCredentials(sanitized.ConfigurationStore.URI)
	sanitized.ArchiveStore.Password = s.redactionValue
	sanitized.Reporting.SMTP.Password = s.redactionValue
	sanitized.Reporting.Slack.WebhookURL = s.redactURLIfSet(sanitized.Reporting.Slack.WebhookURL)

	return sanitized
}

func (s *DefaultSanitizer) deepCopy(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var dup Config
	if err := json.Unmarshal(data, &dup); err != nil {
		return cfg
	}
	return &dup
}

// redactCredentials replaces any non-empty DSN/URI wholesale, whether or
// not it carries embedded credentials; an empty value is left empty.
func (s *DefaultSanitizer) redactCredentials(uri string) string {
	if uri == "" {
		return uri
	}
	return s.redactionValue
}

func (s *DefaultSanitizer) redactURLIfSet(url string) string {
	if url == "" {
		return url
	}
	return s.redactionValue
}
