// Package config loads and validates the kvsync.yaml file. Secret values are
// moved into secure enclaves during decoding; the configuration structs never
// retain plaintext.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/kvsync/internal/errors"
	"github.com/systmms/kvsync/internal/logging"
	"github.com/systmms/kvsync/internal/reconcile"
	"github.com/systmms/kvsync/internal/secure"
)

//go:embed schema.json
var schemaJSON string

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the kvsync.yaml structure
type Definition struct {
	Version int                     `yaml:"version"`
	Vault   VaultConfig             `yaml:"vault"`
	Secrets map[string]SecretSource `yaml:"secrets"`
	Legacy  []string                `yaml:"legacy,omitempty"`
	Settle  SettleConfig            `yaml:"settle,omitempty"`
}

// VaultConfig holds vault-specific configuration. Backend keys beyond the
// type selector stay in the inline map and are interpreted by the backend.
type VaultConfig struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:",inline"`
}

// SettleConfig tunes the poll-until-absent waits after deletes and purges.
type SettleConfig struct {
	TimeoutMs      int `yaml:"timeout_ms,omitempty"`
	PollIntervalMs int `yaml:"poll_interval_ms,omitempty"`
}

const (
	defaultSettleTimeoutMs      = 30000
	defaultSettlePollIntervalMs = 2000
)

// Timeout returns the settle timeout, defaulted when unset.
func (s SettleConfig) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return defaultSettleTimeoutMs * time.Millisecond
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// PollInterval returns the settle poll interval, defaulted when unset.
func (s SettleConfig) PollInterval() time.Duration {
	if s.PollIntervalMs <= 0 {
		return defaultSettlePollIntervalMs * time.Millisecond
	}
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// SecretSource is one desired secret value, given either as a literal scalar
// or as {env: NAME}. The resolved value lives in a secure enclave.
type SecretSource struct {
	value *secure.Value
}

// Value returns the enclave holding the resolved secret.
func (s SecretSource) Value() *secure.Value {
	return s.value
}

// UnmarshalYAML accepts a bare scalar literal or an {env: NAME} mapping.
// Env-sourced values must be present in the environment at load time.
func (s *SecretSource) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var literal string
		if err := node.Decode(&literal); err != nil {
			return err
		}
		s.value = secure.NewValue(literal)
		return nil
	case yaml.MappingNode:
		var ref struct {
			Env string `yaml:"env"`
		}
		if err := node.Decode(&ref); err != nil {
			return err
		}
		if ref.Env == "" {
			return fmt.Errorf("secret source mapping requires a non-empty 'env' key")
		}
		value, ok := os.LookupEnv(ref.Env)
		if !ok {
			return fmt.Errorf("environment variable %s is not set", ref.Env)
		}
		s.value = secure.NewValue(value)
		return nil
	}
	return fmt.Errorf("secret source must be a string literal or an {env: NAME} mapping")
}

// Load reads, schema-validates, and parses the kvsync.yaml file.
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create a kvsync.yaml or point --config at an existing one",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	// Schema validation runs on the raw document, before any env lookups or
	// enclave moves happen in the typed decode.
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if err := validateSchema(raw); err != nil {
		return dserrors.ConfigError{
			Field:      "kvsync.yaml",
			Message:    err.Error(),
			Suggestion: "Compare your file against the documented layout",
		}
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return dserrors.ConfigError{
			Field:      "secrets",
			Message:    err.Error(),
			Suggestion: "Every env-sourced secret must have its environment variable set before running",
		}
	}

	if def.Version != 1 {
		return dserrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 1' at the top of your kvsync.yaml file",
		}
	}

	c.Definition = &def
	return nil
}

func validateSchema(doc map[string]interface{}) error {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var errorMessages []string
		for _, desc := range result.Errors() {
			errorMessages = append(errorMessages, desc.String())
		}
		return fmt.Errorf("schema validation failed:\n  - %s", strings.Join(errorMessages, "\n  - "))
	}
	return nil
}

// DesiredSecrets returns the declared target state sorted by name, for
// deterministic phase ordering and output.
func (c *Config) DesiredSecrets() []reconcile.DesiredSecret {
	if c.Definition == nil {
		return nil
	}
	desired := make([]reconcile.DesiredSecret, 0, len(c.Definition.Secrets))
	for name, source := range c.Definition.Secrets {
		desired = append(desired, reconcile.DesiredSecret{Name: name, Value: source.Value()})
	}
	sort.Slice(desired, func(i, j int) bool { return desired[i].Name < desired[j].Name })
	return desired
}
