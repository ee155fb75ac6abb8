package vault

import (
	"context"
	"fmt"
	"sort"
	"strings"

	dserrors "github.com/systmms/kvsync/internal/errors"
	"github.com/systmms/kvsync/internal/logging"
)

// constructor builds a backend from its configuration map.
type constructor func(ctx context.Context, configMap map[string]interface{}, logger *logging.Logger) (Client, error)

var backends = map[string]constructor{
	azureBackend: func(ctx context.Context, configMap map[string]interface{}, logger *logging.Logger) (Client, error) {
		return NewAzureKeyVault(configMap, logger)
	},
	awsBackend: func(ctx context.Context, configMap map[string]interface{}, logger *logging.Logger) (Client, error) {
		return NewAWSSecretsManager(configMap, logger)
	},
	gcpBackend: func(ctx context.Context, configMap map[string]interface{}, logger *logging.Logger) (Client, error) {
		return NewGCPSecretManager(ctx, configMap, logger)
	},
}

// SupportedTypes returns the sorted backend type names.
func SupportedTypes() []string {
	types := make([]string, 0, len(backends))
	for name := range backends {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// IsSupported reports whether a backend type is implemented.
func IsSupported(typeName string) bool {
	_, ok := backends[typeName]
	return ok
}

// New creates the configured backend.
func New(ctx context.Context, typeName string, configMap map[string]interface{}, logger *logging.Logger) (Client, error) {
	build, ok := backends[typeName]
	if !ok {
		return nil, dserrors.ConfigError{
			Field:      "vault.type",
			Value:      typeName,
			Message:    "unsupported vault type",
			Suggestion: fmt.Sprintf("Use one of: %s", strings.Join(SupportedTypes(), ", ")),
		}
	}
	return build(ctx, configMap, logger)
}
