package commands

import (
	"context"

	"github.com/systmms/kvsync/internal/config"
	"github.com/systmms/kvsync/internal/logging"
	"github.com/systmms/kvsync/internal/vault"
)

// newVaultClient builds the configured backend. Tests swap this for a
// vault.Fake.
var newVaultClient = func(ctx context.Context, cfg *config.Config) (vault.Client, error) {
	return vault.New(ctx, cfg.Definition.Vault.Type, cfg.Definition.Vault.Config, cfg.Logger)
}

// loggerOrDefault guards against commands constructed without the root
// PersistentPreRun having run (direct Execute in tests).
func loggerOrDefault(cfg *config.Config) *logging.Logger {
	if cfg.Logger == nil {
		cfg.Logger = logging.New(false, true)
	}
	return cfg.Logger
}
