package commands

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/systmms/kvsync/internal/config"
	"github.com/systmms/kvsync/internal/logging"
	"github.com/systmms/kvsync/internal/vault"
)

const testConfigYAML = `
version: 1
vault:
  type: azure-keyvault
  vault_url: https://unit.vault.azure.net/
secrets:
  ConnectionStrings--Dev--IdentityService: "Server=x;Database=devFoo;"
  Encryption--Passphrase: "correct horse battery staple"
legacy:
  - ConnectionString--Old
settle:
  timeout_ms: 100
  poll_interval_ms: 1
`

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "kvsync.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(testConfigYAML), 0o600))
	return &config.Config{
		Path:   configPath,
		Logger: logging.New(false, true), // quiet mode
	}
}

// withFakeVault swaps the vault constructor for the given fake for the
// duration of the test.
func withFakeVault(t *testing.T, f *vault.Fake) {
	t.Helper()
	original := newVaultClient
	newVaultClient = func(ctx context.Context, cfg *config.Config) (vault.Client, error) {
		return f, nil
	}
	t.Cleanup(func() { newVaultClient = original })
}

// captureOutput executes the command with stdout captured, returning the
// output and the command's error.
func captureOutput(t *testing.T, cmd *cobra.Command, args []string) (string, error) {
	t.Helper()

	old := os.Stdout
	r, w, pipeErr := os.Pipe()
	require.NoError(t, pipeErr)
	os.Stdout = w

	if args != nil {
		cmd.SetArgs(args)
	}
	err := cmd.Execute()

	_ = w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String(), err
}
