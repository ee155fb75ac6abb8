package vault

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	dserrors "github.com/systmms/kvsync/internal/errors"
	"github.com/systmms/kvsync/internal/logging"
)

func TestClassifyGCPError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{
			name:  "not found",
			err:   status.Error(codes.NotFound, "secret not found"),
			check: IsNotFound,
		},
		{
			name:  "permission denied",
			err:   status.Error(codes.PermissionDenied, "caller lacks secretmanager.secrets.get"),
			check: IsAuth,
		},
		{
			name:  "unauthenticated",
			err:   status.Error(codes.Unauthenticated, "credentials expired"),
			check: IsAuth,
		},
		{
			name:  "already exists",
			err:   status.Error(codes.AlreadyExists, "secret already exists"),
			check: IsConflict,
		},
		{
			name:  "failed precondition on disabled version",
			err:   status.Error(codes.FailedPrecondition, "secret version is in DISABLED state"),
			check: IsConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(classifyGCPError("test", "db", tt.err)))
		})
	}

	err := classifyGCPError("list", "", status.Error(codes.Unavailable, "try again"))
	assert.False(t, IsNotFound(err) || IsAuth(err) || IsConflict(err))
}

func TestGCPRequiresProjectID(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCLOUD_PROJECT", "")
	t.Setenv("GCP_PROJECT", "")

	logger := logging.NewWithWriter(&bytes.Buffer{}, false, true)
	_, err := NewGCPSecretManager(t.Context(), map[string]interface{}{}, logger)
	require.Error(t, err)

	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "project_id", cfgErr.Field)
}

func TestGCPSecretPaths(t *testing.T) {
	v := &GCPSecretManager{projectID: "my-project"}
	assert.Equal(t, "projects/my-project/secrets/db", v.secretPath("db"))
	assert.Equal(t, "projects/my-project/secrets/db/versions/latest", v.latestVersionPath("db"))
}

func TestGCPProjectFromEnv(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCLOUD_PROJECT", "fallback-project")
	t.Setenv("GCP_PROJECT", "")
	assert.Equal(t, "fallback-project", gcpProjectFromEnv())
}
