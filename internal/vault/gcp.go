package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	dserrors "github.com/systmms/kvsync/internal/errors"
	"github.com/systmms/kvsync/internal/logging"
)

const gcpBackend = "gcp-secretmanager"

// GCPSecretManager implements Client against Google Secret Manager.
//
// Secret Manager has no native soft-delete, so the backend emulates the
// three-state lifecycle on the latest version: disabling it is the
// soft-deleted state, destroying the secret resource is the purge. The
// reconciler's phase contract holds unchanged.
type GCPSecretManager struct {
	client    *secretmanager.Client
	logger    *logging.Logger
	projectID string
}

// NewGCPSecretManager creates a GCP Secret Manager backend from a
// configuration map.
func NewGCPSecretManager(ctx context.Context, configMap map[string]interface{}, logger *logging.Logger) (*GCPSecretManager, error) {
	var projectID, keyPath string
	if p, ok := configMap["project_id"].(string); ok {
		projectID = p
	}
	if k, ok := configMap["service_account_key_path"].(string); ok {
		keyPath = k
	}

	if projectID == "" {
		projectID = gcpProjectFromEnv()
	}
	if projectID == "" {
		return nil, dserrors.ConfigError{
			Field:      "project_id",
			Message:    "project_id is required for GCP Secret Manager",
			Suggestion: "Set project_id in config or the GOOGLE_CLOUD_PROJECT environment variable",
		}
	}

	var clientOptions []option.ClientOption
	if keyPath != "" {
		if strings.HasPrefix(keyPath, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get home directory: %w", err)
			}
			keyPath = filepath.Join(home, keyPath[2:])
		}
		clientOptions = append(clientOptions, option.WithCredentialsFile(keyPath))
	}

	client, err := secretmanager.NewClient(ctx, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCP Secret Manager client: %w", err)
	}

	return &GCPSecretManager{
		client:    client,
		logger:    logger,
		projectID: projectID,
	}, nil
}

func gcpProjectFromEnv() string {
	for _, key := range []string{"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT", "GCP_PROJECT"} {
		if projectID := os.Getenv(key); projectID != "" {
			return projectID
		}
	}
	return ""
}

// classifyGCPError maps gRPC status codes onto the vault taxonomy.
func classifyGCPError(op, name string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return NotFoundError{Backend: gcpBackend, Name: name}
	case codes.PermissionDenied, codes.Unauthenticated:
		return AuthError{Backend: gcpBackend, Err: err}
	case codes.AlreadyExists, codes.FailedPrecondition:
		return ConflictError{Backend: gcpBackend, Name: name, Err: err}
	}
	return ServiceError{Backend: gcpBackend, Op: op, Name: name, Err: err}
}

func (v *GCPSecretManager) secretPath(name string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", v.projectID, name)
}

func (v *GCPSecretManager) latestVersionPath(name string) string {
	return v.secretPath(name) + "/versions/latest"
}

// latestState fetches the state of the latest version. Returns NotFoundError
// when the secret or its versions do not exist.
func (v *GCPSecretManager) latestState(ctx context.Context, name string) (secretmanagerpb.SecretVersion_State, error) {
	version, err := v.client.GetSecretVersion(ctx, &secretmanagerpb.GetSecretVersionRequest{
		Name: v.latestVersionPath(name),
	})
	if err != nil {
		return 0, classifyGCPError("get-version", name, err)
	}
	return version.State, nil
}

func (v *GCPSecretManager) gcpMetadata(ctx context.Context, name string, enabled bool) (Metadata, error) {
	secret, err := v.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{
		Name: v.secretPath(name),
	})
	if err != nil {
		return Metadata{}, classifyGCPError("get-metadata", name, err)
	}
	md := Metadata{Name: name, Enabled: enabled}
	if secret.CreateTime != nil {
		md.Created = secret.CreateTime.AsTime()
		md.Updated = secret.CreateTime.AsTime()
	}
	if len(secret.Labels) > 0 {
		md.Tags = secret.Labels
	}
	return md, nil
}

// ListSecretNames returns secrets whose latest version is enabled.
func (v *GCPSecretManager) ListSecretNames(ctx context.Context) ([]string, error) {
	var names []string
	it := v.client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{
		Parent: "projects/" + v.projectID,
	})
	for {
		secret, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classifyGCPError("list", "", err)
		}
		name := secret.Name[strings.LastIndex(secret.Name, "/")+1:]
		state, err := v.latestState(ctx, name)
		if err != nil {
			if IsNotFound(err) {
				continue // secret shell with no versions
			}
			return nil, err
		}
		if state == secretmanagerpb.SecretVersion_ENABLED {
			names = append(names, name)
		}
	}
	return names, nil
}

// GetActive returns the latest enabled version's payload and metadata.
func (v *GCPSecretManager) GetActive(ctx context.Context, name string) (Metadata, string, error) {
	access, err := v.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: v.latestVersionPath(name),
	})
	if err != nil {
		classified := classifyGCPError("get", name, err)
		if IsConflict(classified) {
			// Latest version disabled: soft-deleted, absent from active view.
			return Metadata{}, "", NotFoundError{Backend: gcpBackend, Name: name}
		}
		return Metadata{}, "", classified
	}
	md, err := v.gcpMetadata(ctx, name, true)
	if err != nil {
		return Metadata{}, "", err
	}
	return md, string(access.Payload.Data), nil
}

// GetSoftDeleted reports a secret whose latest version is disabled.
func (v *GCPSecretManager) GetSoftDeleted(ctx context.Context, name string) (Metadata, error) {
	state, err := v.latestState(ctx, name)
	if err != nil {
		return Metadata{}, err
	}
	if state != secretmanagerpb.SecretVersion_DISABLED {
		return Metadata{}, NotFoundError{Backend: gcpBackend, Name: name}
	}
	return v.gcpMetadata(ctx, name, false)
}

// SetSecret creates the secret resource if needed and adds a new version.
// A disabled remnant refuses the write, matching soft-delete protection.
func (v *GCPSecretManager) SetSecret(ctx context.Context, name, value string) error {
	v.logger.Debug("Setting GCP secret %s (value %s)", name, logging.Secret(value))

	state, err := v.latestState(ctx, name)
	if err == nil && state == secretmanagerpb.SecretVersion_DISABLED {
		return ConflictError{
			Backend: gcpBackend,
			Name:    name,
			Err:     fmt.Errorf("a disabled version occupies this name; purge it first"),
		}
	}
	if err != nil && !IsNotFound(err) {
		return err
	}

	if IsNotFound(err) {
		_, createErr := v.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{
			Parent:   "projects/" + v.projectID,
			SecretId: name,
			Secret: &secretmanagerpb.Secret{
				Replication: &secretmanagerpb.Replication{
					Replication: &secretmanagerpb.Replication_Automatic_{
						Automatic: &secretmanagerpb.Replication_Automatic{},
					},
				},
			},
		})
		if createErr != nil && status.Code(createErr) != codes.AlreadyExists {
			return classifyGCPError("set", name, createErr)
		}
	}

	_, err = v.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  v.secretPath(name),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	})
	if err != nil {
		return classifyGCPError("set", name, err)
	}
	return nil
}

// DeleteSecret disables the latest version, the emulated soft-delete.
func (v *GCPSecretManager) DeleteSecret(ctx context.Context, name string) error {
	_, err := v.client.DisableSecretVersion(ctx, &secretmanagerpb.DisableSecretVersionRequest{
		Name: v.latestVersionPath(name),
	})
	if err != nil {
		return classifyGCPError("delete", name, err)
	}
	return nil
}

// PurgeSecret destroys the whole secret resource, freeing the name.
func (v *GCPSecretManager) PurgeSecret(ctx context.Context, name string) error {
	err := v.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{
		Name: v.secretPath(name),
	})
	if err != nil {
		return classifyGCPError("purge", name, err)
	}
	return nil
}
