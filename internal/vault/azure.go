package vault

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	dserrors "github.com/systmms/kvsync/internal/errors"
	"github.com/systmms/kvsync/internal/logging"
)

const azureBackend = "azure-keyvault"

// AzureSecretsAPI is the subset of the azsecrets client the backend uses.
// Narrowing to an interface allows fake injection in tests.
type AzureSecretsAPI interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	GetDeletedSecret(ctx context.Context, name string, options *azsecrets.GetDeletedSecretOptions) (azsecrets.GetDeletedSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
	DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error)
	PurgeDeletedSecret(ctx context.Context, name string, options *azsecrets.PurgeDeletedSecretOptions) (azsecrets.PurgeDeletedSecretResponse, error)
	NewListSecretPropertiesPager(options *azsecrets.ListSecretPropertiesOptions) *runtime.Pager[azsecrets.ListSecretPropertiesResponse]
}

// AzureKeyVault implements Client against Azure Key Vault, the one backend
// with native soft-delete and purge operations.
type AzureKeyVault struct {
	client   AzureSecretsAPI
	logger   *logging.Logger
	vaultURL string
}

// AzureConfig holds Azure Key Vault connection settings.
type AzureConfig struct {
	VaultURL           string
	TenantID           string
	ClientID           string
	ClientSecret       string
	UseManagedIdentity bool
	UserAssignedID     string
}

// AzureOption is a functional option for the Azure backend.
type AzureOption func(*AzureKeyVault)

// WithAzureSecretsClient sets a custom azsecrets client (for testing).
func WithAzureSecretsClient(client AzureSecretsAPI) AzureOption {
	return func(v *AzureKeyVault) {
		v.client = client
	}
}

// NewAzureKeyVault creates an Azure Key Vault backend from a configuration
// map, building a real azsecrets client unless one is injected via options.
func NewAzureKeyVault(configMap map[string]interface{}, logger *logging.Logger, opts ...AzureOption) (*AzureKeyVault, error) {
	config := AzureConfig{
		UseManagedIdentity: true, // Default to managed identity
	}

	if vaultURL, ok := configMap["vault_url"].(string); ok {
		config.VaultURL = vaultURL
	}
	if tenantID, ok := configMap["tenant_id"].(string); ok {
		config.TenantID = tenantID
	}
	if clientID, ok := configMap["client_id"].(string); ok {
		config.ClientID = clientID
	}
	if clientSecret, ok := configMap["client_secret"].(string); ok {
		config.ClientSecret = clientSecret
	}
	if useMI, ok := configMap["use_managed_identity"].(bool); ok {
		config.UseManagedIdentity = useMI
	}
	if userAssignedID, ok := configMap["user_assigned_identity_id"].(string); ok {
		config.UserAssignedID = userAssignedID
	}

	if config.VaultURL == "" {
		return nil, dserrors.ConfigError{
			Field:      "vault_url",
			Message:    "vault_url is required for Azure Key Vault",
			Suggestion: "Provide the Key Vault URL (e.g., https://my-vault.vault.azure.net/)",
		}
	}
	if _, err := url.Parse(config.VaultURL); err != nil {
		return nil, dserrors.ConfigError{
			Field:      "vault_url",
			Message:    "Invalid vault_url format",
			Suggestion: "Use format: https://vault-name.vault.azure.net/",
		}
	}

	v := &AzureKeyVault{
		logger:   logger,
		vaultURL: config.VaultURL,
	}

	for _, opt := range opts {
		opt(v)
	}

	if v.client == nil {
		client, err := newAzureSecretsClient(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Key Vault client: %w", err)
		}
		v.client = client
	}

	return v, nil
}

// newAzureSecretsClient builds an azsecrets client with the configured
// authentication method.
func newAzureSecretsClient(config AzureConfig) (*azsecrets.Client, error) {
	var cred azcore.TokenCredential
	var err error

	switch {
	case config.UseManagedIdentity && config.UserAssignedID != "":
		cred, err = azidentity.NewManagedIdentityCredential(&azidentity.ManagedIdentityCredentialOptions{
			ID: azidentity.ClientID(config.UserAssignedID),
		})
	case config.UseManagedIdentity:
		cred, err = azidentity.NewManagedIdentityCredential(nil)
	case config.ClientSecret != "":
		cred, err = azidentity.NewClientSecretCredential(config.TenantID, config.ClientID, config.ClientSecret, nil)
	default:
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	client, err := azsecrets.NewClient(config.VaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
	}
	return client, nil
}

// classifyAzureError maps azcore response errors onto the vault taxonomy.
func classifyAzureError(op, name string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 404:
			return NotFoundError{Backend: azureBackend, Name: name}
		case 401, 403:
			return AuthError{Backend: azureBackend, Err: err}
		case 409:
			return ConflictError{Backend: azureBackend, Name: name, Err: err}
		}
	}
	return ServiceError{Backend: azureBackend, Op: op, Name: name, Err: err}
}

func azureMetadata(name string, attrs *azsecrets.SecretAttributes, contentType *string, tags map[string]*string) Metadata {
	md := Metadata{Name: name}
	if contentType != nil {
		md.ContentType = *contentType
	}
	if attrs != nil {
		if attrs.Enabled != nil {
			md.Enabled = *attrs.Enabled
		}
		if attrs.Created != nil {
			md.Created = *attrs.Created
		}
		if attrs.Updated != nil {
			md.Updated = *attrs.Updated
		}
	}
	if len(tags) > 0 {
		md.Tags = make(map[string]string, len(tags))
		for k, v := range tags {
			if v != nil {
				md.Tags[k] = *v
			}
		}
	}
	return md
}

// ListSecretNames pages through active secret properties.
func (v *AzureKeyVault) ListSecretNames(ctx context.Context) ([]string, error) {
	var names []string
	pager := v.client.NewListSecretPropertiesPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classifyAzureError("list", "", err)
		}
		for _, props := range page.Value {
			if props == nil || props.ID == nil {
				continue
			}
			names = append(names, props.ID.Name())
		}
	}
	return names, nil
}

// GetActive fetches the latest version of an active secret.
func (v *AzureKeyVault) GetActive(ctx context.Context, name string) (Metadata, string, error) {
	resp, err := v.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		return Metadata{}, "", classifyAzureError("get", name, err)
	}
	var value string
	if resp.Value != nil {
		value = *resp.Value
	}
	return azureMetadata(name, resp.Attributes, resp.ContentType, resp.Tags), value, nil
}

// GetSoftDeleted fetches metadata for a soft-deleted remnant. Key Vault never
// returns the value for a deleted secret.
func (v *AzureKeyVault) GetSoftDeleted(ctx context.Context, name string) (Metadata, error) {
	resp, err := v.client.GetDeletedSecret(ctx, name, nil)
	if err != nil {
		return Metadata{}, classifyAzureError("get-deleted", name, err)
	}
	md := azureMetadata(name, resp.Attributes, resp.ContentType, resp.Tags)
	md.Enabled = false
	return md, nil
}

// SetSecret creates or overwrites an active secret. Key Vault refuses the
// write with a conflict while a soft-deleted remnant occupies the name.
func (v *AzureKeyVault) SetSecret(ctx context.Context, name, value string) error {
	v.logger.Debug("Setting Key Vault secret %s (value %s)", name, logging.Secret(value))
	params := azsecrets.SetSecretParameters{Value: to.Ptr(value)}
	if _, err := v.client.SetSecret(ctx, name, params, nil); err != nil {
		return classifyAzureError("set", name, err)
	}
	return nil
}

// DeleteSecret transitions an active secret to the soft-deleted state.
func (v *AzureKeyVault) DeleteSecret(ctx context.Context, name string) error {
	if _, err := v.client.DeleteSecret(ctx, name, nil); err != nil {
		return classifyAzureError("delete", name, err)
	}
	return nil
}

// PurgeSecret permanently removes a soft-deleted secret. The service
// acknowledges before the purge settles; callers poll GetSoftDeleted.
func (v *AzureKeyVault) PurgeSecret(ctx context.Context, name string) error {
	if _, err := v.client.PurgeDeletedSecret(ctx, name, nil); err != nil {
		return classifyAzureError("purge", name, err)
	}
	return nil
}
