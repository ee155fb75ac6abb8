package vault

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/systmms/kvsync/internal/errors"
	"github.com/systmms/kvsync/internal/logging"
)

func azID(name string) *azsecrets.ID {
	id := azsecrets.ID("https://unit.vault.azure.net/secrets/" + name + "/v1")
	return &id
}

func azureRespError(statusCode int, code string) error {
	return &azcore.ResponseError{StatusCode: statusCode, ErrorCode: code}
}

// fakeAzureSecretsAPI is a scripted azsecrets client.
type fakeAzureSecretsAPI struct {
	getResp        azsecrets.GetSecretResponse
	getErr         error
	getDeletedResp azsecrets.GetDeletedSecretResponse
	getDeletedErr  error
	setErr         error
	deleteErr      error
	purgeErr       error
	listPages      [][]*azsecrets.SecretProperties
	listErr        error

	setCalls map[string]string
}

func (f *fakeAzureSecretsAPI) GetSecret(ctx context.Context, name, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	return f.getResp, f.getErr
}

func (f *fakeAzureSecretsAPI) GetDeletedSecret(ctx context.Context, name string, options *azsecrets.GetDeletedSecretOptions) (azsecrets.GetDeletedSecretResponse, error) {
	return f.getDeletedResp, f.getDeletedErr
}

func (f *fakeAzureSecretsAPI) SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	if f.setErr != nil {
		return azsecrets.SetSecretResponse{}, f.setErr
	}
	if f.setCalls == nil {
		f.setCalls = make(map[string]string)
	}
	if parameters.Value != nil {
		f.setCalls[name] = *parameters.Value
	}
	return azsecrets.SetSecretResponse{}, nil
}

func (f *fakeAzureSecretsAPI) DeleteSecret(ctx context.Context, name string, options *azsecrets.DeleteSecretOptions) (azsecrets.DeleteSecretResponse, error) {
	return azsecrets.DeleteSecretResponse{}, f.deleteErr
}

func (f *fakeAzureSecretsAPI) PurgeDeletedSecret(ctx context.Context, name string, options *azsecrets.PurgeDeletedSecretOptions) (azsecrets.PurgeDeletedSecretResponse, error) {
	return azsecrets.PurgeDeletedSecretResponse{}, f.purgeErr
}

func (f *fakeAzureSecretsAPI) NewListSecretPropertiesPager(options *azsecrets.ListSecretPropertiesOptions) *runtime.Pager[azsecrets.ListSecretPropertiesResponse] {
	page := 0
	return runtime.NewPager(runtime.PagingHandler[azsecrets.ListSecretPropertiesResponse]{
		More: func(azsecrets.ListSecretPropertiesResponse) bool {
			return page < len(f.listPages)
		},
		Fetcher: func(ctx context.Context, _ *azsecrets.ListSecretPropertiesResponse) (azsecrets.ListSecretPropertiesResponse, error) {
			if f.listErr != nil {
				return azsecrets.ListSecretPropertiesResponse{}, f.listErr
			}
			if page >= len(f.listPages) {
				return azsecrets.ListSecretPropertiesResponse{}, nil
			}
			resp := azsecrets.ListSecretPropertiesResponse{
				SecretPropertiesListResult: azsecrets.SecretPropertiesListResult{
					Value: f.listPages[page],
				},
			}
			page++
			return resp, nil
		},
	})
}

func newTestAzureVault(t *testing.T, api *fakeAzureSecretsAPI) *AzureKeyVault {
	t.Helper()
	logger := logging.NewWithWriter(&bytes.Buffer{}, false, true)
	v, err := NewAzureKeyVault(map[string]interface{}{
		"vault_url": "https://unit.vault.azure.net/",
	}, logger, WithAzureSecretsClient(api))
	require.NoError(t, err)
	return v
}

func TestAzureKeyVaultRequiresVaultURL(t *testing.T) {
	logger := logging.NewWithWriter(&bytes.Buffer{}, false, true)
	_, err := NewAzureKeyVault(map[string]interface{}{}, logger)
	require.Error(t, err)

	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "vault_url", cfgErr.Field)
}

func TestAzureListSecretNames(t *testing.T) {
	api := &fakeAzureSecretsAPI{
		listPages: [][]*azsecrets.SecretProperties{
			{{ID: azID("A")}, {ID: azID("B")}},
			{{ID: azID("C")}, nil},
		},
	}
	v := newTestAzureVault(t, api)

	names, err := v.ListSecretNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, names)
}

func TestAzureListAuthFailure(t *testing.T) {
	api := &fakeAzureSecretsAPI{
		listPages: [][]*azsecrets.SecretProperties{{}},
		listErr:   azureRespError(403, "Forbidden"),
	}
	v := newTestAzureVault(t, api)

	_, err := v.ListSecretNames(context.Background())
	assert.True(t, IsAuth(err))
}

func TestAzureGetActive(t *testing.T) {
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeAzureSecretsAPI{
		getResp: azsecrets.GetSecretResponse{
			Secret: azsecrets.Secret{
				ID:          azID("A"),
				Value:       to.Ptr("Server=x;Database=devFoo;"),
				ContentType: to.Ptr("text/plain"),
				Attributes: &azsecrets.SecretAttributes{
					Enabled: to.Ptr(true),
					Created: &created,
					Updated: &created,
				},
				Tags: map[string]*string{"env": to.Ptr("dev")},
			},
		},
	}
	v := newTestAzureVault(t, api)

	md, value, err := v.GetActive(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "Server=x;Database=devFoo;", value)
	assert.Equal(t, "A", md.Name)
	assert.Equal(t, "text/plain", md.ContentType)
	assert.True(t, md.Enabled)
	assert.Equal(t, created, md.Created)
	assert.Equal(t, map[string]string{"env": "dev"}, md.Tags)
}

func TestAzureGetActiveNotFound(t *testing.T) {
	api := &fakeAzureSecretsAPI{getErr: azureRespError(404, "SecretNotFound")}
	v := newTestAzureVault(t, api)

	_, _, err := v.GetActive(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestAzureGetSoftDeletedNotFound(t *testing.T) {
	api := &fakeAzureSecretsAPI{getDeletedErr: azureRespError(404, "SecretNotFound")}
	v := newTestAzureVault(t, api)

	_, err := v.GetSoftDeleted(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestAzureSetSecret(t *testing.T) {
	api := &fakeAzureSecretsAPI{}
	v := newTestAzureVault(t, api)

	require.NoError(t, v.SetSecret(context.Background(), "A", "value"))
	assert.Equal(t, map[string]string{"A": "value"}, api.setCalls)
}

func TestAzureSetSecretConflict(t *testing.T) {
	api := &fakeAzureSecretsAPI{setErr: azureRespError(409, "Conflict")}
	v := newTestAzureVault(t, api)

	err := v.SetSecret(context.Background(), "A", "value")
	assert.True(t, IsConflict(err))
}

func TestAzureDeleteAndPurgeClassification(t *testing.T) {
	api := &fakeAzureSecretsAPI{
		deleteErr: azureRespError(404, "SecretNotFound"),
		purgeErr:  azureRespError(403, "Forbidden"),
	}
	v := newTestAzureVault(t, api)

	assert.True(t, IsNotFound(v.DeleteSecret(context.Background(), "A")))
	assert.True(t, IsAuth(v.PurgeSecret(context.Background(), "A")))
}
