package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/systmms/kvsync/internal/logging"
)

const awsBackend = "aws-secretsmanager"

// AWSSecretsManagerAPI is the subset of the Secrets Manager client the
// backend uses. Narrowing to an interface allows fake injection in tests.
type AWSSecretsManagerAPI interface {
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

// AWSSecretsManager implements Client against AWS Secrets Manager. The
// recovery-window delete is the soft-deleted state; purge maps to
// ForceDeleteWithoutRecovery.
type AWSSecretsManager struct {
	client AWSSecretsManagerAPI
	logger *logging.Logger
	region string
}

// AWSOption is a functional option for the AWS backend.
type AWSOption func(*AWSSecretsManager)

// WithAWSSecretsManagerClient sets a custom Secrets Manager client (for testing).
func WithAWSSecretsManagerClient(client AWSSecretsManagerAPI) AWSOption {
	return func(v *AWSSecretsManager) {
		v.client = client
	}
}

// NewAWSSecretsManager creates an AWS Secrets Manager backend from a
// configuration map.
func NewAWSSecretsManager(configMap map[string]interface{}, logger *logging.Logger, opts ...AWSOption) (*AWSSecretsManager, error) {
	region := "us-east-1"
	if r, ok := configMap["region"].(string); ok && r != "" {
		region = r
	}

	var endpoint string
	if e, ok := configMap["endpoint"].(string); ok && e != "" {
		endpoint = e
	}

	var accessKeyID, secretAccessKey string
	if ak, ok := configMap["access_key_id"].(string); ok && ak != "" {
		accessKeyID = ak
	}
	if sk, ok := configMap["secret_access_key"].(string); ok && sk != "" {
		secretAccessKey = sk
	}

	var assumeRoleARN string
	if arn, ok := configMap["assume_role_arn"].(string); ok && arn != "" {
		assumeRoleARN = arn
	}

	v := &AWSSecretsManager{
		logger: logger,
		region: region,
	}

	for _, opt := range opts {
		opt(v)
	}

	if v.client == nil {
		var configOpts []func(*awsconfig.LoadOptions) error
		configOpts = append(configOpts, awsconfig.WithRegion(region))

		// Static credentials for LocalStack or testing
		if accessKeyID != "" && secretAccessKey != "" {
			configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
			))
		}

		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), configOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		if assumeRoleARN != "" {
			stsClient := sts.NewFromConfig(cfg)
			cfg.Credentials = aws.NewCredentialsCache(
				stscreds.NewAssumeRoleProvider(stsClient, assumeRoleARN),
			)
		}

		var clientOpts []func(*secretsmanager.Options)
		if endpoint != "" {
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = &endpoint
			})
		}
		v.client = secretsmanager.NewFromConfig(cfg, clientOpts...)
	}

	return v, nil
}

// classifyAWSError maps SDK errors onto the vault taxonomy.
func classifyAWSError(op, name string, err error) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return NotFoundError{Backend: awsBackend, Name: name}
	}

	var invalidRequest *types.InvalidRequestException
	if errors.As(err, &invalidRequest) && strings.Contains(err.Error(), "deletion") {
		// Create or force-delete against a secret scheduled for deletion.
		return ConflictError{Backend: awsBackend, Name: name, Err: err}
	}

	errStr := err.Error()
	if strings.Contains(errStr, "AccessDenied") ||
		strings.Contains(errStr, "UnauthorizedOperation") ||
		strings.Contains(errStr, "UnrecognizedClient") ||
		strings.Contains(errStr, "Forbidden") {
		return AuthError{Backend: awsBackend, Err: err}
	}

	return ServiceError{Backend: awsBackend, Op: op, Name: name, Err: err}
}

func awsMetadata(name string, out *secretsmanager.DescribeSecretOutput) Metadata {
	md := Metadata{Name: name, Enabled: out.DeletedDate == nil}
	if out.CreatedDate != nil {
		md.Created = *out.CreatedDate
	}
	if out.LastChangedDate != nil {
		md.Updated = *out.LastChangedDate
	}
	if len(out.Tags) > 0 {
		md.Tags = make(map[string]string, len(out.Tags))
		for _, tag := range out.Tags {
			if tag.Key != nil && tag.Value != nil {
				md.Tags[*tag.Key] = *tag.Value
			}
		}
	}
	return md
}

// ListSecretNames pages through secrets. Secrets scheduled for deletion are
// excluded by the service by default, which matches the active-only contract.
func (v *AWSSecretsManager) ListSecretNames(ctx context.Context) ([]string, error) {
	var names []string
	var nextToken *string
	for {
		out, err := v.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{
			NextToken: nextToken,
		})
		if err != nil {
			return nil, classifyAWSError("list", "", err)
		}
		for _, entry := range out.SecretList {
			if entry.Name != nil {
				names = append(names, *entry.Name)
			}
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	return names, nil
}

// GetActive fetches the current value and metadata of a secret that is not
// scheduled for deletion.
func (v *AWSSecretsManager) GetActive(ctx context.Context, name string) (Metadata, string, error) {
	desc, err := v.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return Metadata{}, "", classifyAWSError("get", name, err)
	}
	if desc.DeletedDate != nil {
		// Only soft-deleted; absent from the active view.
		return Metadata{}, "", NotFoundError{Backend: awsBackend, Name: name}
	}

	value, err := v.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return Metadata{}, "", classifyAWSError("get", name, err)
	}

	var secretString string
	if value.SecretString != nil {
		secretString = *value.SecretString
	} else if value.SecretBinary != nil {
		secretString = string(value.SecretBinary)
	}
	return awsMetadata(name, desc), secretString, nil
}

// GetSoftDeleted returns metadata for a secret inside its recovery window.
func (v *AWSSecretsManager) GetSoftDeleted(ctx context.Context, name string) (Metadata, error) {
	desc, err := v.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return Metadata{}, classifyAWSError("get-deleted", name, err)
	}
	if desc.DeletedDate == nil {
		return Metadata{}, NotFoundError{Backend: awsBackend, Name: name}
	}
	return awsMetadata(name, desc), nil
}

// SetSecret creates the secret or, when it already exists, stages a new
// current version. A secret scheduled for deletion refuses the create with a
// conflict.
func (v *AWSSecretsManager) SetSecret(ctx context.Context, name, value string) error {
	v.logger.Debug("Setting Secrets Manager secret %s (value %s)", name, logging.Secret(value))
	_, err := v.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(value),
	})
	if err == nil {
		return nil
	}

	var exists *types.ResourceExistsException
	if errors.As(err, &exists) {
		_, err = v.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:     aws.String(name),
			SecretString: aws.String(value),
		})
		if err != nil {
			return classifyAWSError("set", name, err)
		}
		return nil
	}
	return classifyAWSError("set", name, err)
}

// DeleteSecret schedules deletion with the default recovery window, which is
// the Secrets Manager equivalent of the soft-deleted state.
func (v *AWSSecretsManager) DeleteSecret(ctx context.Context, name string) error {
	_, err := v.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return classifyAWSError("delete", name, err)
	}
	return nil
}

// PurgeSecret deletes without a recovery window. The service rejects a force
// delete on a secret already scheduled for deletion; that surfaces as a
// per-name conflict for the caller to report.
func (v *AWSSecretsManager) PurgeSecret(ctx context.Context, name string) error {
	_, err := v.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(name),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil {
		return classifyAWSError("purge", name, err)
	}
	return nil
}
