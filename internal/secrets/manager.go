package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"

	"github.com/nataas/ipfill/internal/domain"
)

// Manager fetches database credentials from AWS Secrets Manager. The secret
// id follows the <env>/api/rds convention and the AWS profile is
// nataas-<env>.
type Manager struct {
	client   *secretsmanager.Client
	secretID string
}

func NewManager(ctx context.Context, environment, dbRegion string) (*Manager, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithSharedConfigProfile(fmt.Sprintf("nataas-%s", environment)),
		awsconfig.WithRegion(dbRegion),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", domain.ErrCredentials, err)
	}

	return &Manager{
		client:   secretsmanager.NewFromConfig(cfg),
		secretID: fmt.Sprintf("%s/api/rds", environment),
	}, nil
}

func (m *Manager) Fetch(ctx context.Context) (Credentials, error) {
	out, err := m.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(m.secretID),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return Credentials{}, fmt.Errorf("%w: secret not found: %s", domain.ErrCredentials, m.secretID)
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return Credentials{}, fmt.Errorf("%w: fetch %s: %s", domain.ErrCredentials, m.secretID, apiErr.ErrorMessage())
		}
		return Credentials{}, fmt.Errorf("%w: fetch %s: %v", domain.ErrCredentials, m.secretID, err)
	}

	if out.SecretString == nil {
		return Credentials{}, fmt.Errorf("%w: secret %s has no string payload", domain.ErrCredentials, m.secretID)
	}
	return decodeSecret(*out.SecretString)
}
