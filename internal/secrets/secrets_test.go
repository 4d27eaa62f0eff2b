package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nataas/ipfill/internal/domain"
)

func TestDecodeSecretSinglePair(t *testing.T) {
	creds, err := decodeSecret(`{"api_user": "hunter2"}`)
	require.NoError(t, err)
	assert.Equal(t, Credentials{Username: "api_user", Password: "hunter2"}, creds)
}

func TestDecodeSecretRejectsMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":       `SELECT password FROM users`,
		"json array":     `["root", "pw"]`,
		"empty object":   `{}`,
		"two pairs":      `{"a": "1", "b": "2"}`,
		"nested values":  `{"root": {"password": "pw"}}`,
		"non-string val": `{"root": 5}`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decodeSecret(payload)
			require.ErrorIs(t, err, domain.ErrCredentials)
		})
	}
}

func TestStaticFetch(t *testing.T) {
	creds, err := LocalDev().Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "root", creds.Username)
	assert.NotEmpty(t, creds.Password)
}
