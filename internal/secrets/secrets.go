// Package secrets provides database credentials for a target environment.
// Non-local environments fetch them from AWS Secrets Manager; the local
// environment uses a fixed well-known credential and never touches the
// network.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nataas/ipfill/internal/domain"
)

type Credentials struct {
	Username string
	Password string
}

type Provider interface {
	Fetch(ctx context.Context) (Credentials, error)
}

// Static is the local-environment provider.
type Static struct {
	Username string
	Password string
}

func (s Static) Fetch(context.Context) (Credentials, error) {
	return Credentials{Username: s.Username, Password: s.Password}, nil
}

// LocalDev returns the well-known local development credential.
func LocalDev() Static {
	return Static{Username: "root", Password: "strongpassword"}
}

// decodeSecret parses a secret payload of the declared shape: a JSON object
// with exactly one username to password pair. The payload is never treated
// as anything but data.
func decodeSecret(payload string) (Credentials, error) {
	var pairs map[string]string
	if err := json.Unmarshal([]byte(payload), &pairs); err != nil {
		return Credentials{}, fmt.Errorf("%w: secret is not a json object of username to password: %v", domain.ErrCredentials, err)
	}
	if len(pairs) != 1 {
		return Credentials{}, fmt.Errorf("%w: secret must contain exactly one username/password pair, got %d", domain.ErrCredentials, len(pairs))
	}

	for username, password := range pairs {
		return Credentials{Username: username, Password: password}, nil
	}
	return Credentials{}, fmt.Errorf("%w: empty secret", domain.ErrCredentials)
}
