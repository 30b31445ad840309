package apikey

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bugradar/bugradar/internal/repository"
	"github.com/bugradar/bugradar/pkg/crypto"
)

// ErrInvalidAPIKey is returned when a credential does not identify a project.
var ErrInvalidAPIKey = errors.New("invalid api key")

// Resolver maps project API keys to project ids.
type Resolver struct {
	keys repository.APIKeyRepository
}

// NewResolver returns a Resolver backed by keys.
func NewResolver(keys repository.APIKeyRepository) Resolver {
	return Resolver{keys: keys}
}

// Resolve returns the project id owning the plaintext key. Datastore
// failures are returned wrapped; every other miss is ErrInvalidAPIKey.
func (r Resolver) Resolve(ctx context.Context, plain string) (string, error) {
	plain = strings.TrimSpace(plain)
	if !crypto.HasAPIKeyPrefix(plain) {
		return "", ErrInvalidAPIKey
	}
	digest := crypto.HashAPIKey(plain)
	key, err := r.keys.GetAPIKeyByHash(ctx, digest)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrInvalidAPIKey
		}
		return "", fmt.Errorf("lookup api key: %w", err)
	}
	if !crypto.CompareAPIKeyHash(key.KeyHash, digest) {
		return "", ErrInvalidAPIKey
	}
	return key.ProjectID, nil
}
