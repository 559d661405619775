package service

import (
	"context"
	"fmt"
	"net/url"
	"slices"

	"gocloud.dev/secrets"
	_ "gocloud.dev/secrets/awskms"
	_ "gocloud.dev/secrets/azurekeyvault"
	_ "gocloud.dev/secrets/gcpkms"
	_ "gocloud.dev/secrets/hashivault"
	_ "gocloud.dev/secrets/localsecrets"

	cryptoDomain "github.com/allisson/keymanager/internal/crypto/domain"
)

// kmsSchemes are the keeper URL schemes registered above. base64key holds the
// wrapping key inline and is meant for development only.
var kmsSchemes = []string{"awskms", "azurekeyvault", "gcpkms", "hashivault", "base64key"}

// KMSService opens the keeper that wraps sealing keys at rest in SEALING_KEYS.
type KMSService interface {
	OpenKeeper(ctx context.Context, keyURI string) (cryptoDomain.KMSKeeper, error)
}

type kmsService struct{}

// NewKMSService returns a KMSService backed by gocloud.dev/secrets.
func NewKMSService() KMSService {
	return &kmsService{}
}

// OpenKeeper opens the keeper named by keyURI. Errors mention the scheme only,
// since a base64key URI carries the wrapping key itself.
func (k *kmsService) OpenKeeper(ctx context.Context, keyURI string) (cryptoDomain.KMSKeeper, error) {
	u, err := url.Parse(keyURI)
	if err != nil || u.Scheme == "" {
		return nil, fmt.Errorf("%w: malformed KMS key URI", cryptoDomain.ErrUnsupportedKMSScheme)
	}
	if !slices.Contains(kmsSchemes, u.Scheme) {
		return nil, fmt.Errorf("%w: %q (want one of %v)", cryptoDomain.ErrUnsupportedKMSScheme, u.Scheme, kmsSchemes)
	}

	keeper, err := secrets.OpenKeeper(ctx, keyURI)
	if err != nil {
		if u.Scheme == "base64key" {
			return nil, fmt.Errorf("failed to open base64key keeper: key must be 32 bytes of URL-safe base64")
		}
		return nil, fmt.Errorf("failed to open %s keeper: %w", u.Scheme, err)
	}
	return keeper, nil
}
