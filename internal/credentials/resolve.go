package credentials

import (
	"context"
	"os"
	"time"

	"github.com/openpista/openpista/pkg/models"
)

// nearExpiryWindow is how far ahead of expiry a stored token triggers an
// automatic refresh attempt (spec §4.5, resolution step 2).
const nearExpiryWindow = 5 * time.Minute

// RefreshFunc exchanges a refresh token for a new access token at a
// provider's token endpoint. Providers that don't support refresh (or
// whose credential has no refresh_token) never have this called.
type RefreshFunc func(ctx context.Context, refreshToken string) (newAccessToken, newRefreshToken string, expiresIn *int64, err error)

// Resolve implements the four-step credential resolution order from
// spec §4.5:
//  1. explicitAPIKey, if non-empty;
//  2. a stored credential whose access_token is valid, refreshing it first
//     if it is within nearExpiryWindow of expiry and a refresh_token is
//     present;
//  3. the provider-specific environment variable envVar;
//  4. the legacy fallback environment variable legacyEnvVar.
func Resolve(ctx context.Context, store *Store, provider, explicitAPIKey, envVar, legacyEnvVar string, refresh RefreshFunc) (string, error) {
	if explicitAPIKey != "" {
		return explicitAPIKey, nil
	}

	if store != nil {
		if cred, ok := store.Get(provider); ok {
			if cred.NearExpiry(nearExpiryWindow) && cred.RefreshToken != "" && refresh != nil {
				if refreshed, ok := tryRefresh(ctx, store, provider, cred, refresh); ok {
					return refreshed, nil
				}
				// Fall through on refresh failure: the stale token may
				// still satisfy Valid(), or resolution continues below.
			}
			if cred.Valid() {
				return cred.AccessToken, nil
			}
		}
	}

	if envVar != "" {
		if v := os.Getenv(envVar); v != "" {
			return v, nil
		}
	}
	if legacyEnvVar != "" {
		if v := os.Getenv(legacyEnvVar); v != "" {
			return v, nil
		}
	}

	return "", nil
}

// tryRefresh exchanges cred's refresh token for a new access token,
// persists the refreshed credential, and returns it. The bool result is
// false on any failure, in which case callers fall through to the next
// resolution step rather than failing outright.
func tryRefresh(ctx context.Context, store *Store, provider string, cred models.ProviderCredential, refresh RefreshFunc) (string, bool) {
	accessToken, refreshToken, expiresIn, err := refresh(ctx, cred.RefreshToken)
	if err != nil {
		return "", false
	}

	newCred := models.ProviderCredential{
		AccessToken:  accessToken,
		Endpoint:     cred.Endpoint,
		RefreshToken: refreshToken,
	}
	if expiresIn != nil {
		expiry := timeNowUTC().Add(time.Duration(*expiresIn) * time.Second)
		newCred.ExpiresAt = &expiry
	}

	if err := store.Set(provider, newCred); err != nil {
		return "", false
	}
	return accessToken, true
}
