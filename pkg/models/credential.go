package models

import "time"

// ProviderCredential is a single provider's stored OAuth credential. Expiry
// is always UTC; a nil ExpiresAt means "never expires".
type ProviderCredential struct {
	AccessToken  string     `yaml:"access_token"`
	Endpoint     string     `yaml:"endpoint,omitempty"`
	RefreshToken string     `yaml:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `yaml:"expires_at,omitempty"`
}

// Valid reports whether the credential can still be used without a refresh.
func (c ProviderCredential) Valid() bool {
	if c.ExpiresAt == nil {
		return true
	}
	return c.ExpiresAt.After(time.Now().UTC())
}

// NearExpiry reports whether the credential expires within window and thus
// should be proactively refreshed (when a refresh token is available).
func (c ProviderCredential) NearExpiry(window time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return c.ExpiresAt.Before(time.Now().UTC().Add(window))
}
