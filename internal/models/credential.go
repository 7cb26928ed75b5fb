package models

import "time"

// Credential holds a user's OAuth token material plus the cloud project it
// grants access to.
type Credential struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	TokenURI     string    `json:"token_uri"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	Scopes       []string  `json:"scopes"`
	Expiry       time.Time `json:"expiry,omitempty"`
	ProjectID    string    `json:"project_id,omitempty"`
}

// expiryDelta mirrors the early-expiry window used by OAuth token sources so
// that a token about to lapse is refreshed before use.
const expiryDelta = 10 * time.Second

// Expired reports whether the access token is past its expiry at now. A zero
// expiry never expires.
func (c Credential) Expired(now time.Time) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return !now.Add(expiryDelta).Before(c.Expiry)
}
