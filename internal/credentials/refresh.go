package credentials

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/miradorstack/mirador-incidents/internal/models"
)

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, cred models.Credential) (models.Credential, error)
}

// OAuthRefresher refreshes tokens against the credential's token endpoint.
type OAuthRefresher struct {
	// TokenURL is used when the credential carries no token_uri.
	TokenURL string
	// HTTPClient overrides the client used for the token exchange.
	HTTPClient *http.Client
}

// Refresh performs the refresh_token grant. Fields not returned by the
// token endpoint are carried over from cred.
func (r OAuthRefresher) Refresh(ctx context.Context, cred models.Credential) (models.Credential, error) {
	tokenURL := cred.TokenURI
	if tokenURL == "" {
		tokenURL = r.TokenURL
	}
	cfg := oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		Scopes:       cred.Scopes,
	}
	if r.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTPClient)
	}

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return models.Credential{}, err
	}

	out := cred
	out.Token = tok.AccessToken
	out.Expiry = tok.Expiry
	if tok.RefreshToken != "" {
		out.RefreshToken = tok.RefreshToken
	}
	return out, nil
}
