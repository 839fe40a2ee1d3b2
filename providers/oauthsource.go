package providers

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/freetier/llmrouter/upstream"
)

// OAuthTokenSource adapts an oauth2 client-credentials flow to
// upstream.TokenSource, for enterprise gateways that front an
// OpenAI-compatible endpoint behind bearer tokens minted from a client
// id/secret rather than a static API key. The wrapped oauth2.TokenSource
// caches and refreshes the token itself, so Token() is cheap to call on
// every request.
type OAuthTokenSource struct {
	ts oauth2.TokenSource
}

// NewOAuthTokenSource builds an OAuthTokenSource from client-credentials
// parameters.
func NewOAuthTokenSource(clientID, clientSecret, tokenURL string, scopes []string) *OAuthTokenSource {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	return &OAuthTokenSource{ts: cfg.TokenSource(context.Background())}
}

// Token implements upstream.TokenSource.
func (o *OAuthTokenSource) Token(_ context.Context) (string, error) {
	tok, err := o.ts.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

var _ upstream.TokenSource = (*OAuthTokenSource)(nil)
