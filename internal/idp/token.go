package idp

import (
	"context"
	"fmt"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource supplies management API access tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// clientCredentialsSource exchanges client credentials for a token scoped to
// the management audience. Tokens are deliberately not cached across calls so
// an expired credential can never be replayed after a long backlog pause.
type clientCredentialsSource struct {
	cfg clientcredentials.Config
}

func newTokenSource(cfg Config) *clientCredentialsSource {
	return &clientCredentialsSource{
		cfg: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     fmt.Sprintf("https://%s/oauth/token", cfg.Domain),
			EndpointParams: url.Values{
				"audience": {cfg.Audience},
			},
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Token performs a fresh client-credentials exchange.
func (s *clientCredentialsSource) Token(ctx context.Context) (string, error) {
	tok, err := s.cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("idp: token exchange: %w", err)
	}
	return tok.AccessToken, nil
}
