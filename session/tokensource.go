package session

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/jrsteele09/membership-session/credentials"
)

type tokenSource struct {
	ctx context.Context
	m   *Manager
}

var _ oauth2.TokenSource = (*tokenSource)(nil)

// TokenSource yields the stored access token, refreshing it when it is about to expire.
// Tokens are not cached, so a logout takes effect on the next request.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, m: m}
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	pair, err := ts.m.validPair(ts.ctx)
	if err != nil {
		return nil, err
	}
	return toOAuth2(pair), nil
}

// HTTPClient returns a client that authorizes every request with the current access token.
func (m *Manager) HTTPClient(ctx context.Context, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &oauth2.Transport{Source: m.TokenSource(ctx), Base: base}}
}

func toOAuth2(pair credentials.Pair) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
	}
	if exp, ok := credentials.ExpiresAt(pair.AccessToken); ok {
		tok.Expiry = exp
	}
	return tok
}
