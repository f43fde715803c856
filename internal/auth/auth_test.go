package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDevTokenRoundTrip(t *testing.T) {
	issuer := DevTokenIssuer{Secret: "s3cret", UserID: "user-1"}

	token, err := issuer.AccessToken(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ParseToken("s3cret", token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, []string{"chat"}, claims.Scopes)
}

func TestParseTokenRejectsWrongSecretAndExpiry(t *testing.T) {
	token, err := IssueToken("a", "u", time.Minute, time.Now())
	require.NoError(t, err)

	_, err = ParseToken("b", token)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := IssueToken("a", "u", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = ParseToken("a", expired)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestDevTokenIssuerWithoutSecretYieldsNoToken(t *testing.T) {
	token, err := DevTokenIssuer{UserID: "u"}.AccessToken(context.Background())
	require.NoError(t, err)
	require.Empty(t, token)
}

func TestStaticAndFuncProviders(t *testing.T) {
	tok, err := StaticToken("abc").AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc", tok)

	calls := 0
	p := ProviderFunc(func(context.Context) (string, error) { calls++; return "x", nil })
	tok, err = p.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "x", tok)
	require.Equal(t, 1, calls)
}
