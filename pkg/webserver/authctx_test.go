package webserver

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microcore/pkg/types"
)

func signTestToken(t *testing.T) string {
	t.Helper()
	claims := bearerClaims{
		UserID:   "u-1",
		Username: "ada",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("any-secret-works-since-we-never-verify"))
	require.NoError(t, err)
	return signed
}

func TestExtractAuthClaimsReadsBearerTokenWithoutVerifying(t *testing.T) {
	req := types.NewRequest()
	req.Headers["Authorization"] = "Bearer " + signTestToken(t)

	claims := ExtractAuthClaims(req)
	require.NotNil(t, claims)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "ada", claims.Username)
	assert.Equal(t, "u-1", claims.Subject)
}

func TestExtractAuthClaimsNoHeaderReturnsNil(t *testing.T) {
	req := types.NewRequest()
	assert.Nil(t, ExtractAuthClaims(req))
}

func TestExtractAuthClaimsMalformedTokenReturnsNil(t *testing.T) {
	req := types.NewRequest()
	req.Headers["Authorization"] = "Bearer not-a-jwt"
	assert.Nil(t, ExtractAuthClaims(req))
}
