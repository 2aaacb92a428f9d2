package webserver

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"microcore/pkg/types"
)

// AuthClaims is the subset of a bearer token this framework reads purely to
// enrich audit/trace metadata. It never decides whether a request is
// authenticated -- that decision belongs to inf_check or the handler, not
// the transport pipeline.
type AuthClaims struct {
	UserID   string
	Username string
	Subject  string
}

// bearerClaims reads the user_id/username claims alongside the registered
// claims, so a token minted by any issuer with these field names is
// readable the same way.
type bearerClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ExtractAuthClaims reads the Authorization header's bearer token, if any,
// without verifying its signature: signature verification is an
// authentication decision and out of scope here. This only lets an
// already-issued token populate audit metadata (userId) even when an
// upstream gateway, not this pipeline, owns enforcement. Returns nil when
// no bearer token is present or it cannot be parsed.
func ExtractAuthClaims(req *types.Request) *AuthClaims {
	if req == nil {
		return nil
	}

	header := req.Headers["Authorization"]
	if header == "" {
		header = req.Headers["authorization"]
	}

	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return nil
	}

	var claims bearerClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return nil
	}

	return &AuthClaims{
		UserID:   claims.UserID,
		Username: claims.Username,
		Subject:  claims.Subject,
	}
}
