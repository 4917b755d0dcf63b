// Package auth verifies the handshake credential of a connection. Token
// issuance and password storage belong to the identity service; this hub
// only validates what it is handed, once per connection.
package auth

import (
	"fmt"
	"time"

	"chat-hub/domain"
	errs "chat-hub/errors"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Verifier validates token signature and expiry against a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify implements contract.IdentityVerifier. Every failure mode is
// wrapped in ErrAuthentication: the connection attempt dies, nothing else.
func (v *Verifier) Verify(credential string) (domain.UserID, string, error) {
	token, err := jwt.ParseWithClaims(credential, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", errs.ErrAuthentication, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", "", fmt.Errorf("%w: invalid claims", errs.ErrAuthentication)
	}
	return domain.UserID(claims.UserID), claims.Username, nil
}

// GenerateToken creates a signed JWT for a specific user. Used by tests
// and local tooling; production tokens come from the identity service.
func GenerateToken(userID domain.UserID, username, secret string, duration time.Duration) (string, error) {
	claims := &CustomClaims{
		UserID:   string(userID),
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(duration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "chat-hub",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
