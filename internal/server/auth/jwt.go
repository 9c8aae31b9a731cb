// Package auth issues and verifies the session tokens handed out by the
// authenticate flow. Tokens are HS256 JWTs carrying the caller's DID and
// role; sessions are recorded in the store so refresh tokens can be
// revoked by deleting the session.
package auth

import (
	"errors"
	"time"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the registered JWT claims plus the authenticated DID and its
// ACL role.
type Claims struct {
	jwt.RegisteredClaims
	DID  string `json:"did"`
	Role string `json:"role"`
}

func GenerateToken(did, role, sessionID string, secretKey []byte, validity time.Duration) (string, time.Time, error) {
	expires := time.Now().Add(validity)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   sessionID,
		},
		DID:  did,
		Role: role,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expires, nil
}

// ParseToken verifies the signature and expiry and returns the claims.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrorTokenExpired
		}
		return nil, common.ErrorInvalidToken
	}
	if !token.Valid {
		return nil, common.ErrorInvalidToken
	}
	return claims, nil
}
