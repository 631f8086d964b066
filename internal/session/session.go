// Package session verifies the session token issued by the backend at
// login and extracts the identity the client runs as.
package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	userIdClaim = "user-id"
	expClaim    = "exp"
)

type Session struct {
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the session token has passed its expiry.
func (s Session) Expired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// Parse verifies an HS256 session token against the signing key and
// extracts the user id and expiry claims.
func Parse(tokenString string, key []byte) (Session, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return Session{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Session{}, fmt.Errorf("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(string)
	if !ok || userId == "" {
		return Session{}, fmt.Errorf("invalid user id claim")
	}

	sess := Session{UserID: userId}
	if exp, ok := claims[expClaim].(float64); ok {
		sess.ExpiresAt = time.Unix(int64(exp), 0)
	}

	return sess, nil
}
