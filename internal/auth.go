package internal

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"manualpilot/notify/protocol"
)

var ErrInvalidSession = errors.New("invalid session token")

// SessionClaims is the part of an application session token the gateway reads.
type SessionClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

type RecipientResolver = func(r *http.Request) (string, error)

// NewRecipientResolver picks the recipient id for a handshake. With a secret, a bearer
// session token names the recipient and must verify. Otherwise the recipient_id query
// parameter or Notify-Recipient header is taken as is, defaulting to the unauthenticated
// sentinel.
func NewRecipientResolver(secret []byte) RecipientResolver {
	return func(r *http.Request) (string, error) {
		if len(secret) > 0 {
			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				return recipientFromToken(secret, token)
			}
		}

		if id := r.URL.Query().Get(protocol.QueryRecipient); id != "" {
			return id, nil
		}

		if id := r.Header.Get(protocol.HeaderRecipient); id != "" {
			return id, nil
		}

		return protocol.Unauthenticated, nil
	}
}

func recipientFromToken(secret []byte, token string) (string, error) {
	claims := &SessionClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", ErrInvalidSession
	}

	if claims.UserID != "" {
		return claims.UserID, nil
	}

	if claims.Subject != "" {
		return claims.Subject, nil
	}

	return "", ErrInvalidSession
}
