package stub

import (
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// NewSessionID returns a fresh ULID session id.
func NewSessionID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

const sessionClaim = "sid"

// SignSessionToken issues the per-session bearer token handed out at
// session creation.
func SignSessionToken(secret, sessionID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		sessionClaim: sessionID,
		"iat":        time.Now().Unix(),
	})
	return token.SignedString([]byte(secret))
}

// ParseSessionToken verifies a bearer token and returns the session id
// it was issued for.
func ParseSessionToken(secret, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid session token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}
	sid, ok := claims[sessionClaim].(string)
	if !ok || strings.TrimSpace(sid) == "" {
		return "", errors.New("token carries no session id")
	}
	return sid, nil
}
