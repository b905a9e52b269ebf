package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Claims carried by an access token. Tokens are issued by the auth service
// upstream; this package only validates them and checks revocation.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

var ErrTokenRevoked = errors.New("token has been revoked")

// IssueAccessToken signs a short-lived access token and registers its JTI in
// Redis so it can be revoked. Used by tests and the local dev login shim.
func IssueAccessToken(userID, secret string, rdb *redis.Client) (string, error) {
	now := time.Now()
	jti := uuid.NewString()

	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "pharma-docs-platform",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", err
	}

	if rdb != nil {
		ctx := context.Background()
		if err := rdb.Set(ctx, "access:"+jti, userID, 1*time.Hour).Err(); err != nil {
			return "", err
		}
	}
	return signed, nil
}

// ValidateAccessToken parses and verifies a token and rejects revoked JTIs.
// The Redis check is skipped when rdb is nil.
func ValidateAccessToken(tokenString, secret string, rdb *redis.Client) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	if rdb != nil && claims.ID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		revoked, err := rdb.Exists(ctx, "revoked:"+claims.ID).Result()
		if err == nil && revoked > 0 {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

// RevokeToken marks a JTI revoked for the remaining token lifetime.
func RevokeToken(jti string, rdb *redis.Client) error {
	if rdb == nil {
		return nil
	}
	ctx := context.Background()
	return rdb.Set(ctx, "revoked:"+jti, 1, 1*time.Hour).Err()
}
