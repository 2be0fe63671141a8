package share

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identify the world and the share a join link was issued for.
type Claims struct {
	World   string `json:"world"`
	ShareID string `json:"share_id"`
	jwt.RegisteredClaims
}

// tokens signs and checks join tokens.
type tokens struct {
	key    []byte
	expiry time.Duration
}

// newTokens uses secret as the HMAC key, or 32 random bytes when it is empty.
func newTokens(secret string, expiry time.Duration) (*tokens, error) {
	var key []byte
	if secret != "" {
		key = []byte(secret)
	} else {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("share: generating signing key: %w", err)
		}
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &tokens{key: key, expiry: expiry}, nil
}

func (t *tokens) issue(world, shareID string) (string, error) {
	now := time.Now()
	claims := Claims{
		World:   world,
		ShareID: shareID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   world,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiry)),
			Issuer:    "voxelshare",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.key)
}

func (t *tokens) validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
