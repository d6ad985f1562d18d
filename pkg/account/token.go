package account

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the JWT claims of a login token.
type Claims struct {
	AccountID   uint64 `json:"account_id"`
	AccountName string `json:"account_name"`
	jwt.RegisteredClaims
}

const tokenIssuer = "novaserver"

// IssueToken signs a login token for the account. The JWT is base64-wrapped
// so it can travel as the ltoken field of a text action.
func (s *Store) IssueToken(id uint64, name string) (string, error) {
	now := time.Now()
	claims := Claims{
		AccountID:   id,
		AccountName: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(id, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.TokenExpiry)),
			Issuer:    tokenIssuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtKey)
	if err != nil {
		return "", fmt.Errorf("account: sign token: %w", err)
	}
	return base64.StdEncoding.EncodeToString([]byte(signed)), nil
}

// parseToken unwraps and validates an ltoken value.
func (s *Store) parseToken(ltoken string) (*Claims, error) {
	ltoken = strings.TrimSpace(ltoken)
	raw, err := base64.StdEncoding.DecodeString(ltoken)
	if err != nil {
		if raw, err = base64.RawURLEncoding.DecodeString(ltoken); err != nil {
			return nil, fmt.Errorf("%w: not base64", ErrInvalidToken)
		}
	}
	token, err := jwt.ParseWithClaims(string(raw), &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtKey, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateJWTSecret generates a random hex-encoded secret suitable for the
// jwt_secret config field.
func GenerateJWTSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
