package utils

import (
	"errors"
	"fmt"

	"reachly/config"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims mirrors the access tokens issued by the auth service. This
// backend only validates them.
type JWTClaims struct {
	UserID       uint   `json:"user_id"`
	SessionID    string `json:"session_id"`
	TokenVersion int    `json:"token_version"`
	jwt.RegisteredClaims
}

// ParseJWTToken validates the signature and expiry of an access token.
func ParseJWTToken(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
