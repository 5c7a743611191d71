package utils

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

var (
	jwtMu        sync.RWMutex
	jwtSecret    []byte
	jwtAlgorithm jwt.SigningMethod = jwt.SigningMethodHS256
)

var hmacMethods = []string{"HS256", "HS384", "HS512"}

func SetJWTSecret(secret string) {
	jwtMu.Lock()
	defer jwtMu.Unlock()
	jwtSecret = []byte(secret)
}

// SetJWTAlgorithm selects the HMAC signing method used for new tokens.
// Unknown names keep the current method.
func SetJWTAlgorithm(name string) error {
	method := jwt.GetSigningMethod(strings.ToUpper(name))
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return errors.New("unsupported jwt algorithm: " + name)
	}
	jwtMu.Lock()
	defer jwtMu.Unlock()
	jwtAlgorithm = method
	return nil
}

func GenerateToken(userID uint, username, role string, expireHours int) (string, error) {
	return GenerateTokenWithTTL(userID, username, role, time.Duration(expireHours)*time.Hour)
}

func GenerateTokenWithTTL(userID uint, username, role string, ttl time.Duration) (string, error) {
	return GenerateTokenWithAlgorithm(userID, username, role, ttl, "")
}

// GenerateTokenWithAlgorithm signs with the named HMAC method instead of the
// installed default. An empty name uses the default.
func GenerateTokenWithAlgorithm(userID uint, username, role string, ttl time.Duration, algorithm string) (string, error) {
	jwtMu.RLock()
	secret, method := jwtSecret, jwtAlgorithm
	jwtMu.RUnlock()

	if algorithm != "" {
		named, ok := jwt.GetSigningMethod(strings.ToUpper(algorithm)).(*jwt.SigningMethodHMAC)
		if !ok {
			return "", errors.New("unsupported jwt algorithm: " + algorithm)
		}
		method = named
	}

	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(method, claims)
	return token.SignedString(secret)
}

func ParseToken(tokenString string) (*Claims, error) {
	jwtMu.RLock()
	secret := jwtSecret
	jwtMu.RUnlock()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods(hmacMethods))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
