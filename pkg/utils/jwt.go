package utils

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var jwtKey = []byte(os.Getenv("JWT_SECRET"))

// OperatorClaims authorize the back-office read surface. Company API traffic
// uses the per-company token pair instead; operators never touch it.
type OperatorClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func CreateOperatorToken(username string, ttl time.Duration) (string, int64, error) {
	expiresAt := time.Now().Add(ttl)
	claims := &OperatorClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(jwtKey)
	return signed, expiresAt.Unix(), err
}

func ValidateOperatorToken(tokenString string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return jwtKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
