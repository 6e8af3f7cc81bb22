package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// HashAPIToken hashes a company API token for storage.
func HashAPIToken(token string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(token), 10)
	return string(bytes), err
}

func CheckAPIToken(hashedToken string, plainToken string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedToken), []byte(plainToken))
}
