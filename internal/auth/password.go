package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAdminKeyTooShort = errors.New("admin key must be at least 16 characters")
)

const (
	bcryptCost        = 12
	minAdminKeyLength = 16
)

// HashAdminKey hashes an operator key for the ADMIN_KEY_HASH setting
func HashAdminKey(key string) (string, error) {
	if len(key) < minAdminKeyLength {
		return "", ErrAdminKeyTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// CheckAdminKey compares a presented key with its hash
func CheckAdminKey(key, hash string) bool {
	if key == "" || hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	return err == nil
}
