package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted on registration.
const MinPasswordLength = 3

// MaxPasswordBytes is the bcrypt input limit.
const MaxPasswordBytes = 72

var hashCost = bcrypt.DefaultCost

// SetHashCost changes the bcrypt cost; tests lower it to bcrypt.MinCost.
func SetHashCost(cost int) {
	hashCost = cost
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", errors.New("password is too long")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
