package account

import (
	"strings"

	descrypt "github.com/digitive/crypt"
	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// isBcrypt reports whether stored is a bcrypt hash rather than a legacy one.
func isBcrypt(stored string) bool {
	return strings.HasPrefix(stored, "$2")
}

// CheckPassword verifies password against a stored bcrypt hash or, for
// accounts imported from older servers, a traditional DES crypt(3) hash.
func CheckPassword(password, stored string) bool {
	if stored == "" {
		return false
	}
	if isBcrypt(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return checkLegacy(password, stored)
}

// checkLegacy verifies a DES crypt hash. The first two bytes are the salt.
func checkLegacy(password, stored string) bool {
	if len(stored) < 2 {
		return false
	}
	computed, err := descrypt.Crypt(password, stored[:2])
	return err == nil && computed == stored
}

// LegacyHash produces a DES crypt hash. Only used to seed imported accounts.
func LegacyHash(password, salt string) (string, error) {
	return descrypt.Crypt(password, salt)
}
