package auth

import (
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Argon2 parameters (OWASP recommended)
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
)

// HashPassword hashes a password using Argon2id.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := randomBytes(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return encodeArgon2Hash(hash, salt, argon2Time, argon2Memory, argon2Threads), nil
}

// VerifyPassword verifies a password against an Argon2id hash or a legacy
// bcrypt hash imported from the previous user store.
func VerifyPassword(password, encodedHash string) bool {
	if isBcryptHash(encodedHash) {
		return bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password)) == nil
	}

	hash, salt, time, memory, threads, err := decodeArgon2Hash(encodedHash)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(hash)))
	return constantTimeCompare(hash, computed)
}

// NeedsRehash reports whether a stored hash should be upgraded on next login.
func NeedsRehash(encodedHash string) bool {
	if isBcryptHash(encodedHash) {
		return true
	}
	_, _, time, memory, threads, err := decodeArgon2Hash(encodedHash)
	if err != nil {
		return true
	}
	return time != argon2Time || memory != argon2Memory || threads != argon2Threads
}

func isBcryptHash(h string) bool {
	return strings.HasPrefix(h, "$2a$") || strings.HasPrefix(h, "$2b$") || strings.HasPrefix(h, "$2y$")
}

const (
	tempPasswordLen   = 16
	tempPasswordLower = "abcdefghijkmnpqrstuvwxyz"
	tempPasswordUpper = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	tempPasswordDigit = "23456789"
	tempPasswordOther = "!@#$%^&*-_"
)

// GenerateTemporaryPassword returns a random password containing at least
// one character of every class, for accounts created by an administrator.
func GenerateTemporaryPassword() (string, error) {
	classes := []string{tempPasswordLower, tempPasswordUpper, tempPasswordDigit, tempPasswordOther}
	all := strings.Join(classes, "")

	buf := make([]byte, tempPasswordLen*2)
	if _, err := randomBytes(buf); err != nil {
		return "", err
	}

	out := make([]byte, tempPasswordLen)
	for i := range out {
		set := all
		if i < len(classes) {
			set = classes[i]
		}
		out[i] = set[int(buf[i])%len(set)]
	}
	// Shuffle so the guaranteed classes are not always first.
	for i := len(out) - 1; i > 0; i-- {
		j := int(buf[tempPasswordLen+i]) % (i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}
