package socks5

import (
	"golang.org/x/crypto/bcrypt"
)

// CredentialStore validates a username/password pair. It gates the
// WebSocket ingress listener's HTTP Basic Auth — an HTTP-layer concern,
// not the SOCKS5 USERNAME/PASSWORD sub-negotiation, which this server
// does not implement.
type CredentialStore interface {
	Valid(username, password string) bool
}

// HashedCredentials maps username to a bcrypt password hash.
type HashedCredentials map[string]string

// dummyHash is compared against on an unknown username so that a lookup
// miss and a wrong password take the same amount of time.
var dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

func (h HashedCredentials) Valid(username, password string) bool {
	storedHash, ok := h[username]
	if !ok {
		bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)) == nil
}

// HashPassword bcrypt-hashes a password for storage in WebSocket.Users.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// MustHashPassword hashes a password and panics on error. For CLI/test use.
func MustHashPassword(password string) string {
	hash, err := HashPassword(password)
	if err != nil {
		panic(err)
	}
	return hash
}
