package socks5

import "testing"

func TestHashedCredentials_Valid(t *testing.T) {
	hash := MustHashPassword("correct-horse")
	store := HashedCredentials{"alice": hash}

	if !store.Valid("alice", "correct-horse") {
		t.Error("Valid() should accept the correct password")
	}
	if store.Valid("alice", "wrong-password") {
		t.Error("Valid() should reject an incorrect password")
	}
	if store.Valid("bob", "anything") {
		t.Error("Valid() should reject an unknown username")
	}
}

func TestHashPassword_ProducesDistinctHashesForSamePassword(t *testing.T) {
	h1, err := HashPassword("same-password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	h2, err := HashPassword("same-password")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if h1 == h2 {
		t.Error("HashPassword() should salt each hash differently")
	}

	store := HashedCredentials{"user": h1}
	if !store.Valid("user", "same-password") {
		t.Error("Valid() should accept the password against its own hash")
	}
}
