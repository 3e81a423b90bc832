package kdf

import "testing"

func TestHashVerifyRoundTrip(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	apiKey, err := NewAPIKey()
	if err != nil {
		t.Fatalf("NewAPIKey: %v", err)
	}

	hash, err := Hash(apiKey, salt)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	ok, err := Verify(apiKey, salt, hash)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("Verify returned false for the correct api key")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	salt, _ := NewSalt()
	apiKey, _ := NewAPIKey()
	hash, _ := Hash(apiKey, salt)

	other, _ := NewAPIKey()
	ok, err := Verify(other, salt, hash)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("Verify returned true for a different api key")
	}
}

func TestVerifyRejectsWrongSalt(t *testing.T) {
	salt, _ := NewSalt()
	apiKey, _ := NewAPIKey()
	hash, _ := Hash(apiKey, salt)

	otherSalt, _ := NewSalt()
	ok, err := Verify(apiKey, otherSalt, hash)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("Verify returned true with the wrong salt entangled into the pre-image")
	}
}

func TestNewAPIKeyIsUnique(t *testing.T) {
	a, err := NewAPIKey()
	if err != nil {
		t.Fatalf("NewAPIKey: %v", err)
	}
	b, err := NewAPIKey()
	if err != nil {
		t.Fatalf("NewAPIKey: %v", err)
	}
	if a == b {
		t.Fatal("two generated api keys collided")
	}
}
