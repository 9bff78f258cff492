package auth

import "testing"

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash == "correct horse battery" {
		t.Fatal("hash must not equal the plaintext")
	}
	if !CheckPassword("correct horse battery", hash) {
		t.Error("expected password to match its hash")
	}
	if CheckPassword("wrong password", hash) {
		t.Error("expected wrong password to be rejected")
	}
}

func TestHashPassword_TooShort(t *testing.T) {
	if _, err := HashPassword("short"); err != ErrPasswordTooShort {
		t.Errorf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestCheckPassword_MalformedHash(t *testing.T) {
	if CheckPassword("whatever1", "not-a-bcrypt-hash") {
		t.Error("expected malformed hash to be rejected")
	}
}
