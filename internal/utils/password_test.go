package utils

import "testing"

func TestCheckSecretPlain(t *testing.T) {
	if !CheckSecret("telephony", "telephony") {
		t.Fatal("matching plain secret rejected")
	}
	if CheckSecret("telephony", "telephon") {
		t.Fatal("wrong secret accepted")
	}
	if CheckSecret("", "") {
		t.Fatal("empty configured secret must never match")
	}
}

func TestCheckSecretHashed(t *testing.T) {
	hash, err := HashSecret("telephony")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckSecret(hash, "telephony") {
		t.Fatal("hashed secret rejected")
	}
	if CheckSecret(hash, hash) {
		t.Fatal("hash itself accepted as credential")
	}
}
