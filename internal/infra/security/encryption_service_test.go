package security

import "testing"

func TestNewEncryptionService_RejectsNonCompliantKeyLengths(t *testing.T) {
	if _, err := NewEncryptionService("too-short"); err == nil {
		t.Error("expected an error for a key that is not 16/24/32 bytes")
	}
	if _, err := NewEncryptionService("0123456789abcdef"); err != nil { // 16 bytes
		t.Errorf("expected a 16-byte key to be accepted, got %v", err)
	}
}

func TestEncryptDecrypt_RoundTrips(t *testing.T) {
	svc, err := NewEncryptionService("0123456789abcdef01234567") // 24 bytes
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plaintext := "sk-upstream-secret-value"
	ciphertext, err := svc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if ciphertext == plaintext {
		t.Fatal("expected ciphertext to differ from plaintext")
	}

	got, err := svc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if got != plaintext {
		t.Errorf("Decrypt(Encrypt(x)) = %q, want %q", got, plaintext)
	}
}

func TestEncrypt_ProducesDistinctCiphertextsForSamePlaintext(t *testing.T) {
	svc, err := NewEncryptionService("0123456789abcdef0123456789abcdef") // 32 bytes
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, err := svc.Encrypt("same-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := svc.Encrypt("same-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Error("expected distinct nonces to produce distinct ciphertexts for identical plaintext")
	}
}

func TestDecrypt_RejectsTruncatedCiphertext(t *testing.T) {
	svc, err := NewEncryptionService("0123456789abcdef") // 16 bytes
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Decrypt("dG9vLXNob3J0"); err == nil {
		t.Error("expected an error for ciphertext shorter than the nonce")
	}
}

func TestDecrypt_RejectsInvalidBase64(t *testing.T) {
	svc, err := NewEncryptionService("0123456789abcdef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Decrypt("not-valid-base64!!!"); err == nil {
		t.Error("expected an error for malformed base64 input")
	}
}
