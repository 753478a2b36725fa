package cryptoenv

import "testing"

func testKey() []byte {
	key, _ := DeriveKey("test-key-for-unit-tests")
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey()
	original := "AIzaSySecretGeminiKey"

	encrypted, err := Encrypt(original, key)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if encrypted == original {
		t.Fatal("encrypted value should differ from plaintext")
	}

	decrypted, err := Decrypt(encrypted, key)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != original {
		t.Fatalf("round-trip failed: got %q, want %q", decrypted, original)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key1 := testKey()
	key2, _ := DeriveKey("a-different-key")

	encrypted, err := Encrypt("secret", key1)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err = Decrypt(encrypted, key2); err == nil {
		t.Fatal("expected error when decrypting with the wrong key")
	}
}

func TestDecryptMalformed(t *testing.T) {
	key := testKey()
	if _, err := Decrypt("not-base64!!!", key); err == nil {
		t.Fatal("expected error for malformed base64")
	}
	if _, err := Decrypt("", key); err == nil {
		t.Fatal("expected error for empty ciphertext (too short)")
	}
}

func TestDeriveKeyLength(t *testing.T) {
	key, err := DeriveKey("short")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("key length = %d, want 32", len(key))
	}
	if _, err = DeriveKey(""); err == nil {
		t.Fatal("expected error for empty passphrase")
	}
}

func TestEncryptUniqueNonces(t *testing.T) {
	key := testKey()
	enc1, _ := Encrypt("same-plaintext", key)
	enc2, _ := Encrypt("same-plaintext", key)
	if enc1 == enc2 {
		t.Fatal("two encryptions of the same plaintext should differ (unique nonces)")
	}
}
