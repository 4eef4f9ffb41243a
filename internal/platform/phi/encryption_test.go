package phi

import (
	"crypto/rand"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate test key: %v", err)
	}
	return key
}

func TestNewEncryptor_KeySize(t *testing.T) {
	for _, n := range []int{0, 16, 64} {
		if _, err := NewEncryptor(make([]byte, n)); err == nil {
			t.Errorf("expected error for %d-byte key", n)
		}
	}
}

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("create encryptor: %v", err)
	}
	for _, plain := range []string{"", "12 Harbour Road", "Ünïcødé ✓"} {
		ct, err := enc.Encrypt(plain)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plain, err)
		}
		if plain != "" && strings.Contains(ct, plain) {
			t.Errorf("ciphertext leaks plaintext %q", plain)
		}
		got, err := enc.Decrypt(ct)
		if err != nil {
			t.Fatalf("decrypt %q: %v", plain, err)
		}
		if got != plain {
			t.Errorf("got %q, want %q", got, plain)
		}
	}
}

func TestEncrypt_NonceVaries(t *testing.T) {
	enc, _ := NewEncryptor(testKey(t))
	a, _ := enc.Encrypt("same")
	b, _ := enc.Encrypt("same")
	if a == b {
		t.Error("expected different ciphertexts for the same plaintext")
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	a, _ := NewEncryptor(testKey(t))
	b, _ := NewEncryptor(testKey(t))
	ct, _ := a.Encrypt("secret")
	if _, err := b.Decrypt(ct); err == nil {
		t.Error("expected error decrypting with another key")
	}
	if _, err := a.Decrypt("!!not-base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestFromHex(t *testing.T) {
	enc, err := FromHex("")
	if err != nil || enc != nil {
		t.Errorf("expected nil encryptor for empty key, got %v, %v", enc, err)
	}
	if _, err := FromHex("zz"); err == nil {
		t.Error("expected error for non-hex key")
	}
	if _, err := FromHex(strings.Repeat("0f", 32)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSealOpen(t *testing.T) {
	enc, _ := NewEncryptor(testKey(t))
	addr := "221B Baker Street"
	v := &addr
	if err := Seal(enc, &v); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if *v == addr {
		t.Fatal("expected value to be encrypted")
	}
	if err := Open(enc, &v); err != nil {
		t.Fatalf("open: %v", err)
	}
	if *v != addr {
		t.Errorf("got %q, want %q", *v, addr)
	}

	var nilVal *string
	if err := Seal(enc, &nilVal); err != nil || nilVal != nil {
		t.Errorf("expected nil to stay nil, got %v, %v", nilVal, err)
	}
	plain := "x"
	p := &plain
	if err := Seal(nil, &p); err != nil || *p != "x" {
		t.Errorf("expected passthrough without encryptor, got %q, %v", *p, err)
	}
}
