package crypto

import "testing"

const testKey = "0123456789abcdef0123456789abcdef"

func TestSealOpenRoundTrip(t *testing.T) {
	keyring, err := NewKeyring(testKey)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	sealed, err := keyring.Seal("sk-ant-secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealed == "sk-ant-secret" {
		t.Fatalf("sealed value must differ from plaintext")
	}
	opened, err := keyring.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if opened != "sk-ant-secret" {
		t.Fatalf("round trip mismatch: %q", opened)
	}
}

func TestSealProducesDistinctCiphertexts(t *testing.T) {
	keyring, err := NewKeyring(testKey)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	first, _ := keyring.Seal("same")
	second, _ := keyring.Seal("same")
	if first == second {
		t.Fatalf("nonce reuse: identical ciphertexts for identical plaintexts")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	keyring, err := NewKeyring(testKey)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	sealed, _ := keyring.Seal("secret")
	tampered := sealed[:len(sealed)-2] + "xx"
	if _, err := keyring.Open(tampered); err == nil {
		t.Fatalf("expected open to fail on tampered ciphertext")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	first, _ := NewKeyring(testKey)
	second, _ := NewKeyring("ffffffffffffffffffffffffffffffff")
	sealed, _ := first.Seal("secret")
	if _, err := second.Open(sealed); err == nil {
		t.Fatalf("expected open to fail with a different key")
	}
}

func TestNewKeyringRejectsShortKey(t *testing.T) {
	if _, err := NewKeyring("too-short"); err == nil {
		t.Fatalf("expected error for short master key")
	}
}
