package crypto

import (
	"bytes"
	"testing"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")

	k1, err := DeriveKey("correct horse", salt, 1000)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	defer k1.Destroy()

	k2, err := DeriveKey("correct horse", salt, 1000)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	defer k2.Destroy()

	if !bytes.Equal(k1.Bytes(), k2.Bytes()) {
		t.Error("same (password, salt, rounds) produced different keys")
	}
}

func TestDeriveKeyVariesWithInputs(t *testing.T) {
	salt := []byte("0123456789abcdef")
	otherSalt := []byte("fedcba9876543210")

	base, err := DeriveKey("password", salt, 1000)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	defer base.Destroy()

	variants := []struct {
		name     string
		password string
		salt     []byte
		rounds   uint32
	}{
		{"DifferentPassword", "Password", salt, 1000},
		{"DifferentSalt", "password", otherSalt, 1000},
		{"DifferentRounds", "password", salt, 1001},
	}

	for _, v := range variants {
		t.Run(v.name, func(t *testing.T) {
			k, err := DeriveKey(v.password, v.salt, v.rounds)
			if err != nil {
				t.Fatalf("DeriveKey failed: %v", err)
			}
			defer k.Destroy()

			if bytes.Equal(base.Bytes(), k.Bytes()) {
				t.Error("derived key did not change with inputs")
			}
		})
	}
}

func TestDeriveKeyRejectsZeroRounds(t *testing.T) {
	for _, fn := range []func() error{
		func() error { _, err := DeriveKey("pw", []byte("salt"), 0); return err },
		func() error { _, err := DeriveKeyArgon2("pw", []byte("salt"), 0); return err },
		func() error { _, err := LegacyDeriveKey("pw", []byte("salt"), 0); return err },
	} {
		if err := fn(); err != ErrInvalidRounds {
			t.Errorf("expected ErrInvalidRounds, got %v", err)
		}
	}
}

func TestLegacyDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("legacy-salt")

	k1, err := LegacyDeriveKey("pin-backup", salt, 10_000)
	if err != nil {
		t.Fatalf("LegacyDeriveKey failed: %v", err)
	}
	defer k1.Destroy()

	k2, err := LegacyDeriveKey("pin-backup", salt, 10_000)
	if err != nil {
		t.Fatalf("LegacyDeriveKey failed: %v", err)
	}
	defer k2.Destroy()

	if !bytes.Equal(k1.Bytes(), k2.Bytes()) {
		t.Error("legacy derivation is not deterministic")
	}
	if len(k1.Bytes()) != 32 {
		t.Errorf("expected 32-byte key, got %d", len(k1.Bytes()))
	}
}

func TestSplitKeysIndependent(t *testing.T) {
	master, err := DeriveKey("pw", []byte("0123456789abcdef"), 100)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	defer master.Destroy()

	encKey, macKey, err := SplitKeys(master)
	if err != nil {
		t.Fatalf("SplitKeys failed: %v", err)
	}
	defer encKey.Destroy()
	defer macKey.Destroy()

	if bytes.Equal(encKey.Bytes(), macKey.Bytes()) {
		t.Error("encryption and mac subkeys must differ")
	}
	if bytes.Equal(encKey.Bytes(), master.Bytes()) || bytes.Equal(macKey.Bytes(), master.Bytes()) {
		t.Error("subkeys must not equal the master key")
	}
}

func TestNewSaltUnique(t *testing.T) {
	s1, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt failed: %v", err)
	}
	s2, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt failed: %v", err)
	}

	if len(s1) != 16 {
		t.Errorf("expected 16-byte salt, got %d", len(s1))
	}
	if bytes.Equal(s1, s2) {
		t.Error("two salts should not collide")
	}
}
