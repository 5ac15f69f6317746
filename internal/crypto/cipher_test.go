package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func TestKeystreamRoundTrip(t *testing.T) {
	key := testKey(t)

	testCases := [][]byte{
		[]byte("Hello, World!"),
		[]byte("Special chars: !@#$%^&*()_+{}|"),
		[]byte("Unicode: こんにちは"),
		bytes.Repeat([]byte{0x00}, 1024),
		make([]byte, 64*1024),
	}

	for i, tc := range testCases {
		t.Run(fmt.Sprintf("Case_%d", i), func(t *testing.T) {
			ct, err := Keystream(tc, key)
			if err != nil {
				t.Fatalf("encrypt failed: %v", err)
			}
			if len(tc) > 0 && bytes.Equal(ct, tc) {
				t.Error("ciphertext is identical to plaintext")
			}

			pt, err := Keystream(ct, key)
			if err != nil {
				t.Fatalf("decrypt failed: %v", err)
			}
			if !bytes.Equal(pt, tc) {
				t.Error("round trip did not recover plaintext")
			}
		})
	}
}

func TestKeystreamEmptyPlaintext(t *testing.T) {
	out, err := Keystream(nil, testKey(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty ciphertext, got %d bytes", len(out))
	}
}

func TestKeystreamRejectsBadKey(t *testing.T) {
	for _, n := range []int{0, 1, 16, 31, 33} {
		if _, err := Keystream([]byte("data"), make([]byte, n)); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("key length %d: expected ErrInvalidKey, got %v", n, err)
		}
	}
}

func TestKeystreamWrongKeyGarbles(t *testing.T) {
	plaintext := []byte("records payload that must not survive a wrong key")

	ct, err := Keystream(plaintext, testKey(t))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	garbage, err := Keystream(ct, testKey(t))
	if err != nil {
		t.Fatalf("decrypt with wrong key must not error: %v", err)
	}
	if bytes.Equal(garbage, plaintext) {
		t.Error("wrong key recovered the plaintext")
	}
}

func TestXORKeystreamRoundTrip(t *testing.T) {
	key := []byte("short legacy key")
	plaintext := []byte("legacy grid payload, longer than the key so it cycles")

	ct, err := XORKeystream(plaintext, key)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	pt, err := XORKeystream(ct, key)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Error("round trip did not recover plaintext")
	}
}

func TestXORKeystreamRejectsEmptyKey(t *testing.T) {
	if _, err := XORKeystream([]byte("data"), nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestMACVerify(t *testing.T) {
	key := testKey(t)
	header := []byte("PINVAULT/1.5\n")
	body := []byte("ciphertext bytes")

	tag := ComputeMAC(key, header, body)
	if !VerifyMAC(key, tag, header, body) {
		t.Fatal("valid tag failed verification")
	}

	if VerifyMAC(key, tag, header, []byte("tampered")) {
		t.Error("tampered body passed verification")
	}
	if VerifyMAC(testKey(t), tag, header, body) {
		t.Error("wrong key passed verification")
	}

	tag[0] ^= 0xFF
	if VerifyMAC(key, tag, header, body) {
		t.Error("tampered tag passed verification")
	}
}
