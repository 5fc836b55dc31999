package encryption

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ShuhangGe/calendar/backend/go/internal/config"
	"github.com/ShuhangGe/calendar/backend/go/internal/models"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(&config.SecurityConfig{
		MasterSecret:     "unit-test-master-secret",
		PBKDF2Iterations: 1000, // low on purpose, the tests are not a benchmark
		KeyVersion:       1,
		KeyCacheSize:     16,
		KeyCacheTTL:      "1m",
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()

	cases := []struct {
		name      string
		plaintext string
		sensitive bool
	}{
		{"plain", "prefers vegetarian food", false},
		{"sensitive", "allergic to peanuts", true},
		{"empty value", "", false},
		{"unicode", "住在北京, works at Acme – since 2019", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, err := engine.Encrypt(ctx, tc.plaintext, "user-1", "secret-1", tc.sensitive)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			if token == tc.plaintext && tc.plaintext != "" {
				t.Fatal("ciphertext equals plaintext")
			}
			got, err := engine.Decrypt(ctx, token, "user-1", "secret-1", tc.sensitive)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if got != tc.plaintext {
				t.Fatalf("round trip mismatch: got %q, want %q", got, tc.plaintext)
			}
		})
	}
}

func TestDecryptWrongUserFails(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()

	token, err := engine.Encrypt(ctx, "some fact", "user-1", "secret", false)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := engine.Decrypt(ctx, token, "user-2", "secret", false); !errors.Is(err, models.ErrDecryption) {
		t.Fatalf("expected ErrDecryption for wrong user, got %v", err)
	}
	if _, err := engine.Decrypt(ctx, token, "user-1", "wrong-secret", false); !errors.Is(err, models.ErrDecryption) {
		t.Fatalf("expected ErrDecryption for wrong secret, got %v", err)
	}
}

func TestDecryptSensitiveMismatchFails(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()

	token, err := engine.Encrypt(ctx, "blood type O", "user-1", "secret", true)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := engine.Decrypt(ctx, token, "user-1", "secret", false); !errors.Is(err, models.ErrDecryption) {
		t.Fatalf("expected ErrDecryption when sensitive flag mismatches, got %v", err)
	}
}

func TestDecryptTamperedTokenFails(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()

	token, err := engine.Encrypt(ctx, "job title: engineer", "user-1", "secret", false)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	// Flip one character in the middle of the token.
	mid := len(token) / 2
	flipped := byte('A')
	if token[mid] == 'A' {
		flipped = 'B'
	}
	tampered := token[:mid] + string(flipped) + token[mid+1:]
	if _, err := engine.Decrypt(ctx, tampered, "user-1", "secret", false); !errors.Is(err, models.ErrDecryption) {
		t.Fatalf("expected ErrDecryption for tampered token, got %v", err)
	}
	if _, err := engine.Decrypt(ctx, "not base64 at all!!", "user-1", "secret", false); !errors.Is(err, models.ErrDecryption) {
		t.Fatalf("expected ErrDecryption for malformed token, got %v", err)
	}
}

func TestDeriveUserKeyDeterministic(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()

	k1, err := engine.Deriver().DeriveUserKey(ctx, "user-1", "secret")
	if err != nil {
		t.Fatalf("DeriveUserKey failed: %v", err)
	}
	k2, err := engine.Deriver().DeriveUserKey(ctx, "user-1", "secret")
	if err != nil {
		t.Fatalf("DeriveUserKey failed: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("same inputs produced different keys")
	}

	k3, err := engine.Deriver().DeriveUserKey(ctx, "user-1", "secreT")
	if err != nil {
		t.Fatalf("DeriveUserKey failed: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Fatal("one-character secret change produced the same key")
	}
	if len(k1) != derivedKeyLen {
		t.Fatalf("derived key length = %d, want %d", len(k1), derivedKeyLen)
	}
}

func TestDeriveUserKeyBadInputs(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()

	if _, err := engine.Deriver().DeriveUserKey(ctx, "", "secret"); !errors.Is(err, models.ErrKeyDerivation) {
		t.Fatalf("expected ErrKeyDerivation for empty user id, got %v", err)
	}
	if _, err := engine.Deriver().DeriveUserKey(ctx, "user-1", ""); !errors.Is(err, models.ErrKeyDerivation) {
		t.Fatalf("expected ErrKeyDerivation for empty secret, got %v", err)
	}
	if _, err := NewEngine(&config.SecurityConfig{PBKDF2Iterations: 1000, KeyCacheSize: 4, KeyCacheTTL: "1m"}); !errors.Is(err, models.ErrKeyDerivation) {
		t.Fatalf("expected ErrKeyDerivation for empty master secret, got %v", err)
	}
}

func TestRotate(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()

	plaintexts := []string{"lives in Berlin", "allergic to peanuts", "team lead"}
	items := make([]RotationItem, len(plaintexts))
	for i, p := range plaintexts {
		sensitive := i == 1
		token, err := engine.Encrypt(ctx, p, "user-1", "old-secret", sensitive)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		items[i] = RotationItem{Ciphertext: token, Sensitive: sensitive}
	}

	rotated, err := engine.Rotate(ctx, "user-1", "old-secret", "new-secret", items)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if len(rotated) != len(items) {
		t.Fatalf("rotated %d items, want %d", len(rotated), len(items))
	}
	for i, token := range rotated {
		got, err := engine.Decrypt(ctx, token, "user-1", "new-secret", items[i].Sensitive)
		if err != nil {
			t.Fatalf("decrypt rotated item %d failed: %v", i, err)
		}
		if got != plaintexts[i] {
			t.Fatalf("rotated item %d = %q, want %q", i, got, plaintexts[i])
		}
		// Old secret must no longer open the rotated token.
		if _, err := engine.Decrypt(ctx, token, "user-1", "old-secret", items[i].Sensitive); !errors.Is(err, models.ErrDecryption) {
			t.Fatalf("rotated item %d still opens under old secret", i)
		}
	}
}

func TestRotateAllOrNothing(t *testing.T) {
	engine := testEngine(t)
	ctx := context.Background()

	good, err := engine.Encrypt(ctx, "valid fact", "user-1", "old-secret", false)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	items := []RotationItem{
		{Ciphertext: good},
		{Ciphertext: "garbage-token"},
	}
	rotated, err := engine.Rotate(ctx, "user-1", "old-secret", "new-secret", items)
	if !errors.Is(err, models.ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
	if rotated != nil {
		t.Fatal("rotation returned partial results on failure")
	}
}
