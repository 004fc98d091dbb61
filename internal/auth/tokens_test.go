package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	testKeysOnce sync.Once
	testKeys     KeyPair
	testKeysErr  error
)

func testKeyPair(t testing.TB) KeyPair {
	t.Helper()
	testKeysOnce.Do(func() {
		var priv *rsa.PrivateKey
		priv, testKeysErr = rsa.GenerateKey(rand.Reader, 2048)
		if testKeysErr == nil {
			testKeys = KeyPair{Private: priv, Public: &priv.PublicKey}
		}
	})
	if testKeysErr != nil {
		t.Fatalf("generate key: %v", testKeysErr)
	}
	return testKeys
}

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer(testKeyPair(t), WithTokenClock(func() time.Time { return now }), WithIssuer("gatehouse"))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	pair, err := issuer.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(pair.CorrelationID) != 2*correlationIDBytes {
		t.Fatalf("correlation id %q has wrong length", pair.CorrelationID)
	}
	if !pair.AccessExpiresAt.Equal(now.Add(time.Minute)) || !pair.RefreshExpiresAt.Equal(now.Add(72*time.Hour)) {
		t.Fatalf("unexpected expiries: %v %v", pair.AccessExpiresAt, pair.RefreshExpiresAt)
	}

	access, err := issuer.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("Verify access: %v", err)
	}
	refresh, err := issuer.Verify(pair.RefreshToken)
	if err != nil {
		t.Fatalf("Verify refresh: %v", err)
	}
	if access.Mode != ModeAccess || refresh.Mode != ModeRefresh {
		t.Fatalf("modes: access=%v refresh=%v", access.Mode, refresh.Mode)
	}
	if access.CorrelationID != pair.CorrelationID || refresh.CorrelationID != pair.CorrelationID {
		t.Fatal("both tokens must carry the pair's correlation id")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	clock := now
	issuer, err := NewTokenIssuer(testKeyPair(t), WithTokenClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	pair, err := issuer.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	clock = now.Add(2 * time.Minute)
	if _, err := issuer.Verify(pair.AccessToken); err != ErrTokenInvalid {
		t.Fatalf("expected expired access token to fail, got %v", err)
	}
	if _, err := issuer.Verify(pair.RefreshToken); err != nil {
		t.Fatalf("refresh token should still be valid: %v", err)
	}
}

func TestVerifyRejectsForeignAndTampered(t *testing.T) {
	issuer, err := NewTokenIssuer(testKeyPair(t))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	foreign, err := NewTokenIssuer(KeyPair{Private: other, Public: &other.PublicKey})
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	pair, err := foreign.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Verify(pair.AccessToken); err != ErrTokenInvalid {
		t.Fatalf("foreign signature accepted: %v", err)
	}

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		T:                "abc",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	signed, err := hs.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := issuer.Verify(signed); err != ErrTokenInvalid {
		t.Fatalf("HS256 token accepted: %v", err)
	}

	for _, tok := range []string{"", "garbage", "a.b.c"} {
		if _, err := issuer.Verify(tok); err != ErrTokenInvalid {
			t.Fatalf("Verify(%q)=%v", tok, err)
		}
	}
}

func TestLoadKeyPair(t *testing.T) {
	keys := testKeyPair(t)
	dir := t.TempDir()

	privDER, err := x509.MarshalPKCS8PrivateKey(keys.Private)
	if err != nil {
		t.Fatalf("marshal private: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(keys.Public)
	if err != nil {
		t.Fatalf("marshal public: %v", err)
	}
	privPath := filepath.Join(dir, "private.key")
	pubPath := filepath.Join(dir, "public.key")
	if err := os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadKeyPair(privPath, pubPath)
	if err != nil {
		t.Fatalf("LoadKeyPair: %v", err)
	}
	if !loaded.Public.Equal(keys.Public) {
		t.Fatal("loaded public key differs")
	}

	if _, err := LoadKeyPair(filepath.Join(dir, "missing.key"), pubPath); err == nil || !strings.Contains(err.Error(), "read private key") {
		t.Fatalf("expected missing file error, got %v", err)
	}
}
