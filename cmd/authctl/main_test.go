package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse.dev/internal/app"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/config"
)

func writeKeyPair(t *testing.T, privPath, pubPath string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(privPath), 0o700))
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600))
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o644))
}

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Driver = config.DriverMemory
	cfg.Keys.Dir = t.TempDir()
	writeKeyPair(t, cfg.Keys.APIPrivate(), cfg.Keys.APIPublic())
	writeKeyPair(t, cfg.Keys.EncryptionPrivate(), cfg.Keys.EncryptionPublic())

	a, err := app.New(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestOperatorCommands(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	var out bytes.Buffer

	err := dispatch(ctx, a, "create-user", []string{
		"--email", "ops@example.com", "--first-name", "Ops", "--role", "admin", "--password", "first-pass",
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "created user ops@example.com")

	err = dispatch(ctx, a, "create-user", []string{
		"--email", "ops@example.com", "--first-name", "Ops", "--role", "admin", "--password", "x",
	}, &out)
	assert.ErrorContains(t, err, "already exists")

	err = dispatch(ctx, a, "create-user", []string{
		"--email", "x@example.com", "--first-name", "X", "--role", "ghost", "--password", "x",
	}, &out)
	assert.ErrorContains(t, err, `role "ghost" does not exist`)

	assert.ErrorContains(t, dispatch(ctx, a, "create-user", []string{"--email", "y@example.com"}, &out), "--first-name is required")

	// the old password stops working after rotation
	_, err = a.Service.Login(ctx, "ops@example.com", "first-pass")
	require.NoError(t, err)
	out.Reset()
	require.NoError(t, dispatch(ctx, a, "set-password", []string{"--email", "ops@example.com", "--password", "second-pass"}, &out))
	assert.Contains(t, out.String(), "password updated")
	_, err = a.Service.Login(ctx, "ops@example.com", "first-pass")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = a.Service.Login(ctx, "ops@example.com", "second-pass")
	assert.NoError(t, err)

	out.Reset()
	require.NoError(t, dispatch(ctx, a, "revoke-sessions", []string{"--email", "ops@example.com"}, &out))
	assert.Contains(t, out.String(), "revoked 0 session(s)")
	assert.ErrorContains(t, dispatch(ctx, a, "revoke-sessions", []string{"--email", "nobody@example.com"}, &out), "no user with email")

	out.Reset()
	require.NoError(t, dispatch(ctx, a, "sweep", nil, &out))
	assert.Contains(t, out.String(), "removed sessions=0")

	assert.ErrorContains(t, dispatch(ctx, a, "frobnicate", nil, &out), `unknown command "frobnicate"`)
}
