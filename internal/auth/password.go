package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Password schemes accepted by NewSecretCipher.
const (
	SchemeRSAOAEP = "rsa-oaep"
	SchemeBcrypt  = "bcrypt"
)

// SecretCipher seals plaintext passwords and checks candidates against them.
type SecretCipher interface {
	Seal(plaintext string) (string, error)
	Matches(secret, plaintext string) bool
}

// RSAOAEPCipher encrypts passwords with the public key and verifies by
// decrypting with the private key. Output is base64 of the OAEP(SHA-1)
// ciphertext.
type RSAOAEPCipher struct {
	keys KeyPair
}

// NewRSAOAEPCipher builds an RSA-OAEP cipher. Verification needs the private key.
func NewRSAOAEPCipher(keys KeyPair) (*RSAOAEPCipher, error) {
	if keys.Public == nil || keys.Private == nil {
		return nil, errors.New("auth: rsa-oaep cipher requires an RSA key pair")
	}
	return &RSAOAEPCipher{keys: keys}, nil
}

func (c *RSAOAEPCipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("password is empty")
	}
	out, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, c.keys.Public, []byte(plaintext), nil)
	if err != nil {
		return "", fmt.Errorf("encrypt password: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func (c *RSAOAEPCipher) Matches(secret, plaintext string) bool {
	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return false
	}
	decrypted, err := rsa.DecryptOAEP(sha1.New(), nil, c.keys.Private, raw, nil)
	if err != nil {
		return false
	}
	return subtleCompare(string(decrypted), plaintext)
}

// BcryptCipher hashes passwords with bcrypt.
type BcryptCipher struct {
	Cost int
}

func (c BcryptCipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("password is empty")
	}
	cost := c.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (c BcryptCipher) Matches(secret, plaintext string) bool {
	if secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(secret), []byte(plaintext)) == nil
}

// NewSecretCipher selects a cipher by scheme name.
func NewSecretCipher(scheme string, keys KeyPair) (SecretCipher, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", SchemeRSAOAEP:
		return NewRSAOAEPCipher(keys)
	case SchemeBcrypt:
		return BcryptCipher{}, nil
	default:
		return nil, fmt.Errorf("auth: unknown password scheme %q", scheme)
	}
}

func subtleCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
