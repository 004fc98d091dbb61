package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// KeyPair holds an RSA key pair loaded from PEM material.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// ParseKeyPair decodes PEM encoded private and public keys.
func ParseKeyPair(privatePEM, publicPEM string) (KeyPair, error) {
	privatePEM = strings.TrimSpace(privatePEM)
	publicPEM = strings.TrimSpace(publicPEM)
	if privatePEM == "" || publicPEM == "" {
		return KeyPair{}, errors.New("auth: both private and public keys are required")
	}
	priv, err := parseRSAPrivateKey(privatePEM)
	if err != nil {
		return KeyPair{}, fmt.Errorf("auth: parse private key: %w", err)
	}
	pub, err := parseRSAPublicKey(publicPEM)
	if err != nil {
		return KeyPair{}, fmt.Errorf("auth: parse public key: %w", err)
	}
	return KeyPair{Private: priv, Public: pub}, nil
}

// LoadKeyPair reads a key pair from disk. A missing file is an error.
func LoadKeyPair(privatePath, publicPath string) (KeyPair, error) {
	privPEM, err := os.ReadFile(privatePath)
	if err != nil {
		return KeyPair{}, fmt.Errorf("auth: read private key: %w", err)
	}
	pubPEM, err := os.ReadFile(publicPath)
	if err != nil {
		return KeyPair{}, fmt.Errorf("auth: read public key: %w", err)
	}
	return ParseKeyPair(string(privPEM), string(pubPEM))
}

func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid PEM private key")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, errors.New("unsupported private key type")
	default:
		return nil, fmt.Errorf("unsupported private key type %s", block.Type)
	}
}

func parseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid PEM public key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported public key type %s", block.Type)
	}
}
