package auth

// TestKeyPair exposes the shared test key pair to the auth_test package.
var TestKeyPair = testKeyPair
