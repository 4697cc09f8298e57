// Package ownerkey implements the capability token letting an anonymous
// submitter later prove ownership of a reply without authentication.
//
// The token is a repurposed RSA keypair used purely as a hard-to-guess
// bearer value: the private key is retained with the reply and the
// public-derived token is disclosed exactly once at creation time.
// Verification re-derives the public half from the retained secret and
// compares; nothing is ever signed or decrypted.
package ownerkey

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
)

const keyBits = 2048

// Issue generates a fresh keypair. The returned secret (PKCS#8 private key
// bytes) is stored with the reply and never leaves the server; the token
// (base64url PKIX public key) is the submitter's one chance to capture the
// capability.
func Issue() (secret []byte, token string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, "", err
	}
	secret, err = x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, "", err
	}
	public, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, "", err
	}
	return secret, base64.RawURLEncoding.EncodeToString(public), nil
}

// Verify reports whether the presented token matches the retained secret.
// Malformed tokens, foreign secrets and a missing secret all report false;
// Verify never fails with an error.
func Verify(secret []byte, token string) bool {
	if len(secret) == 0 || token == "" {
		return false
	}
	parsed, err := x509.ParsePKCS8PrivateKey(secret)
	if err != nil {
		return false
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return false
	}
	expected, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return false
	}
	presented, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(expected, presented) == 1
}
