// Package apikey issues and checks tenant API keys of the form
// sk_<prefix>_<secret>. Only a bcrypt hash of the secret is stored.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const keyPrefix = "sk_"

var ErrMalformed = errors.New("apikey: malformed key")

// Generate returns the raw key to hand out once, its lookup prefix and the
// hash to store.
func Generate() (raw, prefix string, hash []byte, err error) {
	p := make([]byte, 4)
	s := make([]byte, 24)
	if _, err = rand.Read(p); err != nil {
		return "", "", nil, err
	}
	if _, err = rand.Read(s); err != nil {
		return "", "", nil, err
	}
	prefix = hex.EncodeToString(p)
	secret := hex.EncodeToString(s)
	hash, err = bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", nil, err
	}
	return keyPrefix + prefix + "_" + secret, prefix, hash, nil
}

// Looks reports whether token has the API key shape rather than a JWT.
func Looks(token string) bool {
	return strings.HasPrefix(token, keyPrefix)
}

// Parse splits a raw key into prefix and secret.
func Parse(raw string) (prefix, secret string, err error) {
	if !Looks(raw) {
		return "", "", ErrMalformed
	}
	rest := strings.TrimPrefix(raw, keyPrefix)
	prefix, secret, ok := strings.Cut(rest, "_")
	if !ok || prefix == "" || secret == "" {
		return "", "", ErrMalformed
	}
	return prefix, secret, nil
}

// Verify checks secret against a stored hash.
func Verify(hash []byte, secret string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil
}
