// Package exchange implements the broker REST and WebSocket clients.
//
// Every request is signed with the account's RSA key:
//
//	SIG = base64( RSA-PSS-SHA256( priv, TS ‖ METHOD ‖ full_path ) )
//
// where TS is milliseconds since epoch and full_path includes the
// "/trade-api/v2" prefix (or the WS path prefix for socket upgrades).
// The three headers KEY, TS, SIG accompany both REST calls and the
// WebSocket handshake.
package exchange

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Auth signs broker requests with the operator's RSA private key.
type Auth struct {
	keyID string
	key   *rsa.PrivateKey
}

// NewAuth loads the PEM private key at keyPath and pairs it with the
// API key id.
func NewAuth(keyID, keyPath string) (*Auth, error) {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", keyPath)
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		var parsed any
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err == nil {
			var isRSA bool
			key, isRSA = parsed.(*rsa.PrivateKey)
			if !isRSA {
				return nil, fmt.Errorf("private key in %s is not RSA", keyPath)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &Auth{keyID: keyID, key: key}, nil
}

// KeyID returns the API key id sent in the KEY header.
func (a *Auth) KeyID() string {
	return a.keyID
}

// Headers produces the signed header triplet for one request. fullPath
// must include the API path prefix, without query parameters.
func (a *Auth) Headers(method, fullPath string) (map[string]string, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig, err := a.sign(ts + method + fullPath)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	return map[string]string{
		"KEY": a.keyID,
		"TS":  ts,
		"SIG": sig,
	}, nil
}

func (a *Auth) sign(message string) (string, error) {
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPSS(rand.Reader, a.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
