package epay

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// Merchant keys arrive through env vars in whatever shape the operator had at
// hand: full PEM, base64 of a PEM file, or base64 of raw DER. The parsers
// below accept all of them.

// ParsePrivateKey decodes an RSA private key from PEM, base64-wrapped PEM, or
// base64 DER (PKCS#8 or PKCS#1).
func ParsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	der, err := normalizeKeyMaterial(raw)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}

	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("private key: PKCS#8 key is not RSA")
		}
		return rsaKey, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	return nil, errors.New("private key: not PKCS#8 or PKCS#1 DER")
}

// ParsePublicKey decodes an RSA public key from PEM, base64-wrapped PEM, or
// base64 DER (SPKI or PKCS#1).
func ParsePublicKey(raw string) (*rsa.PublicKey, error) {
	der, err := normalizeKeyMaterial(raw)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}

	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key: SPKI key is not RSA")
		}
		return rsaKey, nil
	}
	if key, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return key, nil
	}
	return nil, errors.New("public key: not SPKI or PKCS#1 DER")
}

// normalizeKeyMaterial reduces any accepted input shape to raw DER bytes.
func normalizeKeyMaterial(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty key material")
	}

	if strings.Contains(raw, "-----BEGIN") {
		return pemToDER(raw)
	}

	// Not PEM: must be base64. Strip whitespace the operator may have pasted in.
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, raw)

	decoded, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	if strings.Contains(string(decoded), "-----BEGIN") {
		return pemToDER(string(decoded))
	}
	return decoded, nil
}

func pemToDER(raw string) ([]byte, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("malformed PEM block")
	}
	return block.Bytes, nil
}
