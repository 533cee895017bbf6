package epay

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
)

// canonicalString builds the aggregator's signing base: drop the sign and
// sign_type keys and any empty values, sort the remaining keys in ASCII byte
// order, and join as k1=v1&k2=v2.
func canonicalString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// signParams signs the canonical form of params with PKCS#1 v1.5 and returns
// the base64 signature.
func signParams(params map[string]string, key *rsa.PrivateKey, hash crypto.Hash) (string, error) {
	digest := hashSum(canonicalString(params), hash)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, hash, digest)
	if err != nil {
		return "", fmt.Errorf("sign params: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// verifyParams checks a base64 signature over the canonical form of params.
func verifyParams(params map[string]string, sigB64 string, key *rsa.PublicKey, hash crypto.Hash) error {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	digest := hashSum(canonicalString(params), hash)
	if err := rsa.VerifyPKCS1v15(key, hash, digest, sig); err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}

func hashSum(s string, hash crypto.Hash) []byte {
	h := hash.New()
	h.Write([]byte(s))
	return h.Sum(nil)
}
