package audit

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
)

// chainSeed is the previous_hash sentinel for the first record of a chain.
// It must be identical between the write, verify and rehash paths.
const chainSeed = ""

// ChainHash computes the chain digest for a record: lowercase hex
// SHA-256 over canonical bytes followed by the previous hash.
func ChainHash(canonical []byte, previousHash string) string {
	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte(previousHash))
	return hex.EncodeToString(h.Sum(nil))
}

// Signer computes keyed HMAC signatures over chain hashes. A nil *Signer
// means signing is disabled; all methods are nil-safe.
type Signer struct {
	secret []byte
	algo   func() hash.Hash
}

// NewSigner builds a signer for the given secret and digest algorithm.
// Supported algorithms: sha256 (default), sha512, sha1.
func NewSigner(secret, algo string) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("signer requires a secret")
	}
	s := &Signer{secret: []byte(secret)}
	switch algo {
	case "", "sha256":
		s.algo = sha256.New
	case "sha512":
		s.algo = sha512.New
	case "sha1":
		s.algo = sha1.New
	default:
		return nil, fmt.Errorf("unsupported signature algorithm %q", algo)
	}
	return s, nil
}

// Sign returns the hex HMAC of the given chain hash.
// Returns "" when signing is disabled.
func (s *Signer) Sign(chainHash string) string {
	if s == nil {
		return ""
	}
	mac := hmac.New(s.algo, s.secret)
	mac.Write([]byte(chainHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is a valid HMAC for chainHash.
// Uses a constant-time comparison.
func (s *Signer) Verify(chainHash, signature string) bool {
	if s == nil {
		return signature == ""
	}
	expected := s.Sign(chainHash)
	return hmac.Equal([]byte(expected), []byte(signature))
}
