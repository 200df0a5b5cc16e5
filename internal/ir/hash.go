package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content digests. The version suffix allows the
// algorithm to change without colliding with old digests.
const (
	DomainSource = "oproxy/source/v1"
	DomainTree   = "oproxy/tree/v1"
)

// Digest computes SHA-256 over domain, a null separator and data.
// The separator prevents domain/data boundary ambiguity.
func Digest(domain string, data ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, d := range data {
		h.Write([]byte{0x00})
		h.Write(d)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TreeDigest returns the digest of a record's canonical encoding.
func TreeDigest(rec TreeRecord) (string, error) {
	data, err := rec.Encode()
	if err != nil {
		return "", err
	}
	return Digest(DomainTree, data), nil
}
