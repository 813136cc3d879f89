// Package envhash derives the environment cache key for an action package.
//
// The key is computed from the parsed dependency structure, never from the
// manifest's raw bytes, so formatting-only edits (comments, whitespace) do
// not invalidate a previously provisioned environment.
package envhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Unmanaged is the sentinel cache key stored for packages without a
// dependency manifest. Such packages skip provisioning entirely and run in
// the server's own environment.
const Unmanaged = "<unmanaged>"

// Domain prefix for cache-key hashing. The version suffix enables future
// algorithm migration without colliding with keys already on disk.
const domainEnv = "actiond/env/v1"

// Hash computes the cache key for a parsed dependency manifest.
//
// The structure is serialized canonically (sorted keys, NFC-normalized
// strings, no HTML escaping) before hashing, so two manifests that parse to
// structurally identical content always produce the same key.
func Hash(parsed map[string]any) (string, error) {
	canonical, err := marshalCanonical(parsed)
	if err != nil {
		return "", fmt.Errorf("envhash: %w", err)
	}
	return hashWithDomain(domainEnv, canonical), nil
}

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents domain/data
// boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
