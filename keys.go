// SPDX-License-Identifier: MIT
// Copyright (c) 2026 pspf-dev
// Source: github.com/pspf-dev/pspf

package pspf

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// KeyPair is the Ed25519 signing key material used by the Builder and the
// corresponding public key embedded in the index for verification.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateEphemeralKeyPair creates a new random Ed25519 key pair.
func GenerateEphemeralKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("pspf: generate key pair: %w", err)
	}

	return &KeyPair{Public: pub, Private: priv}, nil
}

// KeyPairFromSeed derives a deterministic Ed25519 key pair from an arbitrary
// seed string: the signing seed is SHA-256(seed), per §4.4's determinism
// note and the reference builder's generate_keys_from_seed.
func KeyPairFromSeed(seed string) (*KeyPair, error) {
	digest := sha256.Sum256([]byte(seed))
	priv := ed25519.NewKeyFromSeed(digest[:])

	return &KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// LoadKeyPairFromPEM parses PEM-encoded key material: a raw 32-byte Ed25519
// seed, or a PKCS8-wrapped private key (its trailing 32 bytes are the
// seed), matching the reference builder's load_keys_from_files fallback.
func LoadKeyPairFromPEM(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidKey)
	}

	raw := block.Bytes

	if len(raw) == ed25519.SeedSize {
		priv := ed25519.NewKeyFromSeed(raw)
		return &KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(raw)
	if err == nil {
		if edKey, ok := key.(ed25519.PrivateKey); ok {
			return &KeyPair{Public: edKey.Public().(ed25519.PublicKey), Private: edKey}, nil
		}
	}

	if len(raw) >= ed25519.SeedSize {
		tail := raw[len(raw)-ed25519.SeedSize:]
		priv := ed25519.NewKeyFromSeed(tail)
		return &KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
	}

	return nil, fmt.Errorf("%w: unrecognized key encoding", ErrInvalidKey)
}

// Sign signs uncompressed metadata JSON bytes, returning a 512-byte
// signature field with the Ed25519 signature in the first 64 bytes and the
// remainder zero.
func (kp *KeyPair) Sign(metadataJSON []byte) [SignatureFieldSize]byte {
	var field [SignatureFieldSize]byte
	sig := ed25519.Sign(kp.Private, metadataJSON)
	copy(field[:Ed25519SignatureSize], sig)

	return field
}

// VerifySignature checks an index's embedded public key and signature field
// against the uncompressed metadata JSON bytes.
func VerifySignature(publicKey [32]byte, signatureField [SignatureFieldSize]byte, metadataJSON []byte) bool {
	allZero := true
	for _, b := range signatureField[:Ed25519SignatureSize] {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(publicKey[:]), metadataJSON, signatureField[:Ed25519SignatureSize])
}
