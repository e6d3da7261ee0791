package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFKeyLength is the size of keys returned by HKDF.
const HKDFKeyLength = 32

// HKDF derives an HKDFKeyLength-byte key with HKDF-SHA256.
func HKDF(secret, salt, info []byte) ([]byte, error) {
	key := make([]byte, HKDFKeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}
