// Package keymgmt owns the downstream token signing keys: generation, the
// current-key slot, the public JWK store and periodic rotation.
package keymgmt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/irongate/config"
	"github.com/jmcleod/irongate/internal/util"
)

// KeyType tags the family of a generated key.
type KeyType string

const (
	KeyRSA  KeyType = "rsa"
	KeyEC   KeyType = "ec"
	KeyHMAC KeyType = "hmac"
)

const minRSABits = 2048

var ErrUnknownKeyType = errors.New("unknown key generator type")

// GeneratedKey is either an asymmetric private key or a symmetric secret.
type GeneratedKey struct {
	Type   KeyType
	Signer crypto.Signer
	Secret []byte
}

// Public returns the verification half of an asymmetric key, nil for hmac.
func (k GeneratedKey) Public() crypto.PublicKey {
	if k.Signer == nil {
		return nil
	}
	return k.Signer.Public()
}

// SigningMethod returns the JWS algorithm used with this key.
func (k GeneratedKey) SigningMethod() (jwt.SigningMethod, error) {
	switch k.Type {
	case KeyRSA:
		return jwt.SigningMethodRS256, nil
	case KeyEC:
		return jwt.SigningMethodES256, nil
	case KeyHMAC:
		return hmacMethod(len(k.Secret))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyType, k.Type)
	}
}

// signingKey is the value golang-jwt expects for this key's method.
func (k GeneratedKey) signingKey() any {
	if k.Type == KeyHMAC {
		return k.Secret
	}
	return k.Signer
}

func hmacMethod(n int) (jwt.SigningMethod, error) {
	switch n * 8 {
	case 256:
		return jwt.SigningMethodHS256, nil
	case 384:
		return jwt.SigningMethodHS384, nil
	case 512:
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("hmac key of %d bits; want 256, 384 or 512", n*8)
	}
}

// KeyGenerator produces fresh signing keys.
type KeyGenerator interface {
	Generate() (GeneratedKey, error)
}

// RSAGenerator generates RSA keys of Bits length.
type RSAGenerator struct {
	Bits int
}

func (g RSAGenerator) Generate() (GeneratedKey, error) {
	bits := g.Bits
	if bits == 0 {
		bits = config.DefaultRSAKeySize
	}
	if bits < minRSABits {
		return GeneratedKey{}, fmt.Errorf("rsa key size %d below minimum %d", bits, minRSABits)
	}
	k, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return GeneratedKey{}, fmt.Errorf("generating rsa key: %w", err)
	}
	return GeneratedKey{Type: KeyRSA, Signer: k}, nil
}

// ECGenerator generates P-256 keys.
type ECGenerator struct{}

func (ECGenerator) Generate() (GeneratedKey, error) {
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return GeneratedKey{}, fmt.Errorf("generating ec key: %w", err)
	}
	return GeneratedKey{Type: KeyEC, Signer: k}, nil
}

// HMACGenerator generates random secrets of Bits length.
type HMACGenerator struct {
	Bits int
}

func (g HMACGenerator) Generate() (GeneratedKey, error) {
	bits := g.Bits
	if bits == 0 {
		bits = 256
	}
	if _, err := hmacMethod(bits / 8); err != nil {
		return GeneratedKey{}, err
	}
	secret, err := util.RandomBytes(bits / 8)
	if err != nil {
		return GeneratedKey{}, err
	}
	return GeneratedKey{Type: KeyHMAC, Secret: secret}, nil
}

// NewGenerator resolves the configured generator.
func NewGenerator(p config.KeyGeneratorProfile) (KeyGenerator, error) {
	switch KeyType(p.Type) {
	case KeyRSA:
		if p.KeySize != 0 && p.KeySize < minRSABits {
			return nil, fmt.Errorf("rsa keySize %d below minimum %d", p.KeySize, minRSABits)
		}
		return RSAGenerator{Bits: p.KeySize}, nil
	case KeyEC:
		return ECGenerator{}, nil
	case KeyHMAC:
		if _, err := hmacMethod(p.KeySize / 8); p.KeySize != 0 && err != nil {
			return nil, err
		}
		return HMACGenerator{Bits: p.KeySize}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyType, p.Type)
	}
}
