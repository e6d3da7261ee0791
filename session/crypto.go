package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/go-jose/go-jose/v4"

	"github.com/jmcleod/irongate/internal/util"
)

// KeySize is the cookie encryption key length (AES-256).
const KeySize = 32

var (
	// ErrDecrypt is returned for any cookie that cannot be authenticated
	// and decrypted: wrong key, tampering, truncation or garbage.
	ErrDecrypt = errors.New("cookie decryption failed")
	// ErrKeySize is returned when a key is not KeySize bytes.
	ErrKeySize = errors.New("cookie key must be 32 bytes")
)

var (
	cookieKeySalt = []byte("irongate-cookie")
	cookieKeyInfo = []byte("cookie-encryption-v1")
)

// Crypto seals and opens opaque cookie payloads.
type Crypto interface {
	Encrypt(ctx context.Context, payload []byte) (string, error)
	Decrypt(ctx context.Context, token string) ([]byte, error)
}

// JWECrypto encrypts cookies as compact JWE with direct key agreement and
// A256GCM content encryption. The key lives in a memguard enclave and is
// only unsealed for the duration of a single operation.
type JWECrypto struct {
	key *memguard.Enclave
}

var _ Crypto = (*JWECrypto)(nil)

// NewJWECrypto takes ownership of key; the caller's slice is wiped.
func NewJWECrypto(key []byte) (*JWECrypto, error) {
	if len(key) != KeySize {
		util.WipeBytes(key)
		return nil, ErrKeySize
	}
	return &JWECrypto{key: memguard.NewEnclave(key)}, nil
}

// KeyFromSecret derives the cookie key from an operator supplied secret.
func KeyFromSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("cookie secret is empty")
	}
	return util.HKDF([]byte(secret), cookieKeySalt, cookieKeyInfo)
}

// NewRandomKey returns a fresh random cookie key.
func NewRandomKey() ([]byte, error) {
	return util.RandomBytes(KeySize)
}

func (c *JWECrypto) Encrypt(_ context.Context, payload []byte) (string, error) {
	buf, err := c.key.Open()
	if err != nil {
		return "", fmt.Errorf("opening cookie key enclave: %w", err)
	}
	defer buf.Destroy()

	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: buf.Bytes()}, nil)
	if err != nil {
		return "", fmt.Errorf("creating cookie encrypter: %w", err)
	}
	obj, err := enc.Encrypt(payload)
	if err != nil {
		return "", fmt.Errorf("encrypting cookie: %w", err)
	}
	return obj.CompactSerialize()
}

func (c *JWECrypto) Decrypt(_ context.Context, token string) ([]byte, error) {
	obj, err := jose.ParseEncryptedCompact(token, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	buf, err := c.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening cookie key enclave: %w", err)
	}
	defer buf.Destroy()

	plain, err := obj.Decrypt(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}

// EncryptJSON marshals v and encrypts it.
func EncryptJSON(ctx context.Context, c Crypto, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshalling cookie payload: %w", err)
	}
	return c.Encrypt(ctx, data)
}

// DecryptJSON decrypts token into v. Malformed plaintext is reported as
// ErrDecrypt like any other client-side corruption.
func DecryptJSON(ctx context.Context, c Crypto, token string, v any) error {
	data, err := c.Decrypt(ctx, token)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return nil
}
