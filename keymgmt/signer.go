package keymgmt

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/irongate/internal/apperr"
	"github.com/jmcleod/irongate/internal/util"
)

// JWKSPath is where the gateway publishes its verification keys.
const JWKSPath = "/.well-known/jwks"

// Signer signs downstream identity tokens.
type Signer interface {
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
}

// CurrentKeySigner signs with whatever key the holder has at call time, so
// a rotation takes effect on the next signature.
type CurrentKeySigner struct {
	Holder *CurrentKeyHolder
	// JKU is advertised in the header of asymmetric tokens.
	JKU string
}

var _ Signer = (*CurrentKeySigner)(nil)

func (s *CurrentKeySigner) Sign(_ context.Context, claims jwt.Claims) (string, error) {
	kid, key, ok := s.Holder.Current()
	if !ok {
		return "", apperr.Invariant("no current signing key", nil)
	}
	method, err := key.SigningMethod()
	if err != nil {
		return "", apperr.Invariant("current signing key unusable", err)
	}
	tok := jwt.NewWithClaims(method, claims)
	tok.Header["kid"] = kid
	if key.Type != KeyHMAC && s.JKU != "" {
		tok.Header["jku"] = s.JKU
	}
	signed, err := tok.SignedString(key.signingKey())
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// StaticHMACSigner signs with a shared secret configured out of band, for
// upstreams that cannot fetch the JWKS document.
type StaticHMACSigner struct {
	secret []byte
	method jwt.SigningMethod
}

var _ Signer = (*StaticHMACSigner)(nil)

// NewStaticHMACSigner takes a hex encoded secret of 256, 384 or 512 bits.
func NewStaticHMACSigner(hexSecret string) (*StaticHMACSigner, error) {
	secret, err := util.HexDecode(hexSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding hmac secret: %w", err)
	}
	method, err := hmacMethod(len(secret))
	if err != nil {
		return nil, err
	}
	return &StaticHMACSigner{secret: secret, method: method}, nil
}

func (s *StaticHMACSigner) Sign(_ context.Context, claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

var ErrUnknownSigner = errors.New("unknown signature implementation")

// NewSigner resolves a signature implementation name.
func NewSigner(name, hexSecret string, holder *CurrentKeyHolder, jku string) (Signer, error) {
	switch name {
	case "", "rsa", "rotating":
		return &CurrentKeySigner{Holder: holder, JKU: jku}, nil
	case "hmac":
		return NewStaticHMACSigner(hexSecret)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSigner, name)
	}
}
