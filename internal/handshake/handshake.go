// ABOUTME: One-time key exchange that issues an Ed25519 signing identity to a client
// ABOUTME: X25519 shared secret keys XChaCha20-Poly1305 sealing of the signing seed

package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const (
	// PublicKeySize is the size of an X25519 public key.
	PublicKeySize = curve25519.PointSize

	// SealedKeySize is the size of the encrypted signing seed: 32 bytes of
	// ciphertext followed by the 16-byte Poly1305 tag.
	SealedKeySize = ed25519.SeedSize + chacha20poly1305.Overhead

	// NonceSize is the size of the random nonce sent alongside the sealed key.
	NonceSize = chacha20poly1305.NonceSizeX
)

var (
	// ErrInvalidPublicKey is returned for client keys that are not 32 bytes or
	// that produce an all-zero shared secret.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrOpenFailed is returned when a sealed key does not authenticate.
	ErrOpenFailed = errors.New("sealed key failed authentication")
)

// Issued is the result of one handshake. VerifyKey stays on the server;
// the other fields are returned to the client.
type Issued struct {
	VerifyKey    ed25519.PublicKey
	SealedKey    []byte
	Nonce        []byte
	ServerPublic []byte
}

// Issuer runs the server side of the handshake.
type Issuer struct {
	rand io.Reader
}

// NewIssuer creates an issuer drawing randomness from r, or crypto/rand when r is nil.
func NewIssuer(r io.Reader) *Issuer {
	if r == nil {
		r = rand.Reader
	}
	return &Issuer{rand: r}
}

// Issue generates a signing key pair for a client and seals its private seed
// for transport under the X25519 secret shared with clientPublic. A fresh
// ephemeral key pair and a fresh nonce are used on every call.
func (i *Issuer) Issue(clientPublic []byte) (*Issued, error) {
	if len(clientPublic) != PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKey, len(clientPublic), PublicKeySize)
	}

	serverSecret, serverPublic, err := GenerateKeyPair(i.rand)
	if err != nil {
		return nil, err
	}
	defer zero(serverSecret)

	shared, err := curve25519.X25519(serverSecret, clientPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	defer zero(shared)

	verifyKey, signingKey, err := ed25519.GenerateKey(i.rand)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	defer zero(signingKey)

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(i.rand, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	aead, err := chacha20poly1305.NewX(shared)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	return &Issued{
		VerifyKey:    verifyKey,
		SealedKey:    aead.Seal(nil, nonce, signingKey.Seed(), nil),
		Nonce:        nonce,
		ServerPublic: serverPublic,
	}, nil
}

// probeScalar is any fixed scalar; X25519 clamping clears the cofactor bits, so
// a low-order point yields the all-zero output whatever the scalar.
var probeScalar = [curve25519.ScalarSize]byte{1}

// CheckPublicKey reports whether clientPublic is usable for a handshake: it
// must be 32 bytes and must not be a low-order point.
func CheckPublicKey(clientPublic []byte) error {
	if len(clientPublic) != PublicKeySize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKey, len(clientPublic), PublicKeySize)
	}
	out, err := curve25519.X25519(probeScalar[:], clientPublic)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	zero(out)
	return nil
}

// GenerateKeyPair returns a fresh X25519 secret scalar and its public key.
func GenerateKeyPair(r io.Reader) (secret, public []byte, err error) {
	if r == nil {
		r = rand.Reader
	}
	secret = make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(r, secret); err != nil {
		return nil, nil, fmt.Errorf("generating x25519 secret: %w", err)
	}
	public, err = curve25519.X25519(secret, curve25519.Basepoint)
	if err != nil {
		zero(secret)
		return nil, nil, fmt.Errorf("deriving x25519 public key: %w", err)
	}
	return secret, public, nil
}

// OpenKey is the client side of the handshake: it recomputes the shared
// secret from the client's ephemeral secret and the server's public key and
// decrypts the sealed signing seed.
func OpenKey(clientSecret, serverPublic, nonce, sealed []byte) (ed25519.PrivateKey, error) {
	if len(serverPublic) != PublicKeySize {
		return nil, fmt.Errorf("%w: server key is %d bytes", ErrInvalidPublicKey, len(serverPublic))
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce is %d bytes", ErrOpenFailed, len(nonce))
	}
	if len(sealed) != SealedKeySize {
		return nil, fmt.Errorf("%w: sealed key is %d bytes", ErrOpenFailed, len(sealed))
	}

	shared, err := curve25519.X25519(clientSecret, serverPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	defer zero(shared)

	aead, err := chacha20poly1305.NewX(shared)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	seed, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrOpenFailed
	}
	defer zero(seed)

	return ed25519.NewKeyFromSeed(seed), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
