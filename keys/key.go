package keys

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"
)

const (
	PublicKeyLen = 32
	SignatureLen = 64
)

var ErrInvalidKeyLen = errors.New("invalid key length")

type NoCompare [0]func()

// PrivateKey holds a 32-byte Ed25519 seed. The signing key is expanded on
// demand so the type stays a fixed-size value like PublicKey.
type PrivateKey struct {
	_ NoCompare
	k [32]byte
}

func NewPrivateKey() PrivateKey {
	k := [32]byte{}
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		panic("error generating random bytes for private key: " + err.Error())
	}
	return PrivateKey{k: k}
}

func (k PrivateKey) IsZero() bool {
	return k.Compare(PrivateKey{})
}

func (k PrivateKey) Compare(other PrivateKey) bool {
	return subtle.ConstantTimeCompare(k.k[:], other.k[:]) == 1
}

func (k PrivateKey) MarshalText() ([]byte, error) {
	b := make([]byte, base64.StdEncoding.EncodedLen(len(k.k)))
	base64.StdEncoding.Encode(b, k.k[:])
	return b, nil
}

func (k *PrivateKey) UnmarshalText(text []byte) error {
	b, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(b) != len(k.k) {
		return ErrInvalidKeyLen
	}
	copy(k.k[:], b)
	return nil
}

func (k PrivateKey) PublicKey() PublicKey {
	pub := PublicKey{}
	priv := ed25519.NewKeyFromSeed(k.k[:])
	copy(pub.k[:], priv.Public().(ed25519.PublicKey))
	return pub
}

// Sign returns the Ed25519 signature of message. Registrations sign the
// raw 16 address bytes.
func (k PrivateKey) Sign(message []byte) []byte {
	return ed25519.Sign(ed25519.NewKeyFromSeed(k.k[:]), message)
}

// PublicKey doubles as the tracker identity: addresses are registered
// under the key that signed them.
type PublicKey struct {
	k [32]byte
}

func NewPublicKeyFromRawBytes(raw []byte) PublicKey {
	var key PublicKey
	copy(key.k[:], raw)
	return key
}

// Verify reports whether signature is a valid signature of message by this
// key. Signatures arrive from untrusted peers, so a malformed one is a
// plain false, never a panic.
func (k PublicKey) Verify(message, signature []byte) bool {
	if len(signature) != SignatureLen {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(k.k[:]), message, signature)
}

func (k PublicKey) MarshalText() ([]byte, error) {
	b := make([]byte, base64.StdEncoding.EncodedLen(len(k.k)))
	base64.StdEncoding.Encode(b, k.k[:])
	return b, nil
}

func (k *PublicKey) UnmarshalText(text []byte) error {
	return k.DecodeFromString(string(text))
}

func (k *PublicKey) DecodeFromString(s string) error {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(k.k) {
		return ErrInvalidKeyLen
	}
	copy(k.k[:], b)
	return nil
}

func (k PublicKey) EncodeToString() string {
	return base64.StdEncoding.EncodeToString(k.k[:])
}

func (k PublicKey) Raw() []byte {
	return bytes.Clone(k.k[:])
}

func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}
