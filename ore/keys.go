// Package ore contains the on-chain domain of the ORE program: addresses,
// keypairs, account state, instruction builders and transaction assembly.
package ore

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

var (
	ErrInvalidPubkey    = errors.New("invalid pubkey")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidKeypair   = errors.New("invalid keypair bytes")
)

// Pubkey is a 32-byte account address.
type Pubkey [32]byte

// Hash is a 32-byte value used for blockhashes, challenges and difficulties.
type Hash [32]byte

// Signature is a 64-byte ed25519 signature.
type Signature [64]byte

func (p Pubkey) String() string { return base58.Encode(p[:]) }

// Bytes returns the address as a byte slice.
func (p Pubkey) Bytes() []byte { return p[:] }
func (h Hash) String() string      { return base58.Encode(h[:]) }
func (s Signature) String() string { return base58.Encode(s[:]) }

func ParsePubkey(s string) (Pubkey, error) {
	var p Pubkey
	raw := base58.Decode(s)
	if len(raw) != len(p) {
		return p, fmt.Errorf("%w: %q", ErrInvalidPubkey, s)
	}
	copy(p[:], raw)
	return p, nil
}

// MustPubkey parses a base58 address and panics on failure. Only for
// package-level constants.
func MustPubkey(s string) Pubkey {
	p, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return p
}

func ParseHash(s string) (Hash, error) {
	var h Hash
	raw := base58.Decode(s)
	if len(raw) != len(h) {
		return h, fmt.Errorf("invalid hash: %q", s)
	}
	copy(h[:], raw)
	return h, nil
}

func ParseSignature(s string) (Signature, error) {
	var sig Signature
	raw := base58.Decode(s)
	if len(raw) != len(sig) {
		return sig, fmt.Errorf("%w: %q", ErrInvalidSignature, s)
	}
	copy(sig[:], raw)
	return sig, nil
}

// Keypair is an ed25519 signing key and its public address.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  Pubkey
}

// NewKeypair generates a fresh random keypair.
func NewKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	kp := &Keypair{priv: priv}
	copy(kp.pub[:], pub)
	return kp, nil
}

// KeypairFromBytes loads a keypair from the standard 64-byte wallet format
// (32-byte seed followed by the 32-byte public key).
func KeypairFromBytes(raw []byte) (*Keypair, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeypair, len(raw))
	}
	priv := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	kp := &Keypair{priv: priv}
	copy(kp.pub[:], priv.Public().(ed25519.PublicKey))
	return kp, nil
}

func (k *Keypair) Pubkey() Pubkey { return k.pub }

func (k *Keypair) Sign(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.priv, message))
	return sig
}

func (k *Keypair) Bytes() []byte {
	out := make([]byte, ed25519.PrivateKeySize)
	copy(out, k.priv)
	return out
}
