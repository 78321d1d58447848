// Package keys implements the C2 Key & Signature Engine: BIP-340 Schnorr
// signing and verification over secp256k1 x-only public keys, as used by
// Nostr event ids and signatures.
package keys

import (
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// ErrMalformedKey is returned when a key or message is the wrong length.
var ErrMalformedKey = errors.New("malformed key")

// KeyPair holds a secp256k1 private key and its x-only public key hex.
type KeyPair struct {
	Private *btcec.PrivateKey
	Public  *btcec.PublicKey
	PubHex  string
}

// Generate creates a fresh random keypair.
func Generate() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	pub := priv.PubKey()
	return &KeyPair{
		Private: priv,
		Public:  pub,
		PubHex:  hex.EncodeToString(schnorr.SerializePubKey(pub)),
	}, nil
}

// Sign produces a 64-byte BIP-340 Schnorr signature over a 32-byte message
// using the given 32-byte private key.
func Sign(privateKey, message []byte) ([]byte, error) {
	if len(privateKey) != 32 {
		return nil, ErrMalformedKey
	}
	if len(message) != 32 {
		return nil, ErrMalformedKey
	}

	priv, _ := btcec.PrivKeyFromBytes(privateKey)
	sig, err := schnorr.Sign(priv, message, schnorr.FastSign())
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// Verify checks a 64-byte Schnorr signature over a 32-byte message against
// a 32-byte x-only public key. A wrong-length input is a MalformedKey
// error; an otherwise well-formed but non-matching signature returns
// (false, nil), never an error (spec.md §4.2).
func Verify(xOnlyPubKey, message, sig []byte) (bool, error) {
	if len(xOnlyPubKey) != 32 {
		return false, ErrMalformedKey
	}
	if len(message) != 32 {
		return false, ErrMalformedKey
	}
	if len(sig) != 64 {
		return false, ErrMalformedKey
	}

	pubKey, err := schnorr.ParsePubKey(xOnlyPubKey)
	if err != nil {
		return false, nil
	}
	parsedSig, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false, nil
	}
	return parsedSig.Verify(message, pubKey), nil
}

// EncodeHex is a thin wrapper kept for symmetry with DecodeHex.
func EncodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeHex decodes a hex string, returning ErrMalformedKey (not the raw
// encoding/hex error) so callers can match on a single sentinel.
func DecodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrMalformedKey
	}
	return b, nil
}
