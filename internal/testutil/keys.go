package testutil

import (
	"github.com/paul/glienicke/pkg/event"
	"github.com/paul/glienicke/pkg/keys"
)

// KeyPair represents a Nostr keypair for testing, backed by pkg/keys.
type KeyPair struct {
	Private   *keys.KeyPair
	PubKeyHex string
}

// GenerateKeyPair generates a new keypair for testing.
func GenerateKeyPair() (*KeyPair, error) {
	kp, err := keys.Generate()
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: kp, PubKeyHex: kp.PubHex}, nil
}

// SignEvent sets evt.PubKey, recomputes its id, and signs it with the keypair.
func (kp *KeyPair) SignEvent(evt *event.Event) error {
	evt.PubKey = kp.PubKeyHex

	id, err := evt.ComputeID()
	if err != nil {
		return err
	}
	evt.ID = id

	idBytes, err := keys.DecodeHex(id)
	if err != nil {
		return err
	}

	sig, err := keys.Sign(kp.Private.Private.Serialize(), idBytes)
	if err != nil {
		return err
	}

	evt.Sig = keys.EncodeHex(sig)
	return nil
}

// NewTestEvent creates a signed test event with a freshly generated keypair.
func NewTestEvent(kind int, content string, tags [][]string) (*event.Event, *KeyPair, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}

	evt := &event.Event{
		Kind:      kind,
		Content:   content,
		Tags:      tags,
		CreatedAt: 1234567890,
	}

	if err := kp.SignEvent(evt); err != nil {
		return nil, nil, err
	}

	return evt, kp, nil
}

// NewTestEventWithKey creates a signed test event with an existing keypair.
func NewTestEventWithKey(kp *KeyPair, kind int, content string, tags [][]string) (*event.Event, error) {
	evt := &event.Event{
		Kind:      kind,
		Content:   content,
		Tags:      tags,
		CreatedAt: 1234567890,
	}

	if err := kp.SignEvent(evt); err != nil {
		return nil, err
	}

	return evt, nil
}

// MustGenerateKeyPair generates a keypair or panics (for test convenience).
func MustGenerateKeyPair() *KeyPair {
	kp, err := GenerateKeyPair()
	if err != nil {
		panic(err)
	}
	return kp
}

// MustNewTestEvent creates a test event or panics (for test convenience).
func MustNewTestEvent(kind int, content string, tags [][]string) (*event.Event, *KeyPair) {
	evt, kp, err := NewTestEvent(kind, content, tags)
	if err != nil {
		panic(err)
	}
	return evt, kp
}
