// Package event implements the Nostr event model: canonical serialization,
// id derivation, signature verification, and filter matching (NIP-01, NIP-09).
package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/paul/glienicke/pkg/keys"
)

// Event is the immutable unit of content exchanged with a relay (NIP-01).
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Well-known kinds the relay core treats specially.
const (
	KindSetMetadata = 0
	KindTextNote    = 1
	KindContactList = 3
	KindDelete      = 5
)

// IsReplaceable reports whether the relay keeps at most one stored event
// per (pubkey, kind) for this kind: kinds 0 and 3, plus the NIP-16
// parameterized-replaceable range 10000-19999.
func (e *Event) IsReplaceable() bool {
	return e.Kind == KindSetMetadata || e.Kind == KindContactList ||
		(e.Kind >= 10000 && e.Kind < 20000)
}

// IsDeletion reports whether this is a kind-5 NIP-09 deletion request.
func (e *Event) IsDeletion() bool {
	return e.Kind == KindDelete
}

// ParsedTags normalizes the raw tag arrays into the Tag variant described
// in spec.md §9: named e/p tags keep a parsed Kind, everything else
// round-trips as OtherTag without losing data.
func (e *Event) ParsedTags() []Tag {
	tags := make([]Tag, len(e.Tags))
	for i, raw := range e.Tags {
		tags[i] = ParseTag(raw)
	}
	return tags
}

// GetTagValues returns the second element of every tag named tagName.
func (e *Event) GetTagValues(tagName string) []string {
	var values []string
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == tagName {
			values = append(values, tag[1])
		}
	}
	return values
}

// DeletedEventIDs returns the "e"-tagged event ids a kind-5 event targets.
func (e *Event) DeletedEventIDs() []string {
	if !e.IsDeletion() {
		return nil
	}
	return e.GetTagValues("e")
}

// Serialize produces the exact canonical byte sequence used as the id's
// preimage: [0,<pubkey>,<created_at>,<kind>,<tags>,<content>], with no
// inserted whitespace and non-ASCII left as raw UTF-8 (spec.md §4.1).
func (e *Event) Serialize() ([]byte, error) {
	data := []interface{}{0, e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		return nil, fmt.Errorf("serialize event: %w", err)
	}

	// json.Encoder.Encode always appends a trailing newline; the
	// canonical form has none.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeID derives the event id: lowercase hex of sha256(Serialize()).
func (e *Event) ComputeID() (string, error) {
	ser, err := e.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(ser)
	return hex.EncodeToString(sum[:]), nil
}

// Validate implements the C3 ingress pipeline of spec.md §4.3: extract and
// recompute the id, then Schnorr-verify the signature over the id bytes.
// The client-supplied id is never trusted - a mismatch is silently
// corrected by recomputation, it never fails validation on its own.
func (e *Event) Validate() *ValidationError {
	if e.PubKey == "" || e.Sig == "" {
		return newValidationError(ErrMissingField, "missing pubkey or sig")
	}
	if e.Kind < 0 {
		return newValidationError(ErrBadLength, "kind must be non-negative")
	}
	if len(e.PubKey) != 64 {
		return newValidationError(ErrBadLength, "pubkey must be 64 hex chars")
	}
	if len(e.Sig) != 128 {
		return newValidationError(ErrBadLength, "sig must be 128 hex chars")
	}
	pubKeyBytes, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return newValidationError(ErrBadHex, "pubkey is not valid hex")
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return newValidationError(ErrBadHex, "sig is not valid hex")
	}
	for _, tag := range e.Tags {
		if len(tag) == 0 {
			return newValidationError(ErrUnknownTagShape, "tag entry must have at least a name")
		}
	}

	id, err := e.ComputeID()
	if err != nil {
		return newValidationError(ErrBadHex, err.Error())
	}
	e.ID = id

	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return newValidationError(ErrBadHex, "invalid id hex")
	}

	ok, err := keys.Verify(pubKeyBytes, idBytes, sigBytes)
	if err != nil || !ok {
		return newValidationError(ErrInvalidSignature, "failed to verify")
	}

	return nil
}
