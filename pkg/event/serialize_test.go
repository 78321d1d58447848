package event_test

import (
	"encoding/json"
	"testing"

	"github.com/paul/glienicke/internal/testutil"
	"github.com/paul/glienicke/pkg/event"
)

func TestSerialize_CanonicalForm(t *testing.T) {
	e := &event.Event{
		PubKey:    "abc123",
		CreatedAt: 1700000000,
		Kind:      1,
		Tags:      [][]string{{"e", "deadbeef"}},
		Content:   "héllo",
	}

	ser, err := e.Serialize()
	if err != nil {
		t.Fatalf("Serialize() error: %v", err)
	}

	want := `[0,"abc123",1700000000,1,[["e","deadbeef"]],"héllo"]`
	if string(ser) != want {
		t.Errorf("Serialize() = %q, want %q", ser, want)
	}
}

// TestIdDeterminism pins the property from spec.md §8: recomputing the id
// after a JSON round-trip equals the original id.
func TestIdDeterminism(t *testing.T) {
	evt, _ := testutil.MustNewTestEvent(event.KindTextNote, "hello", [][]string{{"e", "abc"}})

	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var roundTripped event.Event
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	id, err := roundTripped.ComputeID()
	if err != nil {
		t.Fatalf("ComputeID: %v", err)
	}
	if id != evt.ID {
		t.Errorf("id drifted after round-trip: got %s, want %s", id, evt.ID)
	}
}

// TestCanonicalSerializationRoundTrip pins that re-serializing a parsed
// event yields the byte-identical preimage.
func TestCanonicalSerializationRoundTrip(t *testing.T) {
	evt, _ := testutil.MustNewTestEvent(event.KindTextNote, "hello world", nil)

	first, err := evt.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	data, _ := json.Marshal(evt)
	var parsed event.Event
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	second, err := parsed.Serialize()
	if err != nil {
		t.Fatalf("Serialize (2nd): %v", err)
	}

	if string(first) != string(second) {
		t.Errorf("serialization not stable across round-trip: %q != %q", first, second)
	}
}
