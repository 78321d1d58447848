package event_test

import (
	"testing"

	"github.com/paul/glienicke/internal/testutil"
	"github.com/paul/glienicke/pkg/event"
)

func TestEvent_Validate(t *testing.T) {
	validEvent, _ := testutil.MustNewTestEvent(1, "test content", nil)

	tests := []struct {
		name      string
		event     *event.Event
		expectErr bool
	}{
		{
			name:      "valid event",
			event:     validEvent,
			expectErr: false,
		},
		{
			name: "missing pubkey",
			event: &event.Event{
				Kind:    validEvent.Kind,
				Tags:    validEvent.Tags,
				Content: validEvent.Content,
				Sig:     validEvent.Sig,
			},
			expectErr: true,
		},
		{
			name: "missing signature",
			event: &event.Event{
				ID:        validEvent.ID,
				PubKey:    validEvent.PubKey,
				CreatedAt: validEvent.CreatedAt,
				Kind:      validEvent.Kind,
				Tags:      validEvent.Tags,
				Content:   validEvent.Content,
				Sig:       "",
			},
			expectErr: true,
		},
		{
			name: "invalid kind",
			event: &event.Event{
				ID:        validEvent.ID,
				PubKey:    validEvent.PubKey,
				CreatedAt: validEvent.CreatedAt,
				Kind:      -1,
				Tags:      validEvent.Tags,
				Content:   validEvent.Content,
				Sig:       validEvent.Sig,
			},
			expectErr: true,
		},
		{
			name: "declared ID is ignored and recomputed, still valid",
			event: &event.Event{
				ID:        "0000000000000000000000000000000000000000000000000000000000000",
				PubKey:    validEvent.PubKey,
				CreatedAt: validEvent.CreatedAt,
				Kind:      validEvent.Kind,
				Tags:      validEvent.Tags,
				Content:   validEvent.Content,
				Sig:       validEvent.Sig,
			},
			expectErr: false,
		},
		{
			name: "flipped signature byte fails",
			event: &event.Event{
				ID:        validEvent.ID,
				PubKey:    validEvent.PubKey,
				CreatedAt: validEvent.CreatedAt,
				Kind:      validEvent.Kind,
				Tags:      validEvent.Tags,
				Content:   validEvent.Content,
				Sig:       flipHexByte(validEvent.Sig),
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.expectErr {
				t.Errorf("Event.Validate() error = %v, expectErr %v", err, tt.expectErr)
			}
		})
	}
}

func TestEvent_Validate_RecomputesIDEvenOnSuccess(t *testing.T) {
	validEvent, _ := testutil.MustNewTestEvent(1, "test content", nil)
	declared := validEvent.ID
	validEvent.ID = "deadbeef"

	if err := validEvent.Validate(); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}
	if validEvent.ID != declared {
		t.Errorf("expected recomputed id %q, got %q", declared, validEvent.ID)
	}
}

func TestEvent_Matches(t *testing.T) {
	evt1, kp1 := testutil.MustNewTestEvent(1, "content 1", nil)
	evt2, _ := testutil.NewTestEventWithKey(kp1, 2, "content 2", nil)
	evt3, kp2 := testutil.MustNewTestEvent(1, "content 3", [][]string{{"e", evt1.ID}, {"t", "test"}})
	evt4, _ := testutil.NewTestEventWithKey(kp2, 3, "content 4", [][]string{{"p", kp1.PubKeyHex}, {"t", "another"}})

	tests := []struct {
		name     string
		event    *event.Event
		filter   *event.Filter
		expected bool
	}{
		{"match by ID", evt1, &event.Filter{IDs: []string{evt1.ID}}, true},
		{"no match by ID", evt1, &event.Filter{IDs: []string{evt2.ID}}, false},
		{"match by ID prefix", evt1, &event.Filter{IDs: []string{evt1.ID[:8]}}, true},
		{"match by author", evt1, &event.Filter{Authors: []string{kp1.PubKeyHex}}, true},
		{"no match by author", evt1, &event.Filter{Authors: []string{kp2.PubKeyHex}}, false},
		{"match by author prefix", evt1, &event.Filter{Authors: []string{kp1.PubKeyHex[:8]}}, true},
		{"match by kind", evt1, &event.Filter{Kinds: []int{1}}, true},
		{"no match by kind", evt1, &event.Filter{Kinds: []int{2}}, false},
		{"match by #e tag", evt3, &event.Filter{Tags: map[string][]string{"e": {evt1.ID}}}, true},
		{"no match by #e tag prefix only", evt3, &event.Filter{Tags: map[string][]string{"e": {evt1.ID[:8]}}}, false},
		{"no match by #e tag", evt3, &event.Filter{Tags: map[string][]string{"e": {evt2.ID}}}, false},
		{"match by #p tag", evt4, &event.Filter{Tags: map[string][]string{"p": {kp1.PubKeyHex}}}, true},
		{"no match by #p tag", evt4, &event.Filter{Tags: map[string][]string{"p": {kp2.PubKeyHex}}}, false},
		{"match by multiple filters (AND logic)", evt3, &event.Filter{Kinds: []int{1}, Tags: map[string][]string{"e": {evt1.ID}}}, true},
		{"no match by multiple filters (AND logic)", evt3, &event.Filter{Kinds: []int{2}, Tags: map[string][]string{"e": {evt1.ID}}}, false},
		{"match by since (exclusive)", evt1, &event.Filter{Since: int64Ptr(evt1.CreatedAt - 1)}, true},
		{"no match by since: equal boundary excluded", evt1, &event.Filter{Since: int64Ptr(evt1.CreatedAt)}, false},
		{"no match by since", evt1, &event.Filter{Since: int64Ptr(evt1.CreatedAt + 1)}, false},
		{"match by until (exclusive)", evt1, &event.Filter{Until: int64Ptr(evt1.CreatedAt + 1)}, true},
		{"no match by until: equal boundary excluded", evt1, &event.Filter{Until: int64Ptr(evt1.CreatedAt)}, false},
		{"no match by until", evt1, &event.Filter{Until: int64Ptr(evt1.CreatedAt - 1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actual := tt.event.Matches(tt.filter)
			if actual != tt.expected {
				t.Errorf("Event.Matches() for %s got %v, expected %v", tt.name, actual, tt.expected)
			}
		})
	}
}

// TestFilterMonotonicity pins the property from spec.md §8: widening a
// filter (emptying a constraint, dropping since/until) never shrinks the
// match set.
func TestFilterMonotonicity(t *testing.T) {
	evt, kp := testutil.MustNewTestEvent(1, "hello", [][]string{{"e", "abc123"}})

	narrow := &event.Filter{
		Authors: []string{kp.PubKeyHex},
		Kinds:   []int{1},
		Since:   int64Ptr(evt.CreatedAt - 1),
		Until:   int64Ptr(evt.CreatedAt + 1),
	}
	if !evt.Matches(narrow) {
		t.Fatal("expected narrow filter to match")
	}

	wide := &event.Filter{}
	if !evt.Matches(wide) {
		t.Fatal("widening should never reduce the match set")
	}
}

func flipHexByte(hexStr string) string {
	b := []byte(hexStr)
	if len(b) == 0 {
		return hexStr
	}
	if b[0] == 'f' {
		b[0] = '0'
	} else {
		b[0] = 'f'
	}
	return string(b)
}

func int64Ptr(i int64) *int64 {
	return &i
}
