package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/paul/glienicke/internal/store/memory"
	"github.com/paul/glienicke/internal/testutil"
	"github.com/paul/glienicke/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelay(t *testing.T) (*Relay, string, string) {
	t.Helper()
	store := memory.New()
	r := New(store)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		r.Close()
	})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	return r, wsURL, srv.URL
}

func TestRelay_EventRoundTrip(t *testing.T) {
	_, wsURL, _ := newTestRelay(t)

	client, err := testutil.NewWSClient(wsURL)
	require.NoError(t, err)
	defer client.Close()

	evt, _ := testutil.MustNewTestEvent(1, "hello", nil)
	require.NoError(t, client.SendEvent(evt))

	accepted, msg, err := client.ExpectOK(evt.ID, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, accepted, "expected event to be accepted, got message: %s", msg)
}

func TestRelay_DuplicateEventIsStillAcknowledged(t *testing.T) {
	_, wsURL, _ := newTestRelay(t)

	client, err := testutil.NewWSClient(wsURL)
	require.NoError(t, err)
	defer client.Close()

	evt, _ := testutil.MustNewTestEvent(1, "hello again", nil)
	require.NoError(t, client.SendEvent(evt))
	accepted, _, err := client.ExpectOK(evt.ID, 2*time.Second)
	require.NoError(t, err)
	require.True(t, accepted)

	require.NoError(t, client.SendEvent(evt))
	accepted, msg, err := client.ExpectOK(evt.ID, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Contains(t, msg, "duplicate")
}

func TestRelay_ExpiredEventIsRejected(t *testing.T) {
	_, wsURL, _ := newTestRelay(t)

	client, err := testutil.NewWSClient(wsURL)
	require.NoError(t, err)
	defer client.Close()

	past := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	evt, _ := testutil.MustNewTestEvent(1, "too late", [][]string{{"expiration", past}})
	require.NoError(t, client.SendEvent(evt))

	accepted, msg, err := client.ExpectOK(evt.ID, 2*time.Second)
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.NotEmpty(t, msg)
}

func TestRelay_DeletionRemovesEventFromSubsequentQueries(t *testing.T) {
	_, wsURL, _ := newTestRelay(t)

	client, err := testutil.NewWSClient(wsURL)
	require.NoError(t, err)
	defer client.Close()

	evt, kp := testutil.MustNewTestEvent(1, "delete me", nil)
	require.NoError(t, client.SendEvent(evt))
	_, _, err = client.ExpectOK(evt.ID, 2*time.Second)
	require.NoError(t, err)

	del, err := testutil.NewTestEventWithKey(kp, 5, "", [][]string{{"e", evt.ID}})
	require.NoError(t, err)
	require.NoError(t, client.SendEvent(del))
	accepted, _, err := client.ExpectOK(del.ID, 2*time.Second)
	require.NoError(t, err)
	require.True(t, accepted)

	require.NoError(t, client.SendReq("sub1", &event.Filter{IDs: []string{evt.ID}}))
	events, err := client.CollectEvents("sub1", 2*time.Second)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRelay_DeletionFromDifferentKeyIsRejectedAndEventSurvives(t *testing.T) {
	_, wsURL, _ := newTestRelay(t)

	client, err := testutil.NewWSClient(wsURL)
	require.NoError(t, err)
	defer client.Close()

	evt, _ := testutil.MustNewTestEvent(1, "keep me", nil)
	require.NoError(t, client.SendEvent(evt))
	accepted, _, err := client.ExpectOK(evt.ID, 2*time.Second)
	require.NoError(t, err)
	require.True(t, accepted)

	otherKey, err := testutil.GenerateKeyPair()
	require.NoError(t, err)
	del, err := testutil.NewTestEventWithKey(otherKey, 5, "", [][]string{{"e", evt.ID}})
	require.NoError(t, err)
	require.NoError(t, client.SendEvent(del))
	_, _, err = client.ExpectOK(del.ID, 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, client.SendReq("sub1", &event.Filter{IDs: []string{evt.ID}}))
	events, err := client.CollectEvents("sub1", 2*time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1, "event deleted by a different key must survive")
	assert.Equal(t, evt.ID, events[0].ID)
}

func TestRelay_BroadcastsToMatchingSubscription(t *testing.T) {
	_, wsURL, _ := newTestRelay(t)

	subscriber, err := testutil.NewWSClient(wsURL)
	require.NoError(t, err)
	defer subscriber.Close()

	publisher, err := testutil.NewWSClient(wsURL)
	require.NoError(t, err)
	defer publisher.Close()

	require.NoError(t, subscriber.SendReq("sub1", &event.Filter{Kinds: []int{1}}))
	require.NoError(t, subscriber.ExpectEOSE("sub1", 2*time.Second))

	evt, _ := testutil.MustNewTestEvent(1, "broadcast me", nil)
	require.NoError(t, publisher.SendEvent(evt))
	_, _, err = publisher.ExpectOK(evt.ID, 2*time.Second)
	require.NoError(t, err)

	received, err := subscriber.ExpectEvent("sub1", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, evt.ID, received.ID)
}

func TestRelay_ServeHTTP_NIP11InformationDocument(t *testing.T) {
	_, _, httpURL := newTestRelay(t)

	req, err := http.NewRequest(http.MethodGet, httpURL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/nostr+json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/nostr+json", resp.Header.Get("Content-Type"))

	var doc map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.NotEmpty(t, doc["name"])
}
