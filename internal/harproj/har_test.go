package harproj

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vectorly/cdpcapture/internal/cdpsession"
)

func intPtr(i int) *int { return &i }

func TestBuildSkipsNonTerminalTransactions(t *testing.T) {
	t.Parallel()
	events := []cdpsession.NetworkTransactionEvent{
		{RequestID: "1", State: cdpsession.StatePending},
		{RequestID: "2", State: cdpsession.StateHeaders},
		{RequestID: "3", State: cdpsession.StateCompleted, Method: "GET", URL: "https://example.com", Status: intPtr(200)},
	}
	har := Build(events)
	require.Len(t, har.Log.Entries, 1)
	assert.Equal(t, "3", har.Log.Entries[0].RequestID)
	assert.Equal(t, 200, har.Log.Entries[0].Response.Status)
}

func TestBuildIncludesFailedTransactions(t *testing.T) {
	t.Parallel()
	events := []cdpsession.NetworkTransactionEvent{
		{RequestID: "1", State: cdpsession.StateFailed, Method: "GET", URL: "https://example.com/broken",
			Failure: &cdpsession.TransactionFailure{ErrorText: "net::ERR_FAILED", Canceled: true}},
	}
	har := Build(events)
	require.Len(t, har.Log.Entries, 1)
	assert.Equal(t, 0, har.Log.Entries[0].Response.Status)
}

func TestBuildEncodesResponseBodyAsBase64(t *testing.T) {
	t.Parallel()
	body := []byte(`{"ok":true}`)
	events := []cdpsession.NetworkTransactionEvent{
		{RequestID: "1", State: cdpsession.StateCompleted, Method: "GET", URL: "https://example.com/api",
			MimeType: "application/json", ResponseBody: &cdpsession.ResponseBody{Body: body}},
	}
	har := Build(events)
	require.Len(t, har.Log.Entries, 1)
	entry := har.Log.Entries[0]
	assert.Equal(t, "base64", entry.Response.Content.Encoding)
	assert.Equal(t, len(body), entry.Response.Content.Size)
	assert.NotEmpty(t, entry.Response.Content.Text)
}

func TestBuildTimingsUnmeasuredWhenNoTiming(t *testing.T) {
	t.Parallel()
	timings := buildTimings(nil)
	assert.Equal(t, -1.0, timings.DNS)
	assert.Equal(t, -1.0, timings.Connect)
	assert.Equal(t, -1.0, timings.Wait)
}

func TestBuildTimingsComputesPhases(t *testing.T) {
	t.Parallel()
	raw, err := json.Marshal(map[string]float64{
		"dnsStart": 0, "dnsEnd": 5,
		"connectStart": 5, "connectEnd": 10,
		"sendStart": 10, "sendEnd": 12,
		"receiveHeadersEnd": 20,
	})
	require.NoError(t, err)

	timings := buildTimings(raw)
	assert.Equal(t, 5.0, timings.DNS)
	assert.Equal(t, 5.0, timings.Connect)
	assert.Equal(t, 2.0, timings.Send)
	assert.Equal(t, 8.0, timings.Wait)
}

func TestHARRoundTripsThroughJSON(t *testing.T) {
	t.Parallel()
	events := []cdpsession.NetworkTransactionEvent{
		{RequestID: "1", State: cdpsession.StateCompleted, Method: "GET", URL: "https://example.com",
			RequestHeaders: map[string]string{"Accept": "*/*"}, Status: intPtr(200)},
	}
	har := Build(events)

	data, err := json.Marshal(har)
	require.NoError(t, err)

	var roundTripped HAR
	require.NoError(t, json.Unmarshal(data, &roundTripped))
	assert.Equal(t, "1.2", roundTripped.Log.Version)
	require.Len(t, roundTripped.Log.Entries, 1)
	assert.Equal(t, "https://example.com", roundTripped.Log.Entries[0].Request.URL)
}
