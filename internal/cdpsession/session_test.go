package cdpsession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReadySession(t *testing.T) *Session {
	t.Helper()
	srv := newFakeCDPServer(t, autoAckRespond)
	s, err := NewSession(testWSURL(t, srv), Options{
		CommandDefaultTimeout: 2 * time.Second,
		FinalizeGrace:         200 * time.Millisecond,
	}, nil, silentLogger())
	require.NoError(t, err)
	require.NoError(t, s.Run(t.Context()))
	t.Cleanup(func() { _, _ = s.Finalize(t.Context()) })
	return s
}

func TestSessionRunStartsCleanlyAndSummaryIsZero(t *testing.T) {
	t.Parallel()
	s := newReadySession(t)

	summary := s.Summary()
	assert.Equal(t, 0, summary.Network.InFlight)
	assert.Equal(t, 0, summary.Storage.Cookies)
	assert.Equal(t, 0, summary.WindowProperties.Paths)
	assert.Equal(t, uint64(0), summary.Interactions.Count)
}

func TestSessionRunTwiceFails(t *testing.T) {
	t.Parallel()
	s := newReadySession(t)
	err := s.Run(t.Context())
	require.Error(t, err)
}

func TestSessionFinalizeIsIdempotent(t *testing.T) {
	t.Parallel()
	s := newReadySession(t)

	first, err := s.Finalize(t.Context())
	require.NoError(t, err)

	second, err := s.Finalize(t.Context())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSessionCurrentURLTracksFrameNavigated(t *testing.T) {
	t.Parallel()
	s := newReadySession(t)

	assert.Equal(t, "", s.getCurrentURL())
	s.handleFrameNavigated([]byte(`{"frame":{"parentId":"","url":"https://example.com/home"}}`))
	assert.Equal(t, "https://example.com/home", s.getCurrentURL())

	// Child-frame navigation must not overwrite the top-level URL.
	s.handleFrameNavigated([]byte(`{"frame":{"parentId":"child","url":"https://example.com/iframe"}}`))
	assert.Equal(t, "https://example.com/home", s.getCurrentURL())
}

func TestSessionRouteFrameDispatchesToOwningMonitor(t *testing.T) {
	t.Parallel()
	s := newReadySession(t)

	s.routeFrame(t.Context(), []byte(`{"method":"DOMStorage.domStorageItemAdded","params":{"storageId":{"securityOrigin":"https://example.com","isLocalStorage":true},"key":"k","newValue":"v"}}`))

	summary := s.Summary()
	assert.Equal(t, 1, summary.Storage.Local)
}
