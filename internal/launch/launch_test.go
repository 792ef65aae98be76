package launch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchBrowserWebSocketURL(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/json/version", r.URL.Path)
		_, _ = w.Write([]byte(`{"webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/browser/abc"}`))
	}))
	defer srv.Close()

	url, err := FetchBrowserWebSocketURL(t.Context(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", url)
}

func TestFetchBrowserWebSocketURLErrorsOnMissingField(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := FetchBrowserWebSocketURL(t.Context(), srv.URL)
	require.Error(t, err)
}

func TestFetchFirstPageWebSocketURLSkipsNonPageTargets(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/json/list", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"id":"1","type":"background_page","webSocketDebuggerUrl":"ws://x/bg"},
			{"id":"2","type":"page","webSocketDebuggerUrl":"ws://x/page2"}
		]`))
	}))
	defer srv.Close()

	url, err := FetchFirstPageWebSocketURL(t.Context(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ws://x/page2", url)
}

func TestFetchFirstPageWebSocketURLErrorsWhenNoPageTarget(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := FetchFirstPageWebSocketURL(t.Context(), srv.URL)
	require.Error(t, err)
}

func TestFetchFirstPageWebSocketURLAddsSchemeWhenMissing(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"1","type":"page","webSocketDebuggerUrl":"ws://x/page1"}]`))
	}))
	defer srv.Close()

	host := srv.URL[len("http://"):]
	url, err := FetchFirstPageWebSocketURL(t.Context(), host)
	require.NoError(t, err)
	assert.Equal(t, "ws://x/page1", url)
}

func TestUpstreamManagerWaitForInitialTimesOutWithoutLog(t *testing.T) {
	t.Parallel()
	mgr := NewUpstreamManager(filepath.Join(t.TempDir(), "nonexistent.log"), silentLogger())
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	mgr.Start(ctx)
	defer mgr.Stop()

	_, err := mgr.WaitForInitial(150 * time.Millisecond)
	require.Error(t, err)
}

func TestUpstreamManagerDiscoversURLFromLogFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "chrome.log")
	require.NoError(t, os.WriteFile(logPath, []byte("DevTools listening on ws://127.0.0.1:9222/devtools/browser/xyz\n"), 0o644))

	mgr := NewUpstreamManager(logPath, silentLogger())
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	mgr.Start(ctx)
	defer mgr.Stop()

	url, err := mgr.WaitForInitial(3 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/xyz", url)
}

func TestUpstreamManagerSubscribeReceivesLatestURL(t *testing.T) {
	t.Parallel()
	mgr := NewUpstreamManager(filepath.Join(t.TempDir(), "nonexistent.log"), silentLogger())
	ch, cancel := mgr.Subscribe()
	defer cancel()

	mgr.setCurrent("ws://x/1")
	select {
	case got := <-ch:
		assert.Equal(t, "ws://x/1", got)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive update")
	}
}
