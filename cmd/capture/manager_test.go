package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFakeChromeTargetServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var cmd struct {
				ID uint64 `json:"id"`
			}
			if json.Unmarshal(data, &cmd) != nil || cmd.ID == 0 {
				continue
			}
			reply, _ := json.Marshal(map[string]any{"id": cmd.ID, "result": map[string]any{}})
			if c.Write(ctx, websocket.MessageText, reply) != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	return u.String()
}

func newFakeChromeHTTPEndpoint(t *testing.T, pageWSURL string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json/list":
			fmt.Fprintf(w, `[{"id":"1","type":"page","webSocketDebuggerUrl":%q}]`, pageWSURL)
		case "/json/version":
			fmt.Fprintf(w, `{"webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/browser/fake"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func testConfig(t *testing.T) *Config {
	return &Config{
		Port:                     8088,
		ChromeHTTPEndpoint:       "http://127.0.0.1:9222",
		OutputDir:                t.TempDir(),
		CaptureResourceTypes:     []string{"xhr", "fetch", "document"},
		WindowPropertyIntervalMS: 60000,
		WindowPropertyMaxDepth:   10,
		CookiePollMS:             60000,
		CommandDefaultTimeoutMS:  2000,
		FinalizeGraceMS:          200,
		BodyCompression:          "default",
	}
}

func TestManagerStartSummaryFinalizeLifecycle(t *testing.T) {
	t.Parallel()
	wsURL := newFakeChromeTargetServer(t)
	mgr := NewManager(testConfig(t), silentLogger())

	captureID, got, err := mgr.Start(t.Context(), wsURL)
	require.NoError(t, err)
	assert.Equal(t, wsURL, got)
	assert.NotEqual(t, uuid.UUID{}, captureID)

	summary, err := mgr.Summary()
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Network.InFlight)

	_, _, err = mgr.Start(t.Context(), wsURL)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	_, err = mgr.Finalize(t.Context())
	require.NoError(t, err)

	_, err = mgr.Summary()
	require.ErrorIs(t, err, ErrNotRunning)

	_, err = mgr.Finalize(t.Context())
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestManagerStartCanRestartAfterFinalize(t *testing.T) {
	t.Parallel()
	wsURL := newFakeChromeTargetServer(t)
	mgr := NewManager(testConfig(t), silentLogger())

	_, _, err := mgr.Start(t.Context(), wsURL)
	require.NoError(t, err)
	_, err = mgr.Finalize(t.Context())
	require.NoError(t, err)

	_, _, err = mgr.Start(t.Context(), wsURL)
	require.NoError(t, err)
}

func TestManagerStartWaitsForChromeLogBeforeResolvingURL(t *testing.T) {
	t.Parallel()
	pageWSURL := newFakeChromeTargetServer(t)
	httpEndpoint := newFakeChromeHTTPEndpoint(t, pageWSURL)

	logPath := filepath.Join(t.TempDir(), "chrome.log")
	require.NoError(t, os.WriteFile(logPath, []byte("DevTools listening on ws://127.0.0.1:9222/devtools/browser/xyz\n"), 0o644))

	cfg := testConfig(t)
	cfg.ChromeHTTPEndpoint = httpEndpoint
	cfg.ChromeLogFile = logPath
	cfg.ChromeReadyTimeoutMS = 3000

	mgr := NewManager(cfg, silentLogger())
	defer mgr.Close()

	_, got, err := mgr.Start(t.Context(), "")
	require.NoError(t, err)
	assert.Equal(t, pageWSURL, got)
}

func TestManagerStartFailsWhenChromeLogNeverAppears(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.ChromeHTTPEndpoint = newFakeChromeHTTPEndpoint(t, newFakeChromeTargetServer(t))
	cfg.ChromeLogFile = filepath.Join(t.TempDir(), "nonexistent.log")
	cfg.ChromeReadyTimeoutMS = 150

	mgr := NewManager(cfg, silentLogger())
	defer mgr.Close()

	_, _, err := mgr.Start(t.Context(), "")
	require.Error(t, err)
}
