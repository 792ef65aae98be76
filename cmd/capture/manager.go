package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vectorly/cdpcapture/internal/cdpsession"
	"github.com/vectorly/cdpcapture/internal/eventlog"
	"github.com/vectorly/cdpcapture/internal/launch"
)

// ErrAlreadyRunning is returned by Manager.Start when a capture session is
// already active.
var ErrAlreadyRunning = errors.New("capture: a session is already running")

// ErrNotRunning is returned when a caller asks for the summary of, or tries
// to finalize, a session while none is running (never started, or already
// finalized).
var ErrNotRunning = errors.New("capture: no session is running")

// Manager owns at most one cdpsession.Session at a time and the eventlog
// writer it feeds, bridging the library's single-session API to the
// start/summary/finalize lifecycle this demo front end exposes over HTTP.
type Manager struct {
	cfg    *Config
	logger *slog.Logger

	mu      sync.Mutex
	session *Session

	// upstream is non-nil only when cfg.ChromeLogFile is set; it tails the
	// Chromium log for the browser-level devtools URL so Start can wait for
	// a confirmed-ready browser before probing ChromeHTTPEndpoint.
	upstream      *launch.UpstreamManager
	stopUpstream  context.CancelFunc
	unsubUpstream func()
}

// Session bundles a running capture with the writer persisting its events.
type Session struct {
	CaptureID uuid.UUID
	WSURL     string
	startedAt time.Time
	core      *cdpsession.Session
	writer    *eventlog.Writer
}

func NewManager(cfg *Config, logger *slog.Logger) *Manager {
	m := &Manager{cfg: cfg, logger: logger}
	if cfg.ChromeLogFile != "" {
		m.upstream = launch.NewUpstreamManager(cfg.ChromeLogFile, logger)
		upstreamCtx, cancel := context.WithCancel(context.Background())
		m.stopUpstream = cancel
		m.upstream.Start(upstreamCtx)

		ch, unsub := m.upstream.Subscribe()
		m.unsubUpstream = unsub
		go func() {
			for url := range ch {
				logger.Info("capture: chrome devtools upstream changed", "url", url)
			}
		}()
	}
	return m
}

// Close stops the background Chromium log tailer, if one was started. It
// does not touch a running session; callers finalize that separately.
func (m *Manager) Close() {
	if m.stopUpstream != nil {
		m.unsubUpstream()
		m.stopUpstream()
		m.upstream.Stop()
	}
}

// Start resolves a page WebSocket URL (using explicitWSURL if given,
// otherwise querying the configured Chrome HTTP endpoint), opens a new
// eventlog file under cfg.OutputDir, and runs a new Session against it.
func (m *Manager) Start(ctx context.Context, explicitWSURL string) (uuid.UUID, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		return uuid.UUID{}, "", ErrAlreadyRunning
	}

	wsURL := explicitWSURL
	if wsURL == "" {
		if m.upstream != nil {
			timeout := time.Duration(m.cfg.ChromeReadyTimeoutMS) * time.Millisecond
			if _, err := m.upstream.WaitForInitial(timeout); err != nil {
				return uuid.UUID{}, "", fmt.Errorf("wait for chrome devtools log: %w", err)
			}
		}
		resolved, err := launch.FetchFirstPageWebSocketURL(ctx, m.cfg.ChromeHTTPEndpoint)
		if err != nil {
			return uuid.UUID{}, "", fmt.Errorf("resolve page websocket url: %w", err)
		}
		wsURL = resolved
	}

	captureID := uuid.New()
	outPath := fmt.Sprintf("%s/capture-%s.jsonl", m.cfg.OutputDir, captureID)
	writer, err := eventlog.NewWriter(outPath, eventlog.CompressionLevel(m.cfg.BodyCompression))
	if err != nil {
		return uuid.UUID{}, "", fmt.Errorf("open event log: %w", err)
	}

	opts := cdpsession.Options{
		CaptureResourceTypes:      m.cfg.CaptureResourceTypes,
		WindowPropertyInterval:    time.Duration(m.cfg.WindowPropertyIntervalMS) * time.Millisecond,
		WindowPropertyMaxDepth:    m.cfg.WindowPropertyMaxDepth,
		CookiePollInterval:        time.Duration(m.cfg.CookiePollMS) * time.Millisecond,
		CommandDefaultTimeout:     time.Duration(m.cfg.CommandDefaultTimeoutMS) * time.Millisecond,
		WindowPropertyCallTimeout: 500 * time.Millisecond,
		FinalizeGrace:             time.Duration(m.cfg.FinalizeGraceMS) * time.Millisecond,
		LocatorPriorities:         cdpsession.DefaultLocatorPriorities,
	}

	core, err := cdpsession.NewSession(wsURL, opts, writer.OnEvent, m.logger)
	if err != nil {
		writer.Close()
		return uuid.UUID{}, "", fmt.Errorf("construct session: %w", err)
	}
	if err := core.Run(ctx); err != nil {
		writer.Close()
		return uuid.UUID{}, "", fmt.Errorf("run session: %w", err)
	}

	m.session = &Session{CaptureID: captureID, WSURL: wsURL, startedAt: time.Now(), core: core, writer: writer}
	m.logger.Info("capture: session started", "capture_id", captureID, "ws_url", wsURL, "output", outPath)
	return captureID, wsURL, nil
}

// Summary returns the running session's current aggregates.
func (m *Manager) Summary() (cdpsession.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return cdpsession.Summary{}, ErrNotRunning
	}
	return m.session.core.Summary(), nil
}

// Finalize flushes and stops the running session, closes its event log,
// and clears the manager so a new Start call can begin a fresh session.
func (m *Manager) Finalize(ctx context.Context) (cdpsession.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return cdpsession.Summary{}, ErrNotRunning
	}
	summary, err := m.session.core.Finalize(ctx)
	if closeErr := m.session.writer.Close(); closeErr != nil {
		m.logger.Warn("capture: failed to close event log", "err", closeErr)
	}
	m.logger.Info("capture: session finalized", "ws_url", m.session.WSURL)
	m.session = nil
	return summary, err
}
