package cdpsession

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// monitor is the small closed set of capture monitors the Coordinator
// dispatches inbound frames to: a handles/handle pair beats open-ended
// registration for four known implementations.
type monitor interface {
	Handles(method string) bool
	Handle(ctx context.Context, method string, params json.RawMessage)
}

// Summary is the cheap, non-traversing snapshot returned by Session.Summary.
type Summary struct {
	Network          NetworkSummary
	Storage          StorageSummary
	WindowProperties WindowPropertySummary
	Interactions     InteractionSummary
}

// Session is the top-level entity: it owns the transport, the dispatcher,
// and the four monitors, and routes every inbound frame.
type Session struct {
	logger  *slog.Logger
	opts    Options
	onEvent EventCallback

	t *transport
	d *dispatcher

	network  *NetworkMonitor
	storage  *StorageMonitor
	winprops *WindowPropertyMonitor
	interact *InteractionMonitor
	monitors []monitor

	urlMu      sync.Mutex
	currentURL string

	readGroup *errgroup.Group
	readCtx   context.Context
	cancel    context.CancelFunc

	finalizeOnce sync.Once
	finalizeErr  error

	sg singleflight.Group

	started atomic.Bool
}

// NewSession constructs a Session against an already-resolved page
// WebSocket URL. Callers typically obtain that URL via internal/launch.
func NewSession(pageWSURL string, opts Options, onEvent EventCallback, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if onEvent == nil {
		onEvent = func(EventCategory, any) error { return nil }
	}
	opts = opts.WithDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	t, err := dialTransport(ctx, pageWSURL, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Session{
		logger:  logger,
		opts:    opts,
		onEvent: onEvent,
		t:       t,
		cancel:  cancel,
		readCtx: ctx,
	}
	s.d = newDispatcher(t, logger)

	s.network = newNetworkMonitor(s.d, logger, onEvent, opts.CaptureResourceTypes, opts.CommandDefaultTimeout)
	s.storage = newStorageMonitor(s.d, logger, onEvent, opts.CookiePollInterval, s.getCurrentURL)
	s.winprops = newWindowPropertyMonitor(s.d, logger, onEvent, opts.WindowPropertyInterval, opts.WindowPropertyCallTimeout, opts.WindowPropertyMaxDepth, s.getCurrentURL)
	s.interact = newInteractionMonitor(s.d, logger, onEvent, opts.LocatorPriorities)
	s.monitors = []monitor{s.network, s.storage, s.winprops, s.interact}

	return s, nil
}

func (s *Session) getCurrentURL() string {
	s.urlMu.Lock()
	defer s.urlMu.Unlock()
	return s.currentURL
}

func (s *Session) setCurrentURL(u string) {
	if u == "" {
		return
	}
	s.urlMu.Lock()
	s.currentURL = u
	s.urlMu.Unlock()
}

// Run performs the startup sequence: enable the shared domains,
// install the interaction script, start each monitor, and begin routing
// inbound frames. It returns once setup completes; routing continues on a
// background goroutine until Finalize is called or the transport closes.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("cdpsession: session already running")
	}

	for _, domain := range []string{"Page", "Runtime", "Network", "DOMStorage", "DOM", "Target"} {
		if err := s.d.enableDomain(ctx, domain, nil, s.opts.CommandDefaultTimeout); err != nil {
			return fmt.Errorf("cdpsession: enable %s: %w", domain, err)
		}
	}

	if _, err := s.d.sendAndWait(ctx, "Target.setDiscoverTargets", map[string]bool{"discover": true}, s.opts.CommandDefaultTimeout); err != nil {
		s.logger.Warn("target discovery setup failed", "err", err)
	}

	if err := s.interact.start(ctx); err != nil {
		return fmt.Errorf("cdpsession: start interaction monitor: %w", err)
	}
	if err := s.network.start(ctx); err != nil {
		return fmt.Errorf("cdpsession: start network monitor: %w", err)
	}
	if err := s.storage.start(ctx); err != nil {
		return fmt.Errorf("cdpsession: start storage monitor: %w", err)
	}
	if err := s.winprops.start(ctx); err != nil {
		return fmt.Errorf("cdpsession: start window property monitor: %w", err)
	}

	g, gctx := errgroup.WithContext(s.readCtx)
	s.readGroup = g
	g.Go(func() error {
		s.readLoop(gctx)
		return nil
	})

	s.logger.Info("cdpsession: session ready")
	return nil
}

// readLoop is the single inbound routing point.
func (s *Session) readLoop(ctx context.Context) {
	for {
		data, err := s.t.read(ctx)
		if err != nil {
			s.logger.Debug("cdpsession: read loop exiting", "err", err)
			return
		}
		s.routeFrame(ctx, data)
	}
}

func (s *Session) routeFrame(ctx context.Context, data []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Debug("cdpsession: dropping unparseable frame", "err", err)
		return
	}

	if env.isReply() {
		s.d.resolve(env.ID, env.Result, env.Error, "")
		return
	}

	switch env.Method {
	case "Target.attachedToTarget":
		s.handleAttachedToTarget(env.Params)
		return
	case "Target.detachedFromTarget":
		s.d.clearSessionID()
		return
	case "Page.frameNavigated":
		s.handleFrameNavigated(env.Params)
	}

	for _, m := range s.monitors {
		if m.Handles(env.Method) {
			m.Handle(ctx, env.Method, env.Params)
			return
		}
	}
	s.logger.Debug("cdpsession: no monitor claimed method", "method", env.Method)
}

type attachedToTargetParams struct {
	SessionID  string `json:"sessionId"`
	TargetInfo struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"targetInfo"`
}

func (s *Session) handleAttachedToTarget(raw json.RawMessage) {
	var p attachedToTargetParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	if p.TargetInfo.Type != "page" {
		return
	}
	s.d.setSessionID(p.SessionID)
	s.setCurrentURL(p.TargetInfo.URL)
}

type frameNavigatedParams struct {
	Frame struct {
		ParentID string `json:"parentId"`
		URL      string `json:"url"`
	} `json:"frame"`
}

func (s *Session) handleFrameNavigated(raw json.RawMessage) {
	var p frameNavigatedParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	if p.Frame.ParentID != "" {
		return
	}
	s.setCurrentURL(p.Frame.URL)
}

// Summary returns a cheap, non-traversing snapshot of monitor state.
// Concurrent calls are deduplicated with singleflight since it is
// typically polled by a dashboard at a steady cadence.
func (s *Session) Summary() Summary {
	v, _, _ := s.sg.Do("summary", func() (any, error) {
		return Summary{
			Network:          s.network.summary(),
			Storage:          s.storage.summary(),
			WindowProperties: s.winprops.summary(),
			Interactions:     s.interact.summary(),
		}, nil
	})
	return v.(Summary)
}

// Finalize cancels the inbound reader, flushes every monitor's in-flight
// aggregates, and closes the transport. Idempotent: a second call returns
// the same summary without repeating the work.
func (s *Session) Finalize(ctx context.Context) (Summary, error) {
	s.finalizeOnce.Do(func() {
		s.cancel()

		done := make(chan struct{})
		go func() {
			if s.readGroup != nil {
				_ = s.readGroup.Wait()
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.opts.FinalizeGrace):
			s.logger.Warn("cdpsession: finalize grace period elapsed, proceeding")
		case <-ctx.Done():
		}

		s.network.finalize()
		if s.winprops.isReady() {
			s.winprops.forceCollect(context.Background())
		}
		s.winprops.stop()
		s.storage.stop()
		s.d.closeAll()
		s.t.close()

		s.finalizeErr = nil
	})
	return s.Summary(), s.finalizeErr
}
