package cdpsession

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
)

// nativeClassNamePrefixes classifies an object as a built-in DOM/Web API
// surface by its CDP className.
var nativeClassNamePrefixes = []string{
	"HTML", "SVG", "RTC", "IDB", "WebGL", "Media", "Audio", "Video",
	"Performance", "Navigator", "Screen", "Location", "History", "Storage",
	"Window", "Document", "Element", "Node", "Event", "Promise", "Map", "Set",
	"Array", "String", "Number", "Boolean", "Date", "RegExp", "Error",
	"Function", "URL", "Headers", "Request", "Response", "Worker",
	"ServiceWorker", "Cache", "IndexedDB",
}

// nativeGlobalNames classifies a top-level property as native by name,
// regardless of its className.
var nativeGlobalNames = map[string]struct{}{
	"window": {}, "document": {}, "navigator": {}, "location": {}, "history": {},
	"screen": {}, "console": {}, "localStorage": {}, "sessionStorage": {},
	"indexedDB": {}, "caches": {}, "performance": {}, "fetch": {},
	"XMLHttpRequest": {}, "WebSocket": {}, "Blob": {}, "File": {}, "FormData": {},
	"URL": {}, "URLSearchParams": {}, "Headers": {}, "Request": {},
	"Response": {}, "AbortController": {}, "Event": {}, "CustomEvent": {},
	"Promise": {}, "Map": {}, "Set": {}, "WeakMap": {}, "WeakSet": {},
	"Proxy": {}, "Reflect": {}, "Symbol": {}, "Intl": {}, "JSON": {},
	"Math": {}, "Date": {}, "RegExp": {}, "Error": {}, "Array": {},
	"String": {}, "Number": {}, "Boolean": {}, "Object": {}, "Function": {},
	"ArrayBuffer": {}, "DataView": {}, "Int8Array": {}, "Uint8Array": {},
	"Uint8ClampedArray": {}, "Int16Array": {}, "Uint16Array": {},
	"Int32Array": {}, "Uint32Array": {}, "Float32Array": {}, "Float64Array": {},
}

func isNativeClassName(className string) bool {
	for _, p := range nativeClassNamePrefixes {
		if strings.HasPrefix(className, p) {
			return true
		}
	}
	return false
}

func isNativeGlobalName(name string) bool {
	_, ok := nativeGlobalNames[name]
	return ok
}

// isApplicationObject mirrors _is_application_object: survived the
// blacklists and className is either empty or the plain "Object".
func isApplicationObject(className string) bool {
	return className == "" || className == "Object"
}

// WindowPropertyMonitor periodically walks window's own-property graph,
// skipping native DOM/Web-API surface, and maintains a flat value history
// with tombstones for properties that disappear.
type WindowPropertyMonitor struct {
	d      *dispatcher
	logger *slog.Logger
	emit   EventCallback

	interval    time.Duration
	callTimeout time.Duration
	maxDepth    int
	currentURL  func() string

	mu    sync.Mutex
	ready bool

	abortFlag      atomic.Bool
	collecting     atomic.Bool
	pendingNav     atomic.Bool
	lastCollection time.Time

	histMu   sync.Mutex
	history  map[string][]TimelineEntry
	prevKeys map[string]struct{}

	stopCh chan struct{}
	doneCh chan struct{}
}

func newWindowPropertyMonitor(d *dispatcher, logger *slog.Logger, emit EventCallback, interval, callTimeout time.Duration, maxDepth int, currentURL func() string) *WindowPropertyMonitor {
	return &WindowPropertyMonitor{
		d:           d,
		logger:      logger,
		emit:        emit,
		interval:    interval,
		callTimeout: callTimeout,
		maxDepth:    maxDepth,
		currentURL:  currentURL,
		history:     make(map[string][]TimelineEntry),
		prevKeys:    make(map[string]struct{}),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

func (m *WindowPropertyMonitor) start(ctx context.Context) error {
	if err := m.d.enableDomain(ctx, "Runtime", nil, 10*time.Second); err != nil {
		return err
	}
	go m.tickLoop(ctx)
	return nil
}

func (m *WindowPropertyMonitor) tickLoop(ctx context.Context) {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.checkAndCollect(ctx)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *WindowPropertyMonitor) stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	<-m.doneCh
}

// onLoadEvent arms readiness and triggers a collection, per the readiness
// gate.
func (m *WindowPropertyMonitor) onLoadEvent(ctx context.Context) {
	m.mu.Lock()
	m.ready = true
	m.mu.Unlock()
	m.checkAndCollect(ctx)
}

// onExecutionContextsCleared resets readiness and, if a collection is in
// flight, sets the abort flag so it returns within its next suspension
// point.
func (m *WindowPropertyMonitor) onExecutionContextsCleared() {
	m.mu.Lock()
	m.ready = false
	m.mu.Unlock()
	if m.collecting.Load() {
		m.abortFlag.Store(true)
	}
}

// onFrameNavigated re-arms readiness pending the next load event, and if a
// collection is in flight, marks a pending navigation so a fresh collection
// starts as soon as the current one ends.
func (m *WindowPropertyMonitor) onFrameNavigated() {
	if m.collecting.Load() {
		m.pendingNav.Store(true)
		m.abortFlag.Store(true)
	}
}

func (m *WindowPropertyMonitor) isReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// checkAndCollect starts a collection if readiness permits and none is
// already running.
func (m *WindowPropertyMonitor) checkAndCollect(ctx context.Context) {
	if !m.isReady() {
		return
	}
	if !m.collecting.CompareAndSwap(false, true) {
		return
	}
	go m.runCollection(ctx)
}

// forceCollect runs one collection synchronously on the caller's goroutine,
// outside the normal cadence; Session.Finalize uses it for a last snapshot.
func (m *WindowPropertyMonitor) forceCollect(ctx context.Context) {
	if !m.collecting.CompareAndSwap(false, true) {
		return
	}
	m.runCollection(ctx)
}

func (m *WindowPropertyMonitor) runCollection(ctx context.Context) {
	defer func() {
		m.collecting.Store(false)
		m.abortFlag.Store(false)
		m.lastCollection = time.Now()
		if m.pendingNav.CompareAndSwap(true, false) {
			go func() {
				time.Sleep(250 * time.Millisecond)
				m.checkAndCollect(ctx)
			}()
		}
	}()

	flat := make(map[string]string)
	ok := m.walk(ctx, flat)
	if !ok {
		return
	}

	url := m.currentResolvedURL(ctx)
	changes := m.updateHistory(flat, url)
	if len(changes) == 0 {
		return
	}
	evt := WindowPropertyEvent{Timestamp: nowUnixMillis(), URL: url, Changes: changes}
	if err := m.emit(CategoryWindowProperty, evt); err != nil {
		m.logger.Warn("window_properties: event callback failed", "err", err)
	}
}

// currentResolvedURL falls back through three ways of naming the current
// page: the session's last-known top-level frame URL (from
// Target.attachedToTarget and Page.frameNavigated), then
// Runtime.evaluate(window.location.href), then document.location.href.
func (m *WindowPropertyMonitor) currentResolvedURL(ctx context.Context) string {
	if u := m.currentURL(); u != "" {
		return u
	}

	type evalResult struct {
		Result struct {
			Value string `json:"value"`
		} `json:"result"`
	}

	raw, err := m.d.sendAndWait(ctx, "Runtime.evaluate", map[string]any{"expression": "window.location.href", "returnByValue": true}, m.callTimeout)
	if err == nil {
		var r evalResult
		if json.Unmarshal(raw, &r) == nil && r.Result.Value != "" {
			return r.Result.Value
		}
	}

	raw, err = m.d.sendAndWait(ctx, "Runtime.evaluate", map[string]any{"expression": "document.location.href", "returnByValue": true}, m.callTimeout)
	if err == nil {
		var r evalResult
		if json.Unmarshal(raw, &r) == nil {
			return r.Result.Value
		}
	}
	return ""
}

type remoteObject struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	ClassName string          `json:"className"`
	Value     json.RawMessage `json:"value"`
	ObjectID  string          `json:"objectId"`
}

type evaluateResult struct {
	Result           remoteObject     `json:"result"`
	ExceptionDetails *json.RawMessage `json:"exceptionDetails"`
}

type propertyDescriptor struct {
	Name  string        `json:"name"`
	Value *remoteObject `json:"value"`
}

type getPropertiesResult struct {
	Result []propertyDescriptor `json:"result"`
}

// walk obtains the window object and recursively flattens its
// application-owned own-properties into dotted paths. Returns false if the
// walk was aborted (navigation, context loss, or timeout) and nothing should
// be recorded for this cycle.
func (m *WindowPropertyMonitor) walk(ctx context.Context, out map[string]string) bool {
	if m.abortFlag.Load() {
		return false
	}

	raw, err := m.d.sendAndWait(ctx, "Runtime.evaluate", map[string]any{"expression": "window"}, 1*time.Second)
	if err != nil {
		if isContextLost(err) {
			return false
		}
		m.logger.Debug("window_properties: Runtime.evaluate(window) failed", "err", err)
		return false
	}
	var root evaluateResult
	if err := json.Unmarshal(raw, &root); err != nil || root.Result.ObjectID == "" {
		return false
	}

	visited := make(map[string]struct{})
	return m.walkObject(ctx, root.Result.ObjectID, "", 0, visited, out)
}

// walkObject recurses through own-properties of the object identified by
// objectID, appending dotted paths to out. Depth 0 is window itself.
func (m *WindowPropertyMonitor) walkObject(ctx context.Context, objectID, prefix string, depth int, visited map[string]struct{}, out map[string]string) bool {
	if m.abortFlag.Load() {
		return false
	}
	if depth > m.maxDepth {
		return true
	}
	if _, seen := visited[objectID]; seen {
		return true
	}
	visited[objectID] = struct{}{}

	// The top-level enumeration of window itself gets a longer deadline than
	// the per-property recursive fetches below it, since it can return a much
	// larger own-properties list in one call.
	timeout := m.callTimeout
	if depth == 0 {
		timeout = 1 * time.Second
	}
	raw, err := m.d.sendAndWait(ctx, "Runtime.getProperties", map[string]any{"objectId": objectID, "ownProperties": true}, timeout)
	if err != nil {
		if isContextLost(err) || errors.Is(err, ErrTimeout) {
			return false
		}
		m.logger.Debug("window_properties: getProperties failed", "objectId", objectID, "err", err)
		return true
	}

	var props getPropertiesResult
	if err := json.Unmarshal(raw, &props); err != nil {
		return true
	}

	for _, p := range props.Result {
		if m.abortFlag.Load() {
			return false
		}
		if p.Value == nil || p.Name == "" {
			continue
		}
		path := p.Name
		if prefix != "" {
			path = prefix + "." + p.Name
		}

		if depth == 0 && isNativeGlobalName(p.Name) {
			continue
		}
		if depth >= 1 && isNativeClassName(p.Value.ClassName) {
			continue
		}

		switch p.Value.Type {
		case "function":
			continue
		case "object":
			if !isApplicationObject(p.Value.ClassName) {
				continue
			}
			if p.Value.ObjectID == "" {
				continue
			}
			if !m.walkObject(ctx, p.Value.ObjectID, path, depth+1, visited, out) {
				return false
			}
		case "string", "number", "boolean":
			out[path] = scalarString(p.Value.Type, p.Value.Value)
		}
	}
	return true
}

// scalarString renders a CDP remote-object value as the flat string the
// window-property snapshot stores. Strings are unescaped; numbers and
// booleans keep their literal JSON form.
func scalarString(typ string, raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if typ == "string" {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	}
	return strings.TrimSpace(string(raw))
}

// updateHistory compares the fresh flat snapshot against the previous
// key set, appending value-change entries and disappearance tombstones.
func (m *WindowPropertyMonitor) updateHistory(flat map[string]string, url string) []WindowPropertyChange {
	m.histMu.Lock()
	defer m.histMu.Unlock()

	var changes []WindowPropertyChange
	now := nowUnixMillis()
	newKeys := make(map[string]struct{}, len(flat))

	for path, value := range flat {
		newKeys[path] = struct{}{}
		v := value
		entries := m.history[path]
		if len(entries) == 0 {
			m.history[path] = append(entries, TimelineEntry{Timestamp: now, Value: &v, SourceURL: url})
			changes = append(changes, WindowPropertyChange{Path: path, Value: &v, Kind: "added"})
			continue
		}
		tail := entries[len(entries)-1]
		if tail.Value == nil || *tail.Value != value {
			kind := "updated"
			if tail.Value == nil {
				kind = "added"
			}
			m.history[path] = append(entries, TimelineEntry{Timestamp: now, Value: &v, SourceURL: url})
			changes = append(changes, WindowPropertyChange{Path: path, Value: &v, Kind: kind})
		}
	}

	disappeared := lo.Filter(lo.Keys(m.prevKeys), func(path string, _ int) bool {
		_, stillPresent := newKeys[path]
		return !stillPresent
	})
	for _, path := range disappeared {
		entries := m.history[path]
		if len(entries) == 0 || entries[len(entries)-1].Value == nil {
			continue
		}
		m.history[path] = append(entries, TimelineEntry{Timestamp: now, Value: nil, SourceURL: url})
		changes = append(changes, WindowPropertyChange{Path: path, Value: nil, Kind: "removed"})
	}

	m.prevKeys = newKeys
	return changes
}

// Handles reports ownership of the Page/Runtime lifecycle events this
// monitor reacts to, without owning Page/Runtime domain data itself — the
// Coordinator still routes navigation plumbing to other interested parties.
func (m *WindowPropertyMonitor) Handles(method string) bool {
	switch method {
	case "Page.loadEventFired", "Page.domContentEventFired", "Page.frameNavigated", "Runtime.executionContextsCleared":
		return true
	}
	return false
}

func (m *WindowPropertyMonitor) Handle(ctx context.Context, method string, params json.RawMessage) {
	switch method {
	case "Page.loadEventFired", "Page.domContentEventFired":
		m.onLoadEvent(ctx)
	case "Page.frameNavigated":
		m.onFrameNavigated()
	case "Runtime.executionContextsCleared":
		m.onExecutionContextsCleared()
	}
}

// WindowPropertySummary reports path/history counts for the Coordinator's
// summary().
type WindowPropertySummary struct {
	Paths          int
	HistoryEntries int
}

func (m *WindowPropertyMonitor) summary() WindowPropertySummary {
	m.histMu.Lock()
	defer m.histMu.Unlock()
	total := 0
	for _, entries := range m.history {
		total += len(entries)
	}
	return WindowPropertySummary{Paths: len(m.history), HistoryEntries: total}
}
