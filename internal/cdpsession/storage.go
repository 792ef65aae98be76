package cdpsession

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
)

type cookieKey struct {
	domain string
	path   string
	name   string
}

type cookieSnapshot struct {
	value    string
	expires  float64
	httpOnly bool
	secure   bool
	sameSite string
}

type timelineKey struct {
	scope StorageScope
	key   string
}

// StorageMonitor tracks cookies (by polling) and DOMStorage (by
// subscription), maintaining a per-key value timeline. IndexedDB is enabled
// best-effort at start, but no IndexedDB changes are tracked or emitted.
type StorageMonitor struct {
	d      *dispatcher
	logger *slog.Logger
	emit   EventCallback

	pollInterval time.Duration
	currentURL   func() string

	seq atomic.Uint64

	mu        sync.Mutex
	cookies   map[cookieKey]cookieSnapshot
	timelines map[timelineKey][]TimelineEntry

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newStorageMonitor(d *dispatcher, logger *slog.Logger, emit EventCallback, pollInterval time.Duration, currentURL func() string) *StorageMonitor {
	return &StorageMonitor{
		d:            d,
		logger:       logger,
		emit:         emit,
		pollInterval: pollInterval,
		currentURL:   currentURL,
		cookies:      make(map[cookieKey]cookieSnapshot),
		timelines:    make(map[timelineKey][]TimelineEntry),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// start enables Network (already enabled by the Network Monitor, harmless if
// repeated) and DOMStorage, attempts IndexedDB best-effort, takes the first
// cookie snapshot, and launches the polling loop.
func (m *StorageMonitor) start(ctx context.Context) error {
	if err := m.d.enableDomain(ctx, "Network", nil, 10*time.Second); err != nil {
		return err
	}
	if err := m.d.enableDomain(ctx, "DOMStorage", nil, 10*time.Second); err != nil {
		return err
	}
	if _, err := m.d.sendAndWait(ctx, "IndexedDB.enable", nil, 2*time.Second); err != nil {
		m.logger.Debug("storage: IndexedDB.enable unavailable, continuing without it", "err", err)
	}

	m.pollCookies(ctx)
	go m.pollLoop(ctx)
	return nil
}

func (m *StorageMonitor) pollLoop(ctx context.Context) {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.pollCookies(ctx)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *StorageMonitor) stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

type cdpCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

type getCookiesResult struct {
	Cookies []cdpCookie `json:"cookies"`
}

// pollCookies fetches Network.getCookies and diffs it against the previous
// snapshot, exact on value/expiry/httpOnly/secure/sameSite.
func (m *StorageMonitor) pollCookies(ctx context.Context) {
	raw, err := m.d.sendAndWait(ctx, "Network.getCookies", nil, 2*time.Second)
	if err != nil {
		m.logger.Debug("storage: getCookies failed", "err", err)
		return
	}
	var result getCookiesResult
	if err := json.Unmarshal(raw, &result); err != nil {
		m.logger.Warn("storage: invalid getCookies result", "err", err)
		return
	}

	now := map[cookieKey]cookieSnapshot{}
	for _, c := range result.Cookies {
		now[cookieKey{domain: c.Domain, path: c.Path, name: c.Name}] = cookieSnapshot{
			value: c.Value, expires: c.Expires, httpOnly: c.HTTPOnly, secure: c.Secure, sameSite: c.SameSite,
		}
	}

	m.mu.Lock()
	prev := m.cookies
	m.cookies = now
	m.mu.Unlock()

	url := m.currentURL()
	for k, snap := range now {
		old, existed := prev[k]
		if !existed {
			m.emitCookie(k, nil, &snap.value)
			m.appendTimeline(ScopeCookie, k.name, &snap.value, url)
			continue
		}
		if old != snap {
			oldVal := old.value
			m.emitCookie(k, &oldVal, &snap.value)
			m.appendTimeline(ScopeCookie, k.name, &snap.value, url)
		}
	}
	removedKeys := lo.Filter(lo.Keys(prev), func(k cookieKey, _ int) bool {
		_, stillPresent := now[k]
		return !stillPresent
	})
	for _, k := range removedKeys {
		oldVal := prev[k].value
		m.emitCookie(k, &oldVal, nil)
		m.appendTimeline(ScopeCookie, k.name, nil, url)
	}
}

func (m *StorageMonitor) emitCookie(k cookieKey, oldVal, newVal *string) {
	evt := StorageEvent{
		Kind:         KindCookieChanged,
		Sequence:     m.seq.Add(1),
		Timestamp:    nowUnixMillis(),
		Origin:       k.domain,
		Key:          k.name,
		OldValue:     oldVal,
		NewValue:     newVal,
		CookieName:   k.name,
		CookieDomain: k.domain,
		CookiePath:   k.path,
	}
	if err := m.emit(CategoryStorage, evt); err != nil {
		m.logger.Warn("storage: event callback failed", "key", k.name, "err", err)
	}
}

func (m *StorageMonitor) appendTimeline(scope StorageScope, key string, value *string, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tk := timelineKey{scope: scope, key: key}
	m.timelines[tk] = append(m.timelines[tk], TimelineEntry{Timestamp: nowUnixMillis(), Value: value, SourceURL: url})
}

// Handles reports ownership of DOMStorage.* events.
func (m *StorageMonitor) Handles(method string) bool {
	return strings.HasPrefix(method, "DOMStorage.")
}

type domStorageID struct {
	SecurityOrigin string `json:"securityOrigin"`
	IsLocalStorage bool   `json:"isLocalStorage"`
}

type domStorageItemAddedParams struct {
	StorageID domStorageID `json:"storageId"`
	Key       string       `json:"key"`
	NewValue  string       `json:"newValue"`
}

type domStorageItemUpdatedParams struct {
	StorageID domStorageID `json:"storageId"`
	Key       string       `json:"key"`
	OldValue  string       `json:"oldValue"`
	NewValue  string       `json:"newValue"`
}

type domStorageItemRemovedParams struct {
	StorageID domStorageID `json:"storageId"`
	Key       string       `json:"key"`
}

type domStorageItemsClearedParams struct {
	StorageID domStorageID `json:"storageId"`
}

// Handle processes one DOMStorage.* event.
func (m *StorageMonitor) Handle(ctx context.Context, method string, params json.RawMessage) {
	url := m.currentURL()
	switch method {
	case "DOMStorage.domStorageItemAdded":
		var p domStorageItemAddedParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		m.emitKeyEvent(KindStorageKeyAdded, p.StorageID, p.Key, nil, &p.NewValue)
		m.appendTimeline(scopeOf(p.StorageID.IsLocalStorage), p.Key, &p.NewValue, url)
	case "DOMStorage.domStorageItemUpdated":
		var p domStorageItemUpdatedParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		m.emitKeyEvent(KindStorageKeyUpdate, p.StorageID, p.Key, &p.OldValue, &p.NewValue)
		m.appendTimeline(scopeOf(p.StorageID.IsLocalStorage), p.Key, &p.NewValue, url)
	case "DOMStorage.domStorageItemRemoved":
		var p domStorageItemRemovedParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		m.emitKeyEvent(KindStorageKeyRemove, p.StorageID, p.Key, nil, nil)
		m.appendTimeline(scopeOf(p.StorageID.IsLocalStorage), p.Key, nil, url)
	case "DOMStorage.domStorageItemsCleared":
		var p domStorageItemsClearedParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		m.expandClear(p.StorageID, url)
	}
}

func scopeOf(isLocal bool) StorageScope {
	if isLocal {
		return ScopeLocalStorage
	}
	return ScopeSessionStorage
}

func (m *StorageMonitor) emitKeyEvent(kind StorageEventKind, id domStorageID, key string, oldVal, newVal *string) {
	evt := StorageEvent{
		Kind:      kind,
		Sequence:  m.seq.Add(1),
		Timestamp: nowUnixMillis(),
		Origin:    id.SecurityOrigin,
		IsLocal:   id.IsLocalStorage,
		Key:       key,
		OldValue:  oldVal,
		NewValue:  newVal,
	}
	if err := m.emit(CategoryStorage, evt); err != nil {
		m.logger.Warn("storage: event callback failed", "key", key, "err", err)
	}
}

// expandClear emits one StorageKeyRemoved per currently-known key in the
// cleared scope (local or session storage). "Currently known" is
// approximated from this monitor's own timeline table, since DOMStorage
// offers no enumerate call. Timeline keys are not recorded per origin, so
// every known key in that scope is included, whatever origin it came from.
func (m *StorageMonitor) expandClear(id domStorageID, url string) {
	scope := scopeOf(id.IsLocalStorage)
	m.mu.Lock()
	var keys []string
	for tk := range m.timelines {
		if tk.scope == scope {
			keys = append(keys, tk.key)
		}
	}
	m.mu.Unlock()

	for _, key := range keys {
		m.emitKeyEvent(KindStorageKeyRemove, id, key, nil, nil)
		m.appendTimeline(scope, key, nil, url)
	}
}

// Summary reports current cookie count and distinct local/session storage
// keys tracked, for the Coordinator's summary().
type StorageSummary struct {
	Cookies int
	Local   int
	Session int
}

func (m *StorageMonitor) summary() StorageSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := StorageSummary{Cookies: len(m.cookies)}
	for tk := range m.timelines {
		switch tk.scope {
		case ScopeLocalStorage:
			s.Local++
		case ScopeSessionStorage:
			s.Session++
		}
	}
	return s
}
