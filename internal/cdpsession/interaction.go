package cdpsession

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nrednav/cuid2"
)

const interactionBindingName = "__cdpsession_interaction__"

// interactionScriptSource is injected via Page.addScriptToEvaluateOnNewDocument
// so it runs before any page script, subscribing to UI events in the capture
// phase and forwarding serialized records through the pre-registered
// binding. Adapted from the observer-script pattern in domsync; this
// variant serializes interaction records instead of mutation/layout diffs.
const interactionScriptSource = `(() => {
  if (window.__cdpsessionInteractionInstalled__) return;
  window.__cdpsessionInteractionInstalled__ = true;

  const GENERATED_CLASS = /^(sc-|css-)|^[a-zA-Z0-9]{10,}$/;

  function isGeneratedClass(c) { return GENERATED_CLASS.test(c); }

  function buildXPath(el) {
    if (!el || !el.tagName) return '';
    const segs = [];
    let node = el;
    while (node && node.nodeType === 1 && node !== document.documentElement) {
      let idx = 1;
      let sib = node.previousElementSibling;
      while (sib) {
        if (sib.tagName === node.tagName) idx++;
        sib = sib.previousElementSibling;
      }
      segs.unshift(node.tagName.toLowerCase() + '[' + idx + ']');
      node = node.parentElement;
    }
    return '/html/' + segs.join('/');
  }

  function buildLocators(el) {
    const locators = [];
    if (el.id) locators.push({ type: 'id', value: el.id, priority: 10 });
    if (el.name) locators.push({ type: 'name', value: el.name, priority: 20 });
    const placeholder = el.getAttribute && el.getAttribute('placeholder');
    if (placeholder) locators.push({ type: 'css', value: el.tagName.toLowerCase() + '[placeholder="' + placeholder + '"]', priority: 30 });
    const role = el.getAttribute && el.getAttribute('role');
    if (role) locators.push({ type: 'role', value: role, priority: 40 });
    const text = (el.textContent || '').trim();
    if (text) locators.push({ type: 'text', value: text.slice(0, 120), priority: 50 });
    if (locators.length === 0 && el.classList) {
      for (const c of el.classList) {
        if (!isGeneratedClass(c)) { locators.push({ type: 'css', value: '.' + c, priority: 30 }); break; }
      }
    }
    const xpath = buildXPath(el);
    if (xpath) locators.push({ type: 'xpath', value: xpath, priority: 80 });
    locators.sort((a, b) => a.priority - b.priority);
    return locators;
  }

  function describeTarget(el) {
    if (!el || !el.tagName) return { tag: 'unknown' };
    const rect = el.getBoundingClientRect ? el.getBoundingClientRect() : null;
    const attrs = {};
    if (el.attributes) {
      for (const a of el.attributes) attrs[a.name] = a.value;
    }
    return {
      tag: el.tagName.toLowerCase(),
      id: el.id || undefined,
      name: el.name || undefined,
      classes: el.classList ? Array.from(el.classList) : [],
      type: el.type || undefined,
      role: el.getAttribute ? (el.getAttribute('role') || undefined) : undefined,
      ariaLabel: el.getAttribute ? (el.getAttribute('aria-label') || undefined) : undefined,
      placeholder: el.placeholder || undefined,
      href: el.href || undefined,
      src: el.src || undefined,
      value: el.value || undefined,
      title: el.title || undefined,
      attributes: attrs,
      text: (el.textContent || '').trim().slice(0, 500),
      box: rect ? { x: rect.x, y: rect.y, width: rect.width, height: rect.height } : undefined,
      xpath: buildXPath(el) || undefined,
      locators: buildLocators(el),
    };
  }

  function send(type, evt) {
    const detail = {
      button: typeof evt.button === 'number' ? evt.button : undefined,
      key: evt.key || undefined,
      code: evt.code || undefined,
      modifiers: ['altKey', 'ctrlKey', 'metaKey', 'shiftKey'].filter((k) => evt[k]),
      clientX: typeof evt.clientX === 'number' ? evt.clientX : undefined,
      clientY: typeof evt.clientY === 'number' ? evt.clientY : undefined,
      pageX: typeof evt.pageX === 'number' ? evt.pageX : undefined,
      pageY: typeof evt.pageY === 'number' ? evt.pageY : undefined,
    };
    const payload = {
      type,
      timestampMs: Date.now(),
      url: window.location.href,
      detail,
      target: describeTarget(evt.target),
    };
    try {
      window["BINDING_NAME"](JSON.stringify(payload));
    } catch (e) {}
  }

  const types = ['click', 'dblclick', 'mousedown', 'mouseup', 'contextmenu',
    'mouseover', 'keydown', 'keyup', 'keypress', 'input', 'change', 'focus', 'blur'];
  for (const t of types) {
    window.addEventListener(t, (evt) => send(t, evt), { capture: true, passive: true });
  }
})();`

// InteractionMonitor decodes Runtime.bindingCalled payloads from the
// injected observer script into typed InteractionEvents.
type InteractionMonitor struct {
	d      *dispatcher
	logger *slog.Logger
	emit   EventCallback

	priorities map[LocatorType]int

	count atomic.Uint64
}

func newInteractionMonitor(d *dispatcher, logger *slog.Logger, emit EventCallback, priorities map[LocatorType]int) *InteractionMonitor {
	return &InteractionMonitor{d: d, logger: logger, emit: emit, priorities: priorities}
}

// start enables Runtime, registers the binding, and installs the observer
// script on every future document so it survives navigation.
func (m *InteractionMonitor) start(ctx context.Context) error {
	if err := m.d.enableDomain(ctx, "Runtime", nil, 10*time.Second); err != nil {
		return err
	}
	if _, err := m.d.sendAndWait(ctx, "Runtime.addBinding", map[string]string{"name": interactionBindingName}, 10*time.Second); err != nil {
		return err
	}
	script := strings.Replace(interactionScriptSource, "BINDING_NAME", interactionBindingName, 1)
	_, err := m.d.sendAndWait(ctx, "Page.addScriptToEvaluateOnNewDocument", map[string]string{"source": script}, 10*time.Second)
	return err
}

// Handles reports ownership of the binding-callback channel.
func (m *InteractionMonitor) Handles(method string) bool {
	return method == "Runtime.bindingCalled"
}

type bindingCalledParams struct {
	Name    string `json:"name"`
	Payload string `json:"payload"`
}

type interactionPayload struct {
	Type        InteractionType `json:"type"`
	TimestampMS float64         `json:"timestampMs"`
	URL         string          `json:"url"`
	Detail      EventDetail     `json:"detail"`
	Target      UiElement       `json:"target"`
}

// Handle decodes one Runtime.bindingCalled frame and emits an
// InteractionEvent, building locators if the injected script did not supply
// any (e.g. an older script version).
func (m *InteractionMonitor) Handle(ctx context.Context, method string, params json.RawMessage) {
	var p bindingCalledParams
	if err := json.Unmarshal(params, &p); err != nil || p.Name != interactionBindingName {
		return
	}

	var payload interactionPayload
	if err := json.Unmarshal([]byte(p.Payload), &payload); err != nil {
		m.logger.Warn("interaction: invalid binding payload", "err", err)
		return
	}

	payload.Target.BuildLocators(m.priorities)
	m.count.Add(1)

	evt := InteractionEvent{
		ID:          cuid2.Generate(),
		Type:        payload.Type,
		TimestampMS: payload.TimestampMS,
		URL:         payload.URL,
		Detail:      payload.Detail,
		Target:      payload.Target,
	}
	if err := m.emit(CategoryInteraction, evt); err != nil {
		m.logger.Warn("interaction: event callback failed", "err", err)
	}
}

// InteractionSummary reports the running interaction count for the
// Coordinator's summary().
type InteractionSummary struct {
	Count uint64
}

func (m *InteractionMonitor) summary() InteractionSummary {
	return InteractionSummary{Count: m.count.Load()}
}
