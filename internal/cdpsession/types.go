package cdpsession

import (
	"encoding/json"
	"strconv"
)

// commandEnvelope is the wire shape of a client-initiated CDP frame.
type commandEnvelope struct {
	ID        uint64          `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// inboundEnvelope is the wire shape of any server-initiated frame: either a
// reply to a command (has a non-zero ID) or an event (has a Method).
type inboundEnvelope struct {
	ID        uint64           `json:"id,omitempty"`
	Method    string           `json:"method,omitempty"`
	Params    json.RawMessage  `json:"params,omitempty"`
	Result    json.RawMessage  `json:"result,omitempty"`
	Error     *inboundCDPError `json:"error,omitempty"`
	SessionID string           `json:"sessionId,omitempty"`
}

type inboundCDPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *inboundEnvelope) isReply() bool { return e.ID != 0 }

// EventCategory names one of the four monitor lanes a capture event belongs
// to, as delivered through the host's single callback.
type EventCategory string

const (
	CategoryNetwork        EventCategory = "network"
	CategoryStorage        EventCategory = "storage"
	CategoryWindowProperty EventCategory = "window_properties"
	CategoryInteraction    EventCategory = "interaction"
)

// EventCallback is the single async hook the host supplies at Session
// construction. The core awaits it but assumes it returns promptly; a
// failing callback is logged (CallbackFailed) and capture continues.
type EventCallback func(category EventCategory, event any) error

// --- Network transaction ---

// TransactionState is the lifecycle state of a NetworkTransaction.
type TransactionState string

const (
	StatePending     TransactionState = "pending"
	StateHeaders     TransactionState = "headers"
	StateBodyFetched TransactionState = "body_fetched"
	StateCompleted   TransactionState = "completed"
	StateFailed      TransactionState = "failed"
)

// TransactionFailure carries the reason a transaction terminated in
// StateFailed.
type TransactionFailure struct {
	ErrorText string `json:"errorText"`
	Canceled  bool   `json:"canceled"`
}

// ResponseBody is the best-effort fetched body of a response.
type ResponseBody struct {
	Body          []byte `json:"body"`
	Base64Encoded bool   `json:"base64Encoded"`
}

// NetworkTransactionEvent is emitted exactly once per requestId, when the
// transaction reaches a terminal state (completed or failed).
type NetworkTransactionEvent struct {
	Sequence        uint64              `json:"sequence"`
	Timestamp       float64             `json:"timestamp"`
	RequestID       string              `json:"requestId"`
	Method          string              `json:"method"`
	URL             string              `json:"url"`
	RequestHeaders  map[string]string   `json:"requestHeaders"`
	RequestPostData string              `json:"requestPostData,omitempty"`
	ResourceType    string              `json:"resourceType"`
	Timing          json.RawMessage     `json:"timing,omitempty"`
	Status          *int                `json:"status,omitempty"`
	ResponseHeaders map[string]string   `json:"responseHeaders,omitempty"`
	MimeType        string              `json:"mimeType,omitempty"`
	ResponseBody    *ResponseBody       `json:"responseBody,omitempty"`
	BodyUnavailable bool                `json:"bodyUnavailable,omitempty"`
	Failure         *TransactionFailure `json:"failure,omitempty"`
	State           TransactionState    `json:"state"`
}

func (e NetworkTransactionEvent) String() string {
	return "network[" + e.RequestID + "] " + e.Method + " " + e.URL + " -> " + string(e.State)
}

// --- Storage events ---

// StorageEventKind tags the StorageEvent union.
type StorageEventKind string

const (
	KindCookieChanged    StorageEventKind = "cookie_changed"
	KindStorageKeyAdded  StorageEventKind = "storage_key_added"
	KindStorageKeyRemove StorageEventKind = "storage_key_removed"
	KindStorageKeyUpdate StorageEventKind = "storage_key_updated"
	KindIndexedDBChanged StorageEventKind = "indexeddb_changed"
)

// StorageScope names the timeline bucket a storage key lives in.
type StorageScope string

const (
	ScopeCookie         StorageScope = "cookie"
	ScopeSessionStorage StorageScope = "sessionStorage"
	ScopeLocalStorage   StorageScope = "localStorage"
)

// StorageEvent is the tagged-union record emitted for every storage
// mutation observed by the Storage Monitor.
type StorageEvent struct {
	Kind      StorageEventKind `json:"kind"`
	Sequence  uint64           `json:"sequence"`
	Timestamp float64          `json:"timestamp"`
	Origin    string           `json:"origin"`
	IsLocal   bool             `json:"isLocalStorage,omitempty"`
	Key       string           `json:"key,omitempty"`
	OldValue  *string          `json:"oldValue,omitempty"`
	NewValue  *string          `json:"newValue,omitempty"`
	// Cookie-specific fields.
	CookieName   string `json:"cookieName,omitempty"`
	CookieDomain string `json:"cookieDomain,omitempty"`
	CookiePath   string `json:"cookiePath,omitempty"`
}

func (e StorageEvent) String() string {
	return "storage[" + string(e.Kind) + "] " + e.Origin + " " + e.Key
}

// TimelineEntry is one observation in a key's value history.
type TimelineEntry struct {
	Timestamp float64 `json:"timestamp"`
	Value     *string `json:"value"`
	SourceURL string  `json:"sourceUrl"`
}

// --- Window properties ---

// WindowPropertyChange describes one path whose value changed (or was
// tombstoned) between two collection cycles.
type WindowPropertyChange struct {
	Path  string  `json:"path"`
	Value *string `json:"value"`
	Kind  string  `json:"kind"` // "added" | "updated" | "removed"
}

// WindowPropertyEvent is emitted after each completed collection cycle.
type WindowPropertyEvent struct {
	Timestamp float64                `json:"timestamp"`
	URL       string                 `json:"url"`
	Changes   []WindowPropertyChange `json:"changes"`
}

func (e WindowPropertyEvent) String() string {
	return "window_properties " + e.URL + " changes=" + strconv.Itoa(len(e.Changes))
}

// --- Interactions ---

// InteractionType names the DOM event the Interaction Monitor observed.
type InteractionType string

const (
	InteractionClick       InteractionType = "click"
	InteractionDblClick    InteractionType = "dblclick"
	InteractionMouseDown   InteractionType = "mousedown"
	InteractionMouseUp     InteractionType = "mouseup"
	InteractionContextMenu InteractionType = "contextmenu"
	InteractionMouseOver   InteractionType = "mouseover"
	InteractionKeyDown     InteractionType = "keydown"
	InteractionKeyUp       InteractionType = "keyup"
	InteractionKeyPress    InteractionType = "keypress"
	InteractionInput       InteractionType = "input"
	InteractionChange      InteractionType = "change"
	InteractionFocus       InteractionType = "focus"
	InteractionBlur        InteractionType = "blur"
)

// EventDetail carries whichever UI-event fields are relevant to the
// interaction type; zero values mean "not applicable".
type EventDetail struct {
	Button    *int     `json:"button,omitempty"`
	Key       string   `json:"key,omitempty"`
	Code      string   `json:"code,omitempty"`
	Modifiers []string `json:"modifiers,omitempty"`
	ClientX   *float64 `json:"clientX,omitempty"`
	ClientY   *float64 `json:"clientY,omitempty"`
	PageX     *float64 `json:"pageX,omitempty"`
	PageY     *float64 `json:"pageY,omitempty"`
}

// InteractionEvent is emitted once per DOM interaction reported through the
// Runtime.bindingCalled channel. ID is a cuid2: a compact, collision-resistant
// random id; it does not sort by creation order.
type InteractionEvent struct {
	ID          string          `json:"id"`
	Type        InteractionType `json:"type"`
	TimestampMS float64         `json:"timestampMs"`
	URL         string          `json:"url"`
	Detail      EventDetail     `json:"detail"`
	Target      UiElement       `json:"target"`
}

func (e InteractionEvent) String() string {
	return "interaction[" + string(e.Type) + "] " + e.Target.Tag
}
