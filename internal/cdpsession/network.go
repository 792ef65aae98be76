package cdpsession

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// excludedBodyMimePrefixes skips body fetches for obviously binary
// resources even when their resource type is in the capture set.
var excludedBodyMimePrefixes = []string{
	"image/", "video/", "audio/", "font/", "application/font", "application/octet-stream",
}

type networkTx struct {
	requestID       string
	method          string
	url             string
	requestHeaders  map[string]string
	requestPostData string
	resourceType    string
	timing          json.RawMessage
	status          *int
	responseHeaders map[string]string
	mimeType        string
	state           TransactionState

	bodyFetchPending bool
	bodyFetchDone    chan struct{}
	body             *ResponseBody
	bodyUnavailable  bool

	failure *TransactionFailure
}

// NetworkMonitor assembles fragmented Network.* CDP events into complete
// transactions keyed by requestId.
type NetworkMonitor struct {
	d            *dispatcher
	logger       *slog.Logger
	emit         EventCallback
	captureTypes map[string]struct{}
	bodyTimeout  time.Duration

	seq            atomic.Uint64
	completedCount atomic.Int64
	failedCount    atomic.Int64

	mu       sync.Mutex
	inFlight map[string]*networkTx
}

func newNetworkMonitor(d *dispatcher, logger *slog.Logger, emit EventCallback, captureTypes []string, bodyTimeout time.Duration) *NetworkMonitor {
	set := make(map[string]struct{}, len(captureTypes))
	for _, t := range captureTypes {
		set[t] = struct{}{}
	}
	return &NetworkMonitor{
		d:            d,
		logger:       logger,
		emit:         emit,
		captureTypes: set,
		bodyTimeout:  bodyTimeout,
		inFlight:     make(map[string]*networkTx),
	}
}

func (m *NetworkMonitor) start(ctx context.Context) error {
	return m.d.enableDomain(ctx, "Network", nil, 10*time.Second)
}

// Handles reports whether this monitor owns the given CDP method, per the
// Coordinator's dispatch rule.
func (m *NetworkMonitor) Handles(method string) bool {
	return strings.HasPrefix(method, "Network.")
}

// Handle processes one Network.* event.
func (m *NetworkMonitor) Handle(ctx context.Context, method string, params json.RawMessage) {
	switch method {
	case "Network.requestWillBeSent":
		m.onRequestWillBeSent(params)
	case "Network.requestWillBeSentExtraInfo":
		m.onRequestExtraInfo(params)
	case "Network.responseReceived":
		m.onResponseReceived(ctx, params)
	case "Network.responseReceivedExtraInfo":
		m.onResponseExtraInfo(params)
	case "Network.loadingFinished":
		m.onLoadingFinished(ctx, params)
	case "Network.loadingFailed":
		m.onLoadingFailed(params)
	}
}

type requestWillBeSentParams struct {
	RequestID string  `json:"requestId"`
	Timestamp float64 `json:"timestamp"`
	Request   struct {
		URL      string            `json:"url"`
		Method   string            `json:"method"`
		Headers  map[string]string `json:"headers"`
		PostData string            `json:"postData"`
	} `json:"request"`
	Type string `json:"type"`
}

func (m *NetworkMonitor) onRequestWillBeSent(raw json.RawMessage) {
	var p requestWillBeSentParams
	if err := json.Unmarshal(raw, &p); err != nil {
		m.logger.Warn("network: invalid requestWillBeSent", "err", err)
		return
	}
	tx := &networkTx{
		requestID:       p.RequestID,
		method:          p.Request.Method,
		url:             p.Request.URL,
		requestHeaders:  p.Request.Headers,
		requestPostData: p.Request.PostData,
		resourceType:    p.Type,
		state:           StatePending,
	}
	m.mu.Lock()
	m.inFlight[p.RequestID] = tx
	m.mu.Unlock()
}

type extraInfoParams struct {
	RequestID string            `json:"requestId"`
	Headers   map[string]string `json:"headers"`
}

func (m *NetworkMonitor) onRequestExtraInfo(raw json.RawMessage) {
	var p extraInfoParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.inFlight[p.RequestID]
	if !ok {
		return
	}
	if tx.requestHeaders == nil {
		tx.requestHeaders = make(map[string]string)
	}
	for k, v := range p.Headers {
		tx.requestHeaders[k] = v
	}
}

func (m *NetworkMonitor) onResponseExtraInfo(raw json.RawMessage) {
	var p extraInfoParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.inFlight[p.RequestID]
	if !ok {
		return
	}
	if tx.responseHeaders == nil {
		tx.responseHeaders = make(map[string]string)
	}
	for k, v := range p.Headers {
		tx.responseHeaders[k] = v
	}
}

type responseReceivedParams struct {
	RequestID string `json:"requestId"`
	Response  struct {
		Status   int               `json:"status"`
		Headers  map[string]string `json:"headers"`
		MimeType string            `json:"mimeType"`
		Timing   json.RawMessage   `json:"timing"`
	} `json:"response"`
	Type string `json:"type"`
}

func (m *NetworkMonitor) shouldFetchBody(resourceType, mimeType string) bool {
	if _, ok := m.captureTypes[strings.ToLower(resourceType)]; !ok {
		return false
	}
	for _, prefix := range excludedBodyMimePrefixes {
		if strings.HasPrefix(mimeType, prefix) {
			return false
		}
	}
	return true
}

func (m *NetworkMonitor) onResponseReceived(ctx context.Context, raw json.RawMessage) {
	var p responseReceivedParams
	if err := json.Unmarshal(raw, &p); err != nil {
		m.logger.Warn("network: invalid responseReceived", "err", err)
		return
	}

	m.mu.Lock()
	tx, ok := m.inFlight[p.RequestID]
	if !ok {
		m.mu.Unlock()
		return
	}
	status := p.Response.Status
	tx.status = &status
	if tx.responseHeaders == nil {
		tx.responseHeaders = make(map[string]string)
	}
	for k, v := range p.Response.Headers {
		tx.responseHeaders[k] = v
	}
	tx.mimeType = p.Response.MimeType
	tx.timing = p.Response.Timing
	tx.state = StateHeaders

	fetchBody := m.shouldFetchBody(p.Type, p.Response.MimeType)
	if fetchBody {
		tx.bodyFetchPending = true
		tx.bodyFetchDone = make(chan struct{})
	}
	m.mu.Unlock()

	if fetchBody {
		go m.fetchBody(ctx, tx)
	}
}

type getResponseBodyResult struct {
	Body          string `json:"body"`
	Base64Encoded bool   `json:"base64Encoded"`
}

// fetchBody is best-effort: the body may already have been evicted by the
// browser, in which case the transaction is emitted without one and a
// warning flag is set, never an error the host sees.
func (m *NetworkMonitor) fetchBody(ctx context.Context, tx *networkTx) {
	defer close(tx.bodyFetchDone)

	raw, err := m.d.sendAndWait(ctx, "Network.getResponseBody", map[string]string{"requestId": tx.requestID}, m.bodyTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		tx.bodyUnavailable = true
		tx.state = StateBodyFetched
		return
	}

	var result getResponseBodyResult
	if err := json.Unmarshal(raw, &result); err != nil {
		tx.bodyUnavailable = true
		tx.state = StateBodyFetched
		return
	}

	body := []byte(result.Body)
	if result.Base64Encoded {
		decoded, derr := base64.StdEncoding.DecodeString(result.Body)
		if derr == nil {
			body = decoded
		}
	}
	tx.body = &ResponseBody{Body: body, Base64Encoded: false}
	tx.state = StateBodyFetched
}

type loadingFinishedParams struct {
	RequestID string  `json:"requestId"`
	Timestamp float64 `json:"timestamp"`
}

func (m *NetworkMonitor) onLoadingFinished(ctx context.Context, raw json.RawMessage) {
	var p loadingFinishedParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}

	m.mu.Lock()
	tx, ok := m.inFlight[p.RequestID]
	if ok {
		delete(m.inFlight, p.RequestID)
	}
	pending := ok && tx.bodyFetchPending
	var done chan struct{}
	if pending {
		done = tx.bodyFetchDone
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	if pending {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	tx.state = StateCompleted
	m.emitTransaction(tx, p.Timestamp)
}

type loadingFailedParams struct {
	RequestID string  `json:"requestId"`
	Timestamp float64 `json:"timestamp"`
	ErrorText string  `json:"errorText"`
	Canceled  bool    `json:"canceled"`
	Type      string  `json:"type"`
}

func (m *NetworkMonitor) onLoadingFailed(raw json.RawMessage) {
	var p loadingFailedParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}

	m.mu.Lock()
	tx, ok := m.inFlight[p.RequestID]
	if ok {
		delete(m.inFlight, p.RequestID)
	}
	m.mu.Unlock()
	if !ok {
		// No prior requestWillBeSent observed; synthesize a minimal entry so
		// the requestId still gets exactly one emitted event.
		tx = &networkTx{requestID: p.RequestID, resourceType: p.Type}
	}

	tx.state = StateFailed
	tx.failure = &TransactionFailure{ErrorText: p.ErrorText, Canceled: p.Canceled}
	m.emitTransaction(tx, p.Timestamp)
}

func (m *NetworkMonitor) emitTransaction(tx *networkTx, timestamp float64) {
	evt := NetworkTransactionEvent{
		Sequence:        m.seq.Add(1),
		Timestamp:       timestamp,
		RequestID:       tx.requestID,
		Method:          tx.method,
		URL:             tx.url,
		RequestHeaders:  tx.requestHeaders,
		RequestPostData: tx.requestPostData,
		ResourceType:    tx.resourceType,
		Timing:          tx.timing,
		Status:          tx.status,
		ResponseHeaders: tx.responseHeaders,
		MimeType:        tx.mimeType,
		ResponseBody:    tx.body,
		BodyUnavailable: tx.bodyUnavailable,
		Failure:         tx.failure,
		State:           tx.state,
	}
	switch tx.state {
	case StateCompleted:
		m.completedCount.Add(1)
	case StateFailed:
		m.failedCount.Add(1)
	}
	if err := m.emit(CategoryNetwork, evt); err != nil {
		m.logger.Warn("network: event callback failed", "requestId", tx.requestID, "err", err)
	}
}

// finalize emits every still-pending transaction as failed{canceled: true},
// per the Coordinator's shutdown sequence.
func (m *NetworkMonitor) finalize() {
	m.mu.Lock()
	remaining := m.inFlight
	m.inFlight = make(map[string]*networkTx)
	m.mu.Unlock()

	for _, tx := range remaining {
		tx.state = StateFailed
		tx.failure = &TransactionFailure{ErrorText: "session finalized", Canceled: true}
		m.emitTransaction(tx, 0)
	}
}

// Summary reports counts for the Coordinator's summary() accessor.
type NetworkSummary struct {
	InFlight  int
	Completed int
	Failed    int
}

func (m *NetworkMonitor) summary() NetworkSummary {
	m.mu.Lock()
	inFlight := len(m.inFlight)
	m.mu.Unlock()
	return NetworkSummary{
		InFlight:  inFlight,
		Completed: int(m.completedCount.Load()),
		Failed:    int(m.failedCount.Load()),
	}
}
