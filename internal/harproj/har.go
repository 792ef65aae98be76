// Package harproj projects a stream of emitted NetworkTransactionEvents into
// a HAR 1.2 document, post hoc. The core persists nothing; this is an
// external projection a host assembles on demand, adapted from the
// assembleHAR/buildEntry/buildTimings shape of other HAR exporters, built
// against our own event type instead of chromedp/cdproto's request/response
// pair.
package harproj

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/vectorly/cdpcapture/internal/cdpsession"
)

// HAR is the root of a HAR 1.2 document.
type HAR struct {
	Log Log `json:"log"`
}

// Log is the top-level log object.
type Log struct {
	Version string  `json:"version"`
	Creator Creator `json:"creator"`
	Entries []Entry `json:"entries"`
}

// Creator identifies the tool that produced the HAR.
type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// NameValuePair is HAR's generic header/query/cookie representation.
type NameValuePair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Content is a response body descriptor.
type Content struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// Request is one HAR request record.
type Request struct {
	Method      string          `json:"method"`
	URL         string          `json:"url"`
	HTTPVersion string          `json:"httpVersion"`
	Headers     []NameValuePair `json:"headers"`
	QueryString []NameValuePair `json:"queryString"`
	BodySize    int             `json:"bodySize"`
}

// Response is one HAR response record.
type Response struct {
	Status      int             `json:"status"`
	StatusText  string          `json:"statusText"`
	HTTPVersion string          `json:"httpVersion"`
	Headers     []NameValuePair `json:"headers"`
	Content     Content         `json:"content"`
	BodySize    int             `json:"bodySize"`
}

// Timings is HAR's per-phase timing breakdown. Unmeasured phases are -1.
type Timings struct {
	Blocked float64 `json:"blocked"`
	DNS     float64 `json:"dns"`
	Connect float64 `json:"connect"`
	SSL     float64 `json:"ssl"`
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

// Entry is one HAR request/response pair.
type Entry struct {
	RequestID       string   `json:"_requestId"`
	StartedDateTime string   `json:"startedDateTime"`
	Time            float64  `json:"time"`
	Request         Request  `json:"request"`
	Response        Response `json:"response"`
	Timings         Timings  `json:"timings"`
}

// resourceTiming mirrors the subset of CDP's Network.ResourceTiming fields
// the timings projection needs; unmarshaled from NetworkTransactionEvent.Timing.
type resourceTiming struct {
	RequestTime       float64 `json:"requestTime"`
	DNSStart          float64 `json:"dnsStart"`
	DNSEnd            float64 `json:"dnsEnd"`
	ConnectStart      float64 `json:"connectStart"`
	ConnectEnd        float64 `json:"connectEnd"`
	SslStart          float64 `json:"sslStart"`
	SslEnd            float64 `json:"sslEnd"`
	SendStart         float64 `json:"sendStart"`
	SendEnd           float64 `json:"sendEnd"`
	ReceiveHeadersEnd float64 `json:"receiveHeadersEnd"`
}

// Build projects a completed event stream into a HAR document. Only events
// in a terminal state (completed or failed) are expected, matching the
// Network Monitor's exactly-once emission guarantee; events in any other
// state are skipped.
func Build(events []cdpsession.NetworkTransactionEvent) HAR {
	h := HAR{
		Log: Log{
			Version: "1.2",
			Creator: Creator{Name: "cdpcapture", Version: "0.1.0"},
			Entries: make([]Entry, 0, len(events)),
		},
	}
	for _, e := range events {
		if e.State != cdpsession.StateCompleted && e.State != cdpsession.StateFailed {
			continue
		}
		h.Log.Entries = append(h.Log.Entries, buildEntry(e))
	}
	return h
}

func buildEntry(e cdpsession.NetworkTransactionEvent) Entry {
	entry := Entry{
		RequestID:       e.RequestID,
		StartedDateTime: time.Unix(0, int64(e.Timestamp*float64(time.Second))).UTC().Format(time.RFC3339Nano),
		Request: Request{
			Method:      e.Method,
			URL:         e.URL,
			HTTPVersion: "HTTP/1.1",
			Headers:     headerPairs(e.RequestHeaders),
			QueryString: []NameValuePair{},
			BodySize:    len(e.RequestPostData),
		},
		Response: Response{
			Headers: headerPairs(e.ResponseHeaders),
			Content: Content{MimeType: e.MimeType},
		},
		Timings: Timings{Blocked: -1, DNS: -1, Connect: -1, SSL: -1, Send: -1, Wait: -1, Receive: -1},
	}

	if e.Status != nil {
		entry.Response.Status = *e.Status
	}
	if e.ResponseBody != nil {
		entry.Response.Content.Size = len(e.ResponseBody.Body)
		entry.Response.BodySize = len(e.ResponseBody.Body)
		entry.Response.Content.Text = base64.StdEncoding.EncodeToString(e.ResponseBody.Body)
		entry.Response.Content.Encoding = "base64"
	}

	entry.Timings = buildTimings(e.Timing)
	entry.Time = totalTime(entry.Timings)
	return entry
}

func buildTimings(raw []byte) Timings {
	if len(raw) == 0 {
		return Timings{Blocked: -1, DNS: -1, Connect: -1, SSL: -1, Send: -1, Wait: -1, Receive: -1}
	}
	var t resourceTiming
	if err := json.Unmarshal(raw, &t); err != nil {
		return Timings{Blocked: -1, DNS: -1, Connect: -1, SSL: -1, Send: -1, Wait: -1, Receive: -1}
	}

	wait := -1.0
	if t.SendEnd >= 0 && t.ReceiveHeadersEnd >= 0 {
		wait = t.ReceiveHeadersEnd - t.SendEnd
	}

	return Timings{
		Blocked: -1,
		DNS:     phaseOrUnmeasured(t.DNSStart, t.DNSEnd),
		Connect: phaseOrUnmeasured(t.ConnectStart, t.ConnectEnd),
		SSL:     phaseOrUnmeasured(t.SslStart, t.SslEnd),
		Send:    phaseOrUnmeasured(t.SendStart, t.SendEnd),
		Wait:    wait,
		Receive: -1,
	}
}

func phaseOrUnmeasured(start, end float64) float64 {
	if start < 0 || end < 0 {
		return -1
	}
	return end - start
}

func totalTime(t Timings) float64 {
	total := 0.0
	for _, v := range []float64{t.Blocked, t.DNS, t.Connect, t.SSL, t.Send, t.Wait, t.Receive} {
		if v > 0 {
			total += v
		}
	}
	return total
}

func headerPairs(headers map[string]string) []NameValuePair {
	pairs := make([]NameValuePair, 0, len(headers))
	for name, value := range headers {
		pairs = append(pairs, NameValuePair{Name: name, Value: value})
	}
	return pairs
}
