// Package eventlog is the external file-writer collaborator a Session's
// events are handed to — the core itself persists nothing. Writer appends
// one JSON line per capture event to a local file, optionally
// zstd-compressing large response bodies inline before they are written.
package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/vectorly/cdpcapture/internal/cdpsession"
)

// CompressionLevel names a zstd speed/ratio tradeoff for inline body
// compression.
type CompressionLevel string

const (
	LevelFastest CompressionLevel = "fastest"
	LevelDefault CompressionLevel = "default"
	LevelBetter  CompressionLevel = "better"
	LevelBest    CompressionLevel = "best"
)

func (l CompressionLevel) toZstdLevel() zstd.EncoderLevel {
	switch l {
	case LevelFastest:
		return zstd.SpeedFastest
	case LevelBetter:
		return zstd.SpeedBetterCompression
	case LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// bodyCompressionThreshold is the smallest response body eventlog will
// bother compressing; smaller bodies cost more in zstd framing overhead
// than they save.
const bodyCompressionThreshold = 4096

// record is the on-disk JSONL shape: a category tag alongside the typed
// event payload.
type record struct {
	Category cdpsession.EventCategory `json:"category"`
	Event    any                      `json:"event"`
}

// Writer appends newline-delimited JSON records to a single file. Safe for
// concurrent use by multiple monitor callbacks.
type Writer struct {
	mu    sync.Mutex
	f     *os.File
	enc   *json.Encoder
	level CompressionLevel
}

// NewWriter opens (creating if necessary) path for appending. Any missing
// parent directories are created.
func NewWriter(path string, level CompressionLevel) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: create directory for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %q: %w", path, err)
	}
	return &Writer{f: f, enc: json.NewEncoder(f), level: level}, nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// OnEvent is a cdpsession.EventCallback: it appends one JSONL record per
// event. Large network response bodies are compressed inline first.
func (w *Writer) OnEvent(category cdpsession.EventCategory, event any) error {
	if ne, ok := event.(cdpsession.NetworkTransactionEvent); ok {
		if compacted, err := w.compressBodyIfLarge(ne); err == nil {
			event = compacted
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(record{Category: category, Event: event}); err != nil {
		return fmt.Errorf("eventlog: write record: %w", err)
	}
	return nil
}

func (w *Writer) compressBodyIfLarge(e cdpsession.NetworkTransactionEvent) (cdpsession.NetworkTransactionEvent, error) {
	if e.ResponseBody == nil || len(e.ResponseBody.Body) < bodyCompressionThreshold {
		return e, nil
	}
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(w.level.toZstdLevel()))
	if err != nil {
		return e, err
	}
	if _, err := zw.Write(e.ResponseBody.Body); err != nil {
		zw.Close()
		return e, err
	}
	if err := zw.Close(); err != nil {
		return e, err
	}

	compressed := buf.Bytes()
	if len(compressed) >= len(e.ResponseBody.Body) {
		return e, nil
	}

	body := *e.ResponseBody
	body.Body = compressed
	body.Base64Encoded = true
	e.ResponseBody = &body
	return e, nil
}

// ReadAllNetworkEvents re-reads a JSONL file and returns every network
// transaction record it contains, for feeding internal/harproj post hoc.
func ReadAllNetworkEvents(ctx context.Context, path string) ([]cdpsession.NetworkTransactionEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %q: %w", path, err)
	}
	defer f.Close()

	var out []cdpsession.NetworkTransactionEvent
	dec := json.NewDecoder(f)
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		var raw struct {
			Category cdpsession.EventCategory           `json:"category"`
			Event    cdpsession.NetworkTransactionEvent `json:"event"`
		}
		if err := dec.Decode(&raw); err != nil {
			return out, fmt.Errorf("eventlog: decode record: %w", err)
		}
		if raw.Category == cdpsession.CategoryNetwork {
			out = append(out, raw.Event)
		}
	}
	return out, nil
}
