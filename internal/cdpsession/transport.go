package cdpsession

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// transport owns the single WebSocket to a CDP page target. Reads happen on
// one goroutine (the inbound loop); writes are serialized through writeMu so
// two outbound frames never interleave.
type transport struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// dialTransport opens a WebSocket to a CDP page URL of the form
// ws://host:port/devtools/page/<targetId>.
func dialTransport(ctx context.Context, pageWSURL string, logger *slog.Logger) (*transport, error) {
	parsed, err := url.Parse(pageWSURL)
	if err != nil {
		return nil, fmt.Errorf("cdpsession: invalid page websocket url: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, pageWSURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Host": []string{parsed.Host}},
	})
	if err != nil {
		return nil, fmt.Errorf("cdpsession: dial %s: %w", pageWSURL, err)
	}
	conn.SetReadLimit(128 * 1024 * 1024)

	return &transport{conn: conn, logger: logger, closed: make(chan struct{})}, nil
}

// write sends one JSON text frame. Safe for concurrent callers.
func (t *transport) write(ctx context.Context, data []byte) error {
	select {
	case <-t.closed:
		return ErrNotConnected
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// read blocks for the next inbound JSON text frame. Returns ErrClosed once
// the transport has been closed by either peer.
func (t *transport) read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		select {
		case <-t.closed:
			return nil, ErrClosed
		default:
		}
		return nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return data, nil
}

// close shuts the WebSocket down. Idempotent.
func (t *transport) close() {
	t.closeOnce.Do(func() {
		close(t.closed)
		_ = t.conn.Close(websocket.StatusNormalClosure, "session finalizing")
	})
}
