package cdpsession

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// cdpCommand is the shape a fake CDP server decodes inbound frames into.
type cdpCommand struct {
	ID        uint64          `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	SessionID string          `json:"sessionId"`
}

// newFakeCDPServer runs a websocket server that decodes every inbound frame
// and hands it to respond; a non-nil return value is written back verbatim.
func newFakeCDPServer(t *testing.T, respond func(cmd cdpCommand) []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var cmd cdpCommand
			if json.Unmarshal(data, &cmd) != nil {
				continue
			}
			out := respond(cmd)
			if out == nil {
				continue
			}
			if c.Write(ctx, websocket.MessageText, out) != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testWSURL(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	return u.String()
}

func dialTestTransport(t *testing.T, srv *httptest.Server) *transport {
	t.Helper()
	tr, err := dialTransport(context.Background(), testWSURL(t, srv), silentLogger())
	require.NoError(t, err)
	t.Cleanup(tr.close)
	return tr
}

func ackReply(id uint64) []byte {
	b, _ := json.Marshal(map[string]any{"id": id, "result": map[string]any{}})
	return b
}

// autoAckRespond replies to every command with an empty {} result.
func autoAckRespond(cmd cdpCommand) []byte {
	if cmd.ID == 0 {
		return nil
	}
	return ackReply(cmd.ID)
}

// pumpReplies reads frames off tr and forwards anything carrying a reply id
// to d.resolve, standing in for Session.routeFrame in dispatcher-only tests.
func pumpReplies(ctx context.Context, d *dispatcher, tr *transport) {
	for {
		data, err := tr.read(ctx)
		if err != nil {
			return
		}
		var env inboundEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		if env.isReply() {
			d.resolve(env.ID, env.Result, env.Error, "")
		}
	}
}
