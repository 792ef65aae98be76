package cdpsession

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the transport and command dispatcher. Callers
// should compare with errors.Is, since internal wrapping adds context.
var (
	ErrNotConnected = errors.New("cdpsession: not connected")
	ErrTimeout      = errors.New("cdpsession: timed out")
	ErrClosed       = errors.New("cdpsession: session closed")
	ErrBodyUnavail  = errors.New("cdpsession: response body unavailable")
	ErrContextLost  = errors.New("cdpsession: execution context lost")
	ErrInvalidFrame = errors.New("cdpsession: invalid envelope")
	ErrCallbackFail = errors.New("cdpsession: event callback failed")
)

// ProtocolError wraps a CDP error reply ({code, message}).
type ProtocolError struct {
	Code    int
	Message string
	Method  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("cdpsession: %s: protocol error %d: %s", e.Method, e.Code, e.Message)
}

// isContextLost reports whether err is the specific "execution context
// cleared by navigation" error CDP returns for stale objectIds. These are
// expected during navigation and must never be logged at warning level.
func isContextLost(err error) bool {
	if err == nil {
		return false
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		if perr.Code == -32000 {
			return true
		}
		if containsFold(perr.Message, "cannot find context") || containsFold(perr.Message, "context with specified id") {
			return true
		}
	}
	return containsFold(err.Error(), "cannot find context")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
