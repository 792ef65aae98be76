package cdpsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v5"
	"golang.org/x/sync/singleflight"
)

// waiter is the one-shot completion slot a caller of sendAndWait blocks on:
// request/reply correlation without coroutines.
type waiter struct {
	result chan replyOrError
}

type replyOrError struct {
	result json.RawMessage
	err    error
}

// dispatcher assigns sequence ids, writes envelopes, and correlates replies
// to waiters. It also tracks the enabled-domain set (idempotent enable) and
// the current page sessionId attached to every outbound command.
type dispatcher struct {
	t      *transport
	logger *slog.Logger

	nextID atomic.Uint64

	mu      sync.Mutex
	waiters map[uint64]*waiter

	sessionMu sync.Mutex
	sessionID string

	domainsMu   sync.Mutex
	enabled     map[string]struct{}
	enableGroup singleflight.Group
}

func newDispatcher(t *transport, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		t:       t,
		logger:  logger,
		waiters: make(map[uint64]*waiter),
		enabled: make(map[string]struct{}),
	}
}

// setSessionID stores the page session id attached to every subsequent
// outbound command.
func (d *dispatcher) setSessionID(id string) {
	d.sessionMu.Lock()
	d.sessionID = id
	d.sessionMu.Unlock()
}

// clearSessionID undoes setSessionID (Target.detachedFromTarget).
func (d *dispatcher) clearSessionID() {
	d.sessionMu.Lock()
	d.sessionID = ""
	d.sessionMu.Unlock()
}

func (d *dispatcher) currentSessionID() string {
	d.sessionMu.Lock()
	defer d.sessionMu.Unlock()
	return d.sessionID
}

// send assigns the next id, serializes and writes the envelope, and returns
// without waiting for a reply.
func (d *dispatcher) send(ctx context.Context, method string, params any) (uint64, error) {
	id := d.nextID.Add(1)
	data, err := d.marshalEnvelope(id, method, params)
	if err != nil {
		return 0, err
	}
	if err := d.t.write(ctx, data); err != nil {
		return 0, err
	}
	return id, nil
}

// sendAndWait sends a command and blocks until its reply arrives, the
// timeout elapses, or the transport closes — exactly one of those resolves
// the waiter.
func (d *dispatcher) sendAndWait(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := d.nextID.Add(1)
	data, err := d.marshalEnvelope(id, method, params)
	if err != nil {
		return nil, err
	}

	w := &waiter{result: make(chan replyOrError, 1)}
	d.mu.Lock()
	d.waiters[id] = w
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.waiters, id)
		d.mu.Unlock()
	}()

	if timeout <= 0 {
		return nil, fmt.Errorf("%s: %w", method, ErrTimeout)
	}

	if err := d.t.write(ctx, data); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case roe := <-w.result:
		return roe.result, roe.err
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", method, ErrTimeout)
	case <-d.t.closed:
		return nil, fmt.Errorf("%s: %w", method, ErrClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *dispatcher) marshalEnvelope(id uint64, method string, params any) ([]byte, error) {
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("cdpsession: marshal params for %s: %w", method, err)
		}
		raw = b
	}
	env := commandEnvelope{
		ID:        id,
		Method:    method,
		Params:    raw,
		SessionID: d.currentSessionID(),
	}
	return json.Marshal(env)
}

// resolve is called by the Coordinator's inbound loop for any frame that
// carries an id. A late reply (no matching waiter, because it already timed
// out) is dropped with a debug log.
func (d *dispatcher) resolve(id uint64, result json.RawMessage, protoErr *inboundCDPError, method string) {
	d.mu.Lock()
	w, ok := d.waiters[id]
	delete(d.waiters, id)
	d.mu.Unlock()

	if !ok {
		d.logger.Debug("late or unknown reply dropped", "id", id)
		return
	}

	if protoErr != nil {
		w.result <- replyOrError{err: &ProtocolError{Code: protoErr.Code, Message: protoErr.Message, Method: method}}
		return
	}
	w.result <- replyOrError{result: result}
}

// closeAll resolves every outstanding waiter with ErrClosed, cascading
// shutdown through the pending-reply table.
func (d *dispatcher) closeAll() {
	d.mu.Lock()
	waiters := d.waiters
	d.waiters = make(map[uint64]*waiter)
	d.mu.Unlock()

	for _, w := range waiters {
		w.result <- replyOrError{err: ErrClosed}
	}
}

// enableDomain is idempotent: a second call for the same domain never puts
// a second "<Domain>.enable" command on the wire, even when two monitors
// (e.g. Network and Storage both enabling "Network") call it concurrently —
// concurrent calls for the same domain name are coalesced by enableGroup so
// only one of them ever reaches sendAndWait; the rest share its result.
// Transient Timeouts (e.g. during browser startup) are retried, up to three
// attempts in all, before being surfaced; any other error is returned at once.
func (d *dispatcher) enableDomain(ctx context.Context, name string, params any, timeout time.Duration) error {
	if d.isDomainEnabled(name) {
		return nil
	}

	_, err, _ := d.enableGroup.Do(name, func() (any, error) {
		if d.isDomainEnabled(name) {
			return nil, nil
		}

		err := retry.Do(
			func() error {
				_, err := d.sendAndWait(ctx, name+".enable", params, timeout)
				return err
			},
			retry.Attempts(3),
			retry.Delay(100*time.Millisecond),
			retry.RetryIf(func(err error) bool {
				return errors.Is(err, ErrTimeout)
			}),
		)
		if err != nil {
			return nil, err
		}

		d.domainsMu.Lock()
		d.enabled[name] = struct{}{}
		d.domainsMu.Unlock()
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("enable domain %s: %w", name, err)
	}
	return nil
}

func (d *dispatcher) isDomainEnabled(name string) bool {
	d.domainsMu.Lock()
	defer d.domainsMu.Unlock()
	_, ok := d.enabled[name]
	return ok
}
