// Package rpcclient implements the client-side half of the engine: outbound
// request/notification emission, correlation of responses by id, and
// timeout/cancellation handling.
package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kestrel-rpc/jrpc/internal/rpc"
)

// Result is the outcome of a completed call: exactly one of Value/Err
// applies.
type Result struct {
	Value json.RawMessage
	Err   error
}

// InboundHandler receives messages the client's read loop could not
// correlate to a pending call: server-initiated requests/notifications.
// Responses for unknown (already-completed or never-issued) ids are
// dropped by the read loop and never reach it.
type InboundHandler func(msg rpc.Message)

// Options configures a Client.
type Options struct {
	DefaultTimeout time.Duration
	Logger         *log.Logger
	OnInbound      InboundHandler
}

type pending struct {
	done chan Result
}

// Client is a bidirectional JSON-RPC client over a framed stream: it
// writes outbound Requests/Notifications and demultiplexes inbound
// Responses by id onto waiting callers.
type Client struct {
	writer *rpc.FrameWriter
	reader *rpc.FrameReader
	logger *log.Logger

	defaultTimeout time.Duration
	onInbound      InboundHandler

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pending
	closed  bool
	doneCh  chan struct{}
}

// New wraps a pair of byte streams (already split into a FrameReader and
// a FrameWriter by the caller) as a Client and starts its background read
// loop. The read loop runs until ctx is done or the transport fails.
func New(ctx context.Context, reader *rpc.FrameReader, writer *rpc.FrameWriter, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{
		writer:         writer,
		reader:         reader,
		logger:         logger,
		defaultTimeout: opts.DefaultTimeout,
		onInbound:      opts.OnInbound,
		pending:        make(map[uint64]*pending),
		doneCh:         make(chan struct{}),
	}
	go c.readLoop(ctx)
	return c
}

// Done returns a channel closed once the client's read loop has exited,
// for callers that want to observe transport termination.
func (c *Client) Done() <-chan struct{} { return c.doneCh }

// SendRequest allocates a fresh RequestId, writes the framed Request, and
// blocks until the matching Response arrives, the context is cancelled,
// or timeout elapses (0 means use the client's DefaultTimeout; a
// DefaultTimeout of 0 means no timeout).
func (c *Client) SendRequest(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: marshal params: %w", err)
	}

	if timeout == 0 {
		timeout = c.defaultTimeout
	}

	id, p, err := c.register()
	if err != nil {
		return nil, err
	}

	msg := rpc.NewRequest(rpc.IntID(id), method, raw)
	if err := c.writer.Write(msg); err != nil {
		c.cancel(id)
		return nil, fmt.Errorf("rpcclient: write request: %w", err)
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-p.done:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Value, nil
	case <-ctx.Done():
		c.cancel(id)
		c.logger.Debug("request cancelled", "method", method, "id", id)
		return nil, rpc.NewError(rpc.CodeCancelled, "request cancelled", nil)
	case <-timeoutCh:
		c.cancel(id)
		c.logger.Debug("request timed out", "method", method, "id", id, "timeout", timeout)
		return nil, rpc.NewError(rpc.CodeTimeout, "request timed out", nil)
	case <-c.doneCh:
		return nil, rpc.NewError(rpc.CodeTransport, "connection closed", nil)
	}
}

// SendNotification writes a Notification and returns once the bytes are
// flushed; no id is allocated and no response is awaited.
func (c *Client) SendNotification(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("rpcclient: marshal params: %w", err)
	}
	msg := rpc.NewNotification(method, raw)
	if err := c.writer.Write(msg); err != nil {
		return fmt.Errorf("rpcclient: write notification: %w", err)
	}
	return nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}

// register allocates the next id, rolling over to 1 (never 0) once the
// counter wraps, and inserts a completion slot for it. Ids already
// outstanding are never reused.
func (c *Client) register() (uint64, *pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, nil, rpc.NewError(rpc.CodeTransport, "connection closed", nil)
	}

	for {
		c.nextID++
		if c.nextID == 0 {
			c.nextID = 1
		}
		if _, taken := c.pending[c.nextID]; !taken {
			break
		}
	}
	id := c.nextID
	p := &pending{done: make(chan Result, 1)}
	c.pending[id] = p
	return id, p, nil
}

// cancel removes id's correlation slot, if still present, and signals
// cancellation to its (single) waiter. A late response for a cancelled
// id finds no slot and is discarded silently.
func (c *Client) cancel(id uint64) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		select {
		case p.done <- Result{Err: rpc.NewError(rpc.CodeCancelled, "request cancelled", nil)}:
		default:
		}
	}
}

// readLoop demultiplexes inbound frames: Responses complete correlation
// slots (unknown or already-resolved ids are dropped silently, so a late
// reply for a cancelled call has no effect); Requests and Notifications
// are handed to the configured InboundHandler, if any. Only a genuine
// transport failure (EndOfStream, UnexpectedEOF) ends the loop and
// completes every outstanding slot with CodeTransport; a malformed or
// oversized single inbound frame (InvalidFrame, DecodeError) is logged
// and skipped so other in-flight calls can still complete normally.
func (c *Client) readLoop(ctx context.Context) {
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, protoErr, err := c.reader.Read()
		if err != nil {
			if rpc.IsFatalReadError(err) || ctx.Err() != nil {
				c.logger.Debug("client transport read failed", "error", err)
				return
			}
			c.logger.Debug("client received malformed frame", "error", err)
			continue
		}
		if protoErr != nil {
			c.logger.Debug("client received malformed message", "error", protoErr)
			continue
		}

		if msg.Kind() == rpc.KindResponse {
			c.completeResponse(msg)
			continue
		}
		if c.onInbound != nil {
			c.onInbound(msg)
		}
	}
}

func (c *Client) completeResponse(msg rpc.Message) {
	id := msg.ID()
	if id.IsString() || !id.IsSet() {
		c.logger.Debug("client received response with non-numeric id", "id", id.String())
		return
	}

	c.mu.Lock()
	p, ok := c.pending[id.Num()]
	if ok {
		delete(c.pending, id.Num())
	}
	c.mu.Unlock()
	if !ok {
		return // unknown or cancelled id: discard silently
	}

	if errObj := msg.Err(); errObj != nil {
		p.done <- Result{Err: errObj}
		return
	}
	p.done <- Result{Value: msg.Result()}
}

// shutdown fires once the read loop exits for any reason: every
// outstanding correlation slot is completed with CodeTransport and the
// client is marked closed so subsequent SendRequest calls fail fast.
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	outstanding := c.pending
	c.pending = make(map[uint64]*pending)
	c.mu.Unlock()

	transportErr := rpc.NewError(rpc.CodeTransport, "connection closed", nil)
	for _, p := range outstanding {
		p.done <- Result{Err: transportErr}
	}
	close(c.doneCh)
}
