// Package pipeline implements the dispatch pipeline: an ordered sequence
// of interceptors wrapped around a terminal handler that resolves a
// service instance, invokes the bound method, and writes the outbound
// response.
package pipeline

import (
	"context"
	"reflect"

	"github.com/kestrel-rpc/jrpc/internal/catalog"
	"github.com/kestrel-rpc/jrpc/internal/rpc"
	"github.com/kestrel-rpc/jrpc/internal/service"
)

// State is the request's position in the pipeline's state machine.
// Transitions are monotonic: Received, Parsed, Bound, Executing, then
// either Responded or Dropped.
type State int

const (
	StateReceived State = iota
	StateParsed
	StateBound
	StateExecuting
	StateResponded
	StateDropped
)

// RequestContext is the ephemeral per-request value threaded through the
// interceptor chain and the terminal handler. It lives for exactly one
// pipeline traversal.
type RequestContext struct {
	Context context.Context

	Inbound  rpc.Message
	Session  *service.Session
	Instance reflect.Value

	// Descriptor and Args are set once the binder has run (state Bound
	// or later); both are nil/zero before that.
	Descriptor *catalog.Descriptor
	Args       []reflect.Value

	state    State
	response *rpc.Message
}

// State reports the request's current position in the pipeline's state
// machine.
func (rc *RequestContext) State() State { return rc.state }

// SetResponse installs (or replaces) the outbound response an
// interceptor or the terminal handler wants to send. Calling it does
// not by itself end the chain — an interceptor that sets a response and
// also invokes the continuation lets later interceptors see and further
// reshape it.
func (rc *RequestContext) SetResponse(m rpc.Message) {
	rc.response = &m
}

// Response returns the response currently staged for this request, or
// nil if none has been set yet.
func (rc *RequestContext) Response() *rpc.Message {
	return rc.response
}

// Cancelled reports whether the request's cancellation token has fired.
func (rc *RequestContext) Cancelled() bool {
	select {
	case <-rc.Context.Done():
		return true
	default:
		return false
	}
}
