// Package host implements the composition roots: Builder wires a method
// catalog, the interceptor chain, a service factory, and a transport
// into a running Host; Connect (client.go) is the client-side analogue
// wiring an rpcclient.Client.
package host

import (
	"context"
	"io"
	"reflect"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kestrel-rpc/jrpc/internal/catalog"
	"github.com/kestrel-rpc/jrpc/internal/pipeline"
	"github.com/kestrel-rpc/jrpc/internal/rpc"
	"github.com/kestrel-rpc/jrpc/internal/service"
)

// Option configures a Builder.
type Option func(*config)

type config struct {
	maxMessageBytes                 int64
	defaultCallTimeout              time.Duration
	preserveForeignMethodOrder      bool
	propagateHandlerExceptionDetail bool
	logger                          *log.Logger
	factory                         service.Factory
}

// WithMaxMessageBytes rejects inbound frames whose declared body length
// exceeds n with InvalidFrame.
func WithMaxMessageBytes(n int64) Option { return func(c *config) { c.maxMessageBytes = n } }

// WithDefaultCallTimeout records a default call budget in the Builder's
// configuration. It has no effect on the Builder's Host, which never
// originates outbound calls on its own; Connect takes its budget from
// WithClientDefaultTimeout instead.
func WithDefaultCallTimeout(d time.Duration) Option {
	return func(c *config) { c.defaultCallTimeout = d }
}

// WithPreserveForeignMethodOrder disables pipeline parallelism: requests
// are processed one at a time, in read order.
func WithPreserveForeignMethodOrder(v bool) Option {
	return func(c *config) { c.preserveForeignMethodOrder = v }
}

// WithPropagateHandlerExceptionDetail controls whether an InternalError
// response's Data field carries the handler error's text.
func WithPropagateHandlerExceptionDetail(v bool) Option {
	return func(c *config) { c.propagateHandlerExceptionDetail = v }
}

// WithLogger overrides the default (log.Default()) structured logger used
// for connection lifecycle, malformed or oversized inbound frames,
// response write failures, and failed notifications.
func WithLogger(logger *log.Logger) Option { return func(c *config) { c.logger = logger } }

// WithServiceFactory overrides the default per-request DefaultFactory,
// letting callers supply a pooling or dependency-injecting Factory.
func WithServiceFactory(f service.Factory) Option { return func(c *config) { c.factory = f } }

// Builder accumulates services and interceptors before producing a
// started Host.
type Builder struct {
	catalog      *catalog.Catalog
	interceptors []pipeline.Interceptor
	session      *service.Session
	cfg          config
}

// NewBuilder returns an empty Builder with default options applied.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		catalog: catalog.New(),
		session: service.NewSession(),
		cfg: config{
			factory: service.DefaultFactory{},
			logger:  log.Default(),
		},
	}
	for _, opt := range opts {
		opt(&b.cfg)
	}
	return b
}

// Register adds a service type to the catalog-to-be.
func (b *Builder) Register(prototype reflect.Value, svc catalog.ServiceDescriptor) error {
	return b.catalog.Register(prototype, svc)
}

// Intercept appends an asynchronous interceptor to the chain.
func (b *Builder) Intercept(i pipeline.Interceptor) *Builder {
	b.interceptors = append(b.interceptors, i)
	return b
}

// InterceptSync appends a synchronous interceptor, adapted onto the
// asynchronous contract via pipeline.FromSyncFunc.
func (b *Builder) InterceptSync(fn func(rc *pipeline.RequestContext)) *Builder {
	return b.Intercept(pipeline.FromSyncFunc(fn))
}

// Session returns the ambient session reference that will be handed to
// every RequestContext once the Host is built.
func (b *Builder) Session() *service.Session { return b.session }

// Build returns a started Host bound to rwc. The Host immediately begins
// reading frames in a background goroutine.
func (b *Builder) Build(ctx context.Context, rwc io.ReadWriteCloser) *Host {
	pl := pipeline.New(b.catalog, b.cfg.factory, b.session, b.interceptors, pipeline.Options{
		PropagateHandlerExceptionDetail: b.cfg.propagateHandlerExceptionDetail,
		Logger:                          b.cfg.logger,
	})

	hctx, cancel := context.WithCancel(ctx)
	h := &Host{
		rwc:       rwc,
		reader:    rpc.NewFrameReader(rwc, b.cfg.maxMessageBytes),
		writer:    rpc.NewFrameWriter(rwc),
		pipeline:  pl,
		logger:    b.cfg.logger,
		cancel:    cancel,
		serveDone: make(chan error, 1),
	}
	if b.cfg.preserveForeignMethodOrder {
		h.sequencer = semaphore.NewWeighted(1)
	}
	logger := b.cfg.logger
	h.writer.SetObserver(func(body []byte) {
		logger.Debug("outbound message", "bytes", len(body))
	})

	h.group, h.groupCtx = errgroup.WithContext(hctx)
	go func() { h.serveDone <- h.serve(h.groupCtx) }()
	return h
}

// Host is a running server: a framed transport, a dispatch pipeline, and
// the worker group driving concurrent request processing.
type Host struct {
	rwc    io.ReadWriteCloser
	reader *rpc.FrameReader
	writer *rpc.FrameWriter
	logger *log.Logger

	pipeline  *pipeline.Pipeline
	sequencer *semaphore.Weighted // non-nil iff sequential processing was requested

	// group tracks in-flight dispatches only; the transport loop runs
	// outside it and reports through serveDone, so draining requests
	// never has to wait for a Read that only a transport close unblocks.
	group     *errgroup.Group
	groupCtx  context.Context
	cancel    context.CancelFunc
	serveDone chan error
}

// serve reads frames until the transport fails or the host is stopped,
// dispatching each through the pipeline. Unless sequential processing was
// requested, requests are dispatched concurrently via the errgroup so one
// slow handler never blocks the read loop.
func (h *Host) serve(ctx context.Context) error {
	defer h.logger.Debug("host transport loop exiting")

	for {
		msg, protoErr, err := h.reader.Read()
		if err != nil {
			if rpc.IsFatalReadError(err) || ctx.Err() != nil {
				h.logger.Debug("host transport read ended", "error", err)
				return err
			}
			// ErrInvalidFrame (already resynced by FrameReader) and
			// ErrDecodeError are per-message failures, not transport death:
			// report ParseError with a null id and keep reading the stream.
			h.logger.Debug("host received malformed frame", "error", err)
			h.writeErrorResponse(rpc.NoID, rpc.ErrParseError)
			continue
		}
		if protoErr != nil {
			h.writeErrorResponse(rpc.NoID, protoErr)
			continue
		}

		h.dispatch(ctx, msg)
	}
}

func (h *Host) dispatch(ctx context.Context, msg rpc.Message) {
	run := func() {
		if h.sequencer != nil {
			if err := h.sequencer.Acquire(ctx, 1); err != nil {
				return
			}
			defer h.sequencer.Release(1)
		}

		resp := h.pipeline.Dispatch(ctx, msg)
		if resp == nil {
			return
		}
		if err := h.writer.Write(*resp); err != nil {
			h.logger.Error("failed to write response", "method", msg.Method(), "error", err)
		}
	}

	if h.sequencer != nil {
		run()
		return
	}
	h.group.Go(func() error {
		run()
		return nil
	})
}

// Wait blocks until the transport loop exits (remote EOF or error) and
// every in-flight request has been dispatched, then returns the loop's
// terminal error.
func (h *Host) Wait() error {
	err := <-h.serveDone
	h.serveDone <- err // keep the result available for Stop and repeat Waits
	_ = h.group.Wait()
	return err
}

func (h *Host) writeErrorResponse(id rpc.ID, err *rpc.Error) {
	resp := rpc.NewErrorResponse(id, err)
	if werr := h.writer.Write(resp); werr != nil {
		h.logger.Error("failed to write protocol error response", "error", werr)
	}
}

// Stop cancels the host's context, drains in-flight requests with the
// given grace period, then closes the underlying transport.
func (h *Host) Stop(grace time.Duration) error {
	h.cancel()

	drained := make(chan error, 1)
	go func() { drained <- h.group.Wait() }()

	select {
	case <-drained:
	case <-time.After(grace):
		h.logger.Debug("host stop grace period elapsed with requests still in flight")
	}

	// Closing the transport unblocks the loop's pending Read.
	err := h.rwc.Close()
	h.serveDone <- <-h.serveDone
	return err
}
