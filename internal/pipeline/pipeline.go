package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/charmbracelet/log"

	"github.com/kestrel-rpc/jrpc/internal/catalog"
	"github.com/kestrel-rpc/jrpc/internal/rpc"
	"github.com/kestrel-rpc/jrpc/internal/service"
)

// AsyncResult is the value an asynchronous method delivers on its result
// channel: exactly one of Value/Err applies, matching a Response's
// result/error exclusivity.
type AsyncResult struct {
	Value any
	Err   error
}

// Options configures a Pipeline.
type Options struct {
	// PropagateHandlerExceptionDetail controls whether a handler error's
	// text is carried in the InternalError response's Data field.
	PropagateHandlerExceptionDetail bool

	// Logger receives the debug lines for failures that produce no
	// response, notably notification handler errors. Defaults to
	// log.Default().
	Logger *log.Logger
}

// Pipeline is the ordered interceptor chain wrapped around the terminal
// handler.
type Pipeline struct {
	catalog      *catalog.Catalog
	factory      service.Factory
	session      *service.Session
	interceptors []Interceptor
	opts         Options
}

// New builds a Pipeline. interceptors run in the order given.
func New(cat *catalog.Catalog, factory service.Factory, sess *service.Session, interceptors []Interceptor, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Pipeline{
		catalog:      cat,
		factory:      factory,
		session:      sess,
		interceptors: interceptors,
		opts:         opts,
	}
}

// Dispatch runs one inbound message through the pipeline and returns the
// outbound response, or nil for a notification or a request consumed by
// an interceptor with no response set. Handler failures never surface as
// Go errors here — they are encoded as an error response: the handler's
// own *rpc.Error when it returned one, InternalError otherwise.
func (p *Pipeline) Dispatch(ctx context.Context, msg rpc.Message) *rpc.Message {
	rc := &RequestContext{
		Context: ctx,
		Inbound: msg,
		Session: p.session,
		state:   StateReceived,
	}

	chain := buildChain(p.interceptors, p.terminalHandler)
	if err := chain(rc); err != nil {
		// An interceptor returned an error without setting its own
		// response: surface it as InternalError so the caller always
		// gets a well-formed response for requests.
		if msg.IsNotification() {
			p.opts.Logger.Debug("notification interceptor failed", "method", msg.Method(), "error", err)
		} else if rc.response == nil {
			rc.SetResponse(rpc.NewErrorResponse(msg.ID(), p.internalError(err)))
		}
	}

	if msg.IsNotification() {
		rc.state = StateDropped
		return nil
	}
	if rc.response == nil {
		rc.state = StateDropped
		return nil
	}
	rc.state = StateResponded
	return rc.response
}

func (p *Pipeline) internalError(err error) *rpc.Error {
	var data any
	if p.opts.PropagateHandlerExceptionDetail {
		data = err.Error()
	}
	return rpc.NewError(rpc.CodeInternalError, "Internal error", data)
}

// terminalHandler resolves a service instance, binds params, invokes the
// method, and writes the response into rc.
func (p *Pipeline) terminalHandler(rc *RequestContext) (resultErr error) {
	if rc.Cancelled() {
		return nil // no response for a cancelled request unless an interceptor already set one
	}

	msg := rc.Inbound
	rc.state = StateParsed

	desc, args, rpcErr := catalog.Bind(p.catalog, msg.Method(), msg.Params())
	if rpcErr != nil {
		if msg.IsNotification() {
			p.opts.Logger.Debug("notification dropped", "method", msg.Method(), "error", rpcErr)
		} else {
			rc.SetResponse(rpc.NewErrorResponse(msg.ID(), rpcErr))
		}
		return nil
	}
	rc.Descriptor = desc
	rc.Args = args
	rc.state = StateBound

	instance, err := p.factory.New(desc.ServiceName, desc.ReceiverType)
	if err != nil {
		return fmt.Errorf("pipeline: service factory: %w", err)
	}
	rc.Instance = instance
	defer p.factory.Release(desc.ServiceName, instance)

	clearSession := attachSession(instance, p.session)
	defer clearSession()

	method := instance.MethodByName(desc.MethodName)
	if !method.IsValid() {
		return fmt.Errorf("pipeline: instance has no method %q", desc.MethodName)
	}

	defer func() {
		if r := recover(); r != nil {
			resultErr = fmt.Errorf("pipeline: handler panic: %v", r)
		}
	}()

	rc.state = StateExecuting
	callArgs := make([]reflect.Value, 0, len(args)+1)
	callArgs = append(callArgs, reflect.ValueOf(rc.Context))
	callArgs = append(callArgs, args...)
	results := method.Call(callArgs)

	value, callErr := p.resolveResult(rc.Context, desc.Return, results)
	if callErr != nil {
		if msg.IsNotification() {
			p.opts.Logger.Debug("notification handler failed", "method", msg.Method(), "error", callErr)
		} else {
			rc.SetResponse(rpc.NewErrorResponse(msg.ID(), p.handlerError(callErr)))
		}
		return nil
	}

	if msg.IsNotification() {
		return nil
	}

	raw, err := marshalResult(value)
	if err != nil {
		rc.SetResponse(rpc.NewErrorResponse(msg.ID(), p.internalError(err)))
		return nil
	}
	rc.SetResponse(rpc.NewResultResponse(msg.ID(), raw))
	return nil
}

func (p *Pipeline) handlerError(err error) *rpc.Error {
	if rpcErr, ok := err.(*rpc.Error); ok {
		return rpcErr
	}
	return p.internalError(err)
}

// resolveResult interprets a bound method's return values according to
// the descriptor's return shape, awaiting the async channel when
// present and respecting cancellation while doing so.
func (p *Pipeline) resolveResult(ctx context.Context, shape catalog.ReturnShape, results []reflect.Value) (any, error) {
	switch shape {
	case catalog.ReturnVoid:
		if err := errAt(results, len(results)-1); err != nil {
			return nil, err
		}
		return nil, nil

	case catalog.ReturnSync:
		if err := errAt(results, len(results)-1); err != nil {
			return nil, err
		}
		return results[0].Interface(), nil

	case catalog.ReturnAsync:
		if err := errAt(results, len(results)-1); err != nil {
			return nil, err
		}
		ch, ok := results[0].Interface().(<-chan AsyncResult)
		if !ok {
			return nil, fmt.Errorf("pipeline: async method did not return <-chan pipeline.AsyncResult")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-ch:
			return r.Value, r.Err
		}

	default:
		return nil, fmt.Errorf("pipeline: unknown return shape %d", shape)
	}
}

var sessionPtrType = reflect.TypeOf((*service.Session)(nil))

// attachSession sets the ambient session on an exported Session field of
// the resolved instance, when one of the right type exists, and returns
// the func that clears it once the bound method has run. Instances
// without such a field read the session off the RequestContext instead.
func attachSession(instance reflect.Value, sess *service.Session) func() {
	v := instance
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return func() {}
	}
	f := v.FieldByName("Session")
	if !f.IsValid() || !f.CanSet() || f.Type() != sessionPtrType {
		return func() {}
	}
	f.Set(reflect.ValueOf(sess))
	return func() { f.Set(reflect.Zero(sessionPtrType)) }
}

func errAt(results []reflect.Value, i int) error {
	if i < 0 || i >= len(results) {
		return nil
	}
	v := results[i]
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}

func marshalResult(value any) ([]byte, error) {
	if value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(value)
}
