package host_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/nalgeon/be"

	"github.com/kestrel-rpc/jrpc/internal/demo"
	"github.com/kestrel-rpc/jrpc/internal/host"
	"github.com/kestrel-rpc/jrpc/internal/pipeline"
	"github.com/kestrel-rpc/jrpc/internal/rpc"
)

func startDemoHost(t *testing.T, opts ...host.Option) *rpcClientPair {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		_ = serverConn.Close()
		_ = clientConn.Close()
	})

	b := host.NewBuilder(opts...)
	prototype, svc := demo.Descriptor()
	be.Err(t, b.Register(prototype, svc), nil)

	h := b.Build(t.Context(), serverConn)
	t.Cleanup(func() { _ = h.Stop(time.Second) })

	client := host.Connect(t.Context(), clientConn, clientConn)
	return &rpcClientPair{client: client}
}

type rpcClientPair struct {
	client interface {
		SendRequest(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)
		SendNotification(method string, params any) error
	}
}

func TestEndToEndEcho(t *testing.T) {
	t.Parallel()
	p := startDemoHost(t)

	raw, err := p.client.SendRequest(t.Context(), "echo", []string{"hi"}, time.Second)
	be.Err(t, err, nil)
	be.Equal(t, string(raw), `"hi"`)
}

func TestEndToEndUnknownMethod(t *testing.T) {
	t.Parallel()
	p := startDemoHost(t)

	_, err := p.client.SendRequest(t.Context(), "nope", nil, time.Second)
	be.True(t, err != nil)
	rpcErr, ok := err.(*rpc.Error)
	be.True(t, ok)
	be.Equal(t, rpcErr.Code, rpc.CodeMethodNotFound)
}

func TestEndToEndOverloadResolution(t *testing.T) {
	t.Parallel()
	p := startDemoHost(t)

	raw, err := p.client.SendRequest(t.Context(), "add", []int{1, 2}, time.Second)
	be.Err(t, err, nil)
	be.Equal(t, string(raw), "3")

	raw, err = p.client.SendRequest(t.Context(), "add", []int{5}, time.Second)
	be.Err(t, err, nil)
	be.Equal(t, string(raw), "5")

	_, err = p.client.SendRequest(t.Context(), "add", []int{}, time.Second)
	be.True(t, err != nil)
	rpcErr, ok := err.(*rpc.Error)
	be.True(t, ok)
	be.Equal(t, rpcErr.Code, rpc.CodeInvalidParams)
}

func TestEndToEndNotificationProducesNoResponseBytes(t *testing.T) {
	t.Parallel()

	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		_ = serverConn.Close()
		_ = clientConn.Close()
	})

	b := host.NewBuilder()
	prototype, svc := demo.Descriptor()
	be.Err(t, b.Register(prototype, svc), nil)

	h := b.Build(t.Context(), serverConn)
	t.Cleanup(func() { _ = h.Stop(time.Second) })

	rawWriter := rpc.NewFrameWriter(clientConn)
	rawReader := rpc.NewFrameReader(clientConn, 0)

	be.Err(t, rawWriter.Write(rpc.NewNotification("ping", nil)), nil)

	// The raw wire is read directly: had the notification produced a
	// frame, it would be read here ahead of the echo response.
	be.Err(t, rawWriter.Write(rpc.NewRequest(rpc.IntID(7), "echo", json.RawMessage(`["after"]`))), nil)
	resp, protoErr, err := rawReader.Read()
	be.Err(t, err, nil)
	be.Equal(t, protoErr, nil)
	be.True(t, resp.ID().Equal(rpc.IntID(7)))
	be.Equal(t, string(resp.Result()), `"after"`)
}

func TestEndToEndClientTimeoutOnSlowMethod(t *testing.T) {
	t.Parallel()
	p := startDemoHost(t)

	_, err := p.client.SendRequest(t.Context(), "slow", []int{200}, 20*time.Millisecond)
	be.True(t, err != nil)
	rpcErr, ok := err.(*rpc.Error)
	be.True(t, ok)
	be.Equal(t, rpcErr.Code, rpc.CodeTimeout)
}

func TestInterceptorReshapesResponse(t *testing.T) {
	t.Parallel()

	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		_ = serverConn.Close()
		_ = clientConn.Close()
	})

	b := host.NewBuilder()
	prototype, svc := demo.Descriptor()
	be.Err(t, b.Register(prototype, svc), nil)
	b.Intercept(pipeline.InterceptorFunc(func(rc *pipeline.RequestContext, next pipeline.Next) error {
		err := next()
		rc.SetResponse(rpc.NewResultResponse(rc.Inbound.ID(), []byte(`"intercepted"`)))
		return err
	}))

	h := b.Build(t.Context(), serverConn)
	t.Cleanup(func() { _ = h.Stop(time.Second) })

	client := host.Connect(t.Context(), clientConn, clientConn)
	raw, err := client.SendRequest(t.Context(), "echo", []string{"hi"}, time.Second)
	be.Err(t, err, nil)
	be.Equal(t, string(raw), `"intercepted"`)
}

func TestHostSurvivesMalformedFrameAndKeepsServingNextRequest(t *testing.T) {
	t.Parallel()

	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		_ = serverConn.Close()
		_ = clientConn.Close()
	})

	b := host.NewBuilder()
	prototype, svc := demo.Descriptor()
	be.Err(t, b.Register(prototype, svc), nil)

	h := b.Build(t.Context(), serverConn)
	t.Cleanup(func() { _ = h.Stop(time.Second) })

	rawWriter := rpc.NewFrameWriter(clientConn)
	rawReader := rpc.NewFrameReader(clientConn, 0)

	// Content-Length declares a body that never decodes as JSON: the
	// transport frame itself is well-formed, but DecodeError is a
	// per-message failure, not a transport death.
	malformed := []byte("not json at all")
	be.Err(t, writeRawFrame(clientConn, malformed), nil)

	resp, protoErr, err := rawReader.Read()
	be.Err(t, err, nil)
	be.Equal(t, protoErr, nil)
	be.Equal(t, resp.Kind(), rpc.KindResponse)
	be.True(t, resp.Err() != nil)
	be.Equal(t, resp.Err().Code, rpc.CodeParseError)
	be.Equal(t, resp.ID().IsSet(), false)

	// The connection is still alive: a following well-formed request gets
	// a normal response.
	id := rpc.IntID(99)
	be.Err(t, rawWriter.Write(rpc.NewRequest(id, "echo", json.RawMessage(`["still alive"]`))), nil)

	resp, protoErr, err = rawReader.Read()
	be.Err(t, err, nil)
	be.Equal(t, protoErr, nil)
	be.Equal(t, string(resp.Result()), `"still alive"`)
}

// writeRawFrame writes a Content-Length-framed body verbatim, bypassing
// rpc.EncodeMessage, so a non-JSON or otherwise malformed body can be
// placed on the wire for transport-layer error-path tests.
func writeRawFrame(w io.Writer, body []byte) error {
	header := "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n"
	if _, err := w.Write([]byte(header)); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func TestStopReturnsBeforeGraceWhenIdle(t *testing.T) {
	t.Parallel()

	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close() })

	b := host.NewBuilder()
	prototype, svc := demo.Descriptor()
	be.Err(t, b.Register(prototype, svc), nil)
	h := b.Build(t.Context(), serverConn)

	// With no requests in flight the drain completes immediately; only a
	// busy host should ever sit out the grace period.
	start := time.Now()
	_ = h.Stop(30 * time.Second)
	be.True(t, time.Since(start) < 5*time.Second)
}

func TestPreserveForeignMethodOrderProcessesSequentially(t *testing.T) {
	t.Parallel()
	p := startDemoHost(t, host.WithPreserveForeignMethodOrder(true))

	raw, err := p.client.SendRequest(t.Context(), "echo", []string{"a"}, time.Second)
	be.Err(t, err, nil)
	be.Equal(t, string(raw), `"a"`)

	raw, err = p.client.SendRequest(t.Context(), "echo", []string{"b"}, time.Second)
	be.Err(t, err, nil)
	be.Equal(t, string(raw), `"b"`)
}
