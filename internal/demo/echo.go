// Package demo provides a small service used to exercise the jrpc engine
// end to end over stdio. It registers echo (a single synchronous call),
// add (a two-overload set disambiguated by arity), ping (a void method
// callable as a notification), and slow (an asynchronous call used to
// exercise client-side timeouts).
package demo

import (
	"context"
	"reflect"
	"time"

	"github.com/kestrel-rpc/jrpc/internal/catalog"
	"github.com/kestrel-rpc/jrpc/internal/pipeline"
)

// EchoService is the demo's only registered service type.
type EchoService struct{}

// Echo returns x unchanged.
func (EchoService) Echo(_ context.Context, x string) (string, error) {
	return x, nil
}

// AddOne is the one-argument overload of "add": it returns a unchanged.
func (EchoService) AddOne(_ context.Context, a int) (int, error) {
	return a, nil
}

// AddTwo is the two-argument overload of "add": it returns a+b.
func (EchoService) AddTwo(_ context.Context, a, b int) (int, error) {
	return a + b, nil
}

// Ping is a void-return method meant to be called as a notification: it
// is dispatched like any other method but produces zero outbound bytes.
func (EchoService) Ping(_ context.Context) error {
	return nil
}

// Slow sleeps for ms milliseconds before completing, or completes early
// with ctx's error if the caller cancels first. It is asynchronous: the
// dispatch pipeline awaits its result channel, so a client can exercise
// its timeout path against it.
func (EchoService) Slow(ctx context.Context, ms int) (<-chan pipeline.AsyncResult, error) {
	ch := make(chan pipeline.AsyncResult, 1)
	go func() {
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			ch <- pipeline.AsyncResult{Value: "done"}
		case <-ctx.Done():
			ch <- pipeline.AsyncResult{Err: ctx.Err()}
		}
	}()
	return ch, nil
}

var stringType = reflect.TypeOf("")
var intType = reflect.TypeOf(0)

// Descriptor returns the ServiceDescriptor and receiver prototype to pass
// to host.Builder.Register for EchoService.
func Descriptor() (reflect.Value, catalog.ServiceDescriptor) {
	svc := catalog.ServiceDescriptor{
		Name: "EchoService",
		Methods: []catalog.Entry{
			{
				RPCName:    "echo",
				MethodName: "Echo",
				Params:     []catalog.Param{{Name: "x", Type: stringType}},
				Return:     catalog.ReturnSync,
			},
			{
				RPCName:    "add",
				MethodName: "AddOne",
				Params:     []catalog.Param{{Name: "a", Type: intType}},
				Return:     catalog.ReturnSync,
			},
			{
				RPCName:    "add",
				MethodName: "AddTwo",
				Params:     []catalog.Param{{Name: "a", Type: intType}, {Name: "b", Type: intType}},
				Return:     catalog.ReturnSync,
			},
			{
				RPCName:    "ping",
				MethodName: "Ping",
				Return:     catalog.ReturnVoid,
			},
			{
				RPCName:    "slow",
				MethodName: "Slow",
				Params:     []catalog.Param{{Name: "ms", Type: intType}},
				Return:     catalog.ReturnAsync,
			},
		},
	}
	return reflect.ValueOf(EchoService{}), svc
}
