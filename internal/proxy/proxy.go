// Package proxy implements the method-table-driven client invocation
// surface: a dispatch table built at host build time from a declarative
// list of method signatures, indexed by declared-signature identity
// rather than generated source code.
package proxy

import (
	"context"
	"fmt"

	"github.com/kestrel-rpc/jrpc/internal/catalog"
	"github.com/kestrel-rpc/jrpc/internal/rpcclient"
)

// ErrNotSupported is returned by Invoke when the entry at the given index
// never resolved to a callable method.
var ErrNotSupported = fmt.Errorf("proxy: method not supported by this connection")

// Entry declares one signature a generated (or hand-written) facade wants
// to front. Name is checked with the Resolver passed to Build, if any,
// and sent as the method name; Return governs notification-vs-request
// selection and blocking behavior at Invoke time.
type Entry struct {
	Name   string
	Return catalog.ReturnShape
}

// slot is the resolved binding for one Entry: either a usable method name
// plus return shape, or nothing (NotSupported).
type slot struct {
	name      string
	ret       catalog.ReturnShape
	supported bool
}

// Table is a vtable-like structure: a fixed-size array of slots indexed
// by the position an Entry held in the declaration passed to Build. A
// generated facade fronts one of these rather than generated call sites.
type Table struct {
	client *rpcclient.Client
	slots  []slot
}

// Resolver reports whether name is callable on the far end of the
// connection the Table will drive, letting Build decide which entries
// resolve. The caller of Build supplies it (for example a lookup backed
// by a local catalog, or a static allow-list); the remote peer's catalog
// is never introspected over the wire.
type Resolver func(name string) bool

// Build constructs a Table bound to client. Every entry is considered
// supported unless resolve is non-nil and returns false for its name;
// unsupported entries produce ErrNotSupported only when actually invoked,
// never at Build time.
func Build(client *rpcclient.Client, entries []Entry, resolve Resolver) *Table {
	slots := make([]slot, len(entries))
	for i, e := range entries {
		supported := true
		if resolve != nil {
			supported = resolve(e.Name)
		}
		slots[i] = slot{name: e.Name, ret: e.Return, supported: supported}
	}
	return &Table{client: client, slots: slots}
}

// Async is the handle returned for ReturnAsync entries: a future the
// caller can block on at its own pace.
type Async struct {
	ch <-chan asyncResult
}

type asyncResult struct {
	value any
	err   error
}

// Wait blocks until the asynchronous call completes.
func (a *Async) Wait() (any, error) {
	r := <-a.ch
	return r.value, r.err
}

// Invoke packs args as the positional params of the index'th entry and
// dispatches it:
//  1. a ReturnVoid entry is sent as a Notification and Invoke returns
//     (nil, nil) once the bytes are flushed;
//  2. a ReturnSync entry blocks on the send and returns its decoded
//     result;
//  3. a ReturnAsync entry returns immediately with an *Async the caller
//     awaits separately.
func (t *Table) Invoke(ctx context.Context, index int, decode func(raw []byte) (any, error), args ...any) (any, error) {
	if index < 0 || index >= len(t.slots) {
		return nil, fmt.Errorf("proxy: index %d out of range", index)
	}
	s := t.slots[index]
	if !s.supported {
		return nil, ErrNotSupported
	}

	switch s.ret {
	case catalog.ReturnVoid:
		if err := t.client.SendNotification(s.name, args); err != nil {
			return nil, err
		}
		return nil, nil

	case catalog.ReturnSync:
		raw, err := t.client.SendRequest(ctx, s.name, args, 0)
		if err != nil {
			return nil, err
		}
		if decode == nil {
			return raw, nil
		}
		return decode(raw)

	case catalog.ReturnAsync:
		ch := make(chan asyncResult, 1)
		go func() {
			raw, err := t.client.SendRequest(ctx, s.name, args, 0)
			if err != nil {
				ch <- asyncResult{err: err}
				return
			}
			if decode == nil {
				ch <- asyncResult{value: raw}
				return
			}
			v, decErr := decode(raw)
			ch <- asyncResult{value: v, err: decErr}
		}()
		return &Async{ch: ch}, nil

	default:
		return nil, fmt.Errorf("proxy: unknown return shape %d", s.ret)
	}
}

// Len reports the number of declared entries in the table.
func (t *Table) Len() int { return len(t.slots) }
