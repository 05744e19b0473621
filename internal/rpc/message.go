// Package rpc implements the wire-level pieces of a JSON-RPC 2.0 engine:
// the message model, the textual codec, and the Content-Length framed
// stream reader/writer. It has no knowledge of method catalogs, service
// instances, or dispatch — those live in sibling packages.
package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Standard JSON-RPC 2.0 error codes, plus a couple of implementation
// defined codes used only on the client side of this engine.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeTimeout and CodeCancelled are client-local: they never appear on
	// the wire, only as the Error carried by a completed correlation slot.
	CodeTimeout   = -31900
	CodeCancelled = -31901
	CodeTransport = -31902
)

// ID is a JSON-RPC request identifier: absent (a notification), an
// integer, or a string. IsSet tells absent from present and IsString
// tells string from integer; no coercion between integer and string is
// ever performed.
type ID struct {
	set      bool
	isString bool
	num      uint64
	str      string
}

// NoID is the zero ID, used for notifications and for responses to
// requests that failed to parse far enough to recover an id.
var NoID = ID{}

// IntID builds a numeric request ID.
func IntID(n uint64) ID { return ID{set: true, num: n} }

// StringID builds a string request ID.
func StringID(s string) ID { return ID{set: true, isString: true, str: s} }

// IsSet reports whether the ID is present (as opposed to a notification).
func (id ID) IsSet() bool { return id.set }

// IsString reports whether the ID is carried as a JSON string.
func (id ID) IsString() bool { return id.isString }

// Num returns the numeric value of a numeric ID; valid only when IsSet()
// is true and IsString() is false.
func (id ID) Num() uint64 { return id.num }

// Str returns the string value of a string ID; valid only when IsSet()
// is true and IsString() is true.
func (id ID) Str() string { return id.str }

func (id ID) String() string {
	switch {
	case !id.set:
		return "<none>"
	case id.isString:
		return strconv.Quote(id.str)
	default:
		return strconv.FormatUint(id.num, 10)
	}
}

// Equal reports whether two IDs identify the same request.
func (id ID) Equal(other ID) bool {
	return id.set == other.set && id.isString == other.isString &&
		id.num == other.num && id.str == other.str
}

func (id ID) MarshalJSON() ([]byte, error) {
	if !id.set {
		return []byte("null"), nil
	}
	if id.isString {
		return json.Marshal(id.str)
	}
	return json.Marshal(id.num)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = NoID
		return nil
	}
	var n uint64
	if err := json.Unmarshal(data, &n); err == nil {
		*id = ID{set: true, num: n}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("id must be a string, number, or null: %w", err)
	}
	*id = ID{set: true, isString: true, str: s}
	return nil
}

// Kind discriminates the three Message variants.
type Kind int

const (
	KindRequest Kind = iota
	KindNotification
	KindResponse
)

// Message is the in-memory shape shared by requests, notifications, and
// responses. Exactly one of {Params unset}, {Result set}, {Err set}
// applies depending on Kind; the constructors below are the only
// sanctioned way to build one so those invariants always hold.
type Message struct {
	kind   Kind
	id     ID
	method string
	params json.RawMessage
	result json.RawMessage
	err    *Error
}

// NewRequest builds a Request message. params may be nil to mean "params
// omitted"; pass json.RawMessage("null") to mean "params: null" instead.
func NewRequest(id ID, method string, params json.RawMessage) Message {
	return Message{kind: KindRequest, id: id, method: method, params: params}
}

// NewNotification builds a Notification — a Request with no id.
func NewNotification(method string, params json.RawMessage) Message {
	return Message{kind: KindNotification, method: method, params: params}
}

// NewResultResponse builds a successful Response.
func NewResultResponse(id ID, result json.RawMessage) Message {
	return Message{kind: KindResponse, id: id, result: result}
}

// NewErrorResponse builds a failed Response. An id of NoID represents
// the "parse failed before an id could be recovered" case and must
// carry a ParseError- or InvalidRequest-class error.
func NewErrorResponse(id ID, err *Error) Message {
	return Message{kind: KindResponse, id: id, err: err}
}

func (m Message) Kind() Kind              { return m.kind }
func (m Message) ID() ID                  { return m.id }
func (m Message) Method() string          { return m.method }
func (m Message) Params() json.RawMessage { return m.params }
func (m Message) Result() json.RawMessage { return m.result }
func (m Message) Err() *Error             { return m.err }

// IsNotification reports whether this message expects no response.
func (m Message) IsNotification() bool { return m.kind == KindNotification }

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc: code %d: %s", e.Code, e.Message)
}

// NewError builds an Error with optional structured data. Pass a nil
// data value to omit the field entirely.
func NewError(code int, message string, data any) *Error {
	e := &Error{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return e
}

var (
	ErrParseError     = NewError(CodeParseError, "Parse error", nil)
	ErrInvalidRequest = NewError(CodeInvalidRequest, "Invalid Request", nil)
	ErrMethodNotFound = NewError(CodeMethodNotFound, "Method not found", nil)
)
