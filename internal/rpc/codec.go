package rpc

import (
	"encoding/json"
	"fmt"
)

const protocolVersion = "2.0"

// wireMessage is the on-the-wire shape of a request, notification, or
// response. Unknown top-level fields are tolerated on decode and never
// echoed on encode.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// EncodeMessage serializes a Message to its textual JSON-RPC 2.0 form.
func EncodeMessage(m Message) ([]byte, error) {
	w := wireMessage{JSONRPC: protocolVersion}

	switch m.Kind() {
	case KindRequest:
		id := m.ID()
		w.ID = &id
		w.Method = m.Method()
		w.Params = m.Params()
	case KindNotification:
		w.Method = m.Method()
		w.Params = m.Params()
	case KindResponse:
		id := m.ID()
		w.ID = &id
		if err := m.Err(); err != nil {
			w.Error = err
		} else {
			result := m.Result()
			if result == nil {
				result = json.RawMessage("null")
			}
			w.Result = result
		}
	default:
		return nil, fmt.Errorf("rpc: unknown message kind %d", m.Kind())
	}

	return json.Marshal(w)
}

// DecodeMessage parses a single textual JSON-RPC 2.0 message. It returns
// an *Error (not a Go error) when the body is syntactically valid JSON
// but not a well-formed Message, so callers can answer with an
// InvalidRequest error object directly; a plain error return means the
// body was not valid JSON at all.
func DecodeMessage(data []byte) (Message, *Error, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, nil, fmt.Errorf("rpc: decode: %w", err)
	}

	hasID := w.ID != nil
	hasMethod := w.Method != ""
	hasResult := w.Result != nil
	hasError := w.Error != nil

	switch {
	case hasMethod && !hasResult && !hasError:
		if hasID {
			return NewRequest(*w.ID, w.Method, w.Params), nil, nil
		}
		return NewNotification(w.Method, w.Params), nil, nil

	case !hasMethod && (hasResult || hasError) && hasResult != hasError:
		id := NoID
		if w.ID != nil {
			id = *w.ID
		}
		if hasError {
			return NewErrorResponse(id, w.Error), nil, nil
		}
		return NewResultResponse(id, w.Result), nil, nil

	default:
		return Message{}, ErrInvalidRequest, nil
	}
}
