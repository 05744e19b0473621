package rpc_test

import (
	"encoding/json"
	"testing"

	"github.com/nalgeon/be"

	"github.com/kestrel-rpc/jrpc/internal/rpc"
)

func TestEncodeDecodeRequestPreservesIntID(t *testing.T) {
	t.Parallel()

	msg := rpc.NewRequest(rpc.IntID(7), "echo", json.RawMessage(`["hi"]`))
	raw, err := rpc.EncodeMessage(msg)
	be.Err(t, err, nil)

	got, protoErr, err := rpc.DecodeMessage(raw)
	be.Err(t, err, nil)
	be.Equal(t, protoErr, nil)
	be.Equal(t, got.ID().IsString(), false)
	be.Equal(t, got.ID().Num(), uint64(7))
}

func TestEncodeDecodeRequestPreservesStringID(t *testing.T) {
	t.Parallel()

	msg := rpc.NewRequest(rpc.StringID("abc"), "echo", nil)
	raw, err := rpc.EncodeMessage(msg)
	be.Err(t, err, nil)

	got, protoErr, err := rpc.DecodeMessage(raw)
	be.Err(t, err, nil)
	be.Equal(t, protoErr, nil)
	be.Equal(t, got.ID().IsString(), true)
	be.Equal(t, got.ID().Str(), "abc")
}

func TestDecodeDistinguishesParamsOmittedFromNull(t *testing.T) {
	t.Parallel()

	omitted, protoErr, err := rpc.DecodeMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"m"}`))
	be.Err(t, err, nil)
	be.Equal(t, protoErr, nil)
	be.True(t, omitted.Params() == nil)

	withNull, protoErr, err := rpc.DecodeMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"m","params":null}`))
	be.Err(t, err, nil)
	be.Equal(t, protoErr, nil)
	be.Equal(t, string(withNull.Params()), "null")
}

func TestDecodeRejectsBothResultAndError(t *testing.T) {
	t.Parallel()

	_, protoErr, err := rpc.DecodeMessage([]byte(
		`{"jsonrpc":"2.0","id":1,"result":1,"error":{"code":-32603,"message":"x"}}`))
	be.Err(t, err, nil)
	be.True(t, protoErr != nil)
	be.Equal(t, protoErr.Code, rpc.CodeInvalidRequest)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	_, _, err := rpc.DecodeMessage([]byte(`{not json`))
	be.True(t, err != nil)
}

func TestEncodeNotificationHasNoID(t *testing.T) {
	t.Parallel()

	raw, err := rpc.EncodeMessage(rpc.NewNotification("ping", nil))
	be.Err(t, err, nil)

	var fields map[string]json.RawMessage
	be.Err(t, json.Unmarshal(raw, &fields), nil)
	_, hasID := fields["id"]
	be.Equal(t, hasID, false)
}

func TestEncodeResponseExclusiveResultError(t *testing.T) {
	t.Parallel()

	resp := rpc.NewResultResponse(rpc.IntID(1), json.RawMessage(`"hi"`))
	raw, err := rpc.EncodeMessage(resp)
	be.Err(t, err, nil)

	var fields map[string]json.RawMessage
	be.Err(t, json.Unmarshal(raw, &fields), nil)
	_, hasResult := fields["result"]
	_, hasError := fields["error"]
	be.Equal(t, hasResult, true)
	be.Equal(t, hasError, false)
}
