package rpc_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/nalgeon/be"

	"github.com/kestrel-rpc/jrpc/internal/rpc"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	fw := rpc.NewFrameWriter(&buf)

	msg := rpc.NewRequest(rpc.IntID(1), "echo", json.RawMessage(`["hi"]`))
	be.Err(t, fw.Write(msg), nil)

	fr := rpc.NewFrameReader(&buf, 0)
	got, protoErr, err := fr.Read()
	be.Err(t, err, nil)
	be.Equal(t, protoErr, nil)
	be.Equal(t, got.Kind(), rpc.KindRequest)
	be.Equal(t, got.Method(), "echo")
	be.Equal(t, got.ID().Num(), uint64(1))
	be.Equal(t, string(got.Params()), `["hi"]`)

	// The frame region is fully consumed: a second Read sees clean EOF.
	_, _, err = fr.Read()
	be.True(t, errors.Is(err, rpc.ErrEndOfStream))
}

func TestFrameWriterIncludesContentType(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	fw := rpc.NewFrameWriter(&buf)
	be.Err(t, fw.Write(rpc.NewNotification("ping", nil)), nil)

	be.True(t, bytes.Contains(buf.Bytes(), []byte("Content-Type: application/vscode-jsonrpc; charset=utf8")))
	be.True(t, bytes.Contains(buf.Bytes(), []byte("Content-Length: ")))
	be.True(t, !bytes.HasSuffix(buf.Bytes(), []byte("\n\n")))
}

func TestFrameReaderIgnoresUnknownHeaders(t *testing.T) {
	t.Parallel()

	body := []byte(`{"jsonrpc":"2.0","method":"ping"}`)
	raw := []byte("X-Custom: whatever\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n")
	raw = append(raw, body...)

	fr := rpc.NewFrameReader(bytes.NewReader(raw), 0)
	msg, protoErr, err := fr.Read()
	be.Err(t, err, nil)
	be.Equal(t, protoErr, nil)
	be.Equal(t, msg.Method(), "ping")
}

func TestFrameReaderZeroLengthBodyIsParseError(t *testing.T) {
	t.Parallel()

	raw := []byte("Content-Length: 0\r\n\r\n")
	fr := rpc.NewFrameReader(bytes.NewReader(raw), 0)
	_, _, err := fr.Read()
	be.True(t, errors.Is(err, rpc.ErrDecodeError))
}

func TestFrameReaderOversizedFrameResyncs(t *testing.T) {
	t.Parallel()

	body := []byte(`{"jsonrpc":"2.0","method":"ping"}`)
	next := []byte(`{"jsonrpc":"2.0","method":"ok"}`) // under the limit below

	var raw bytes.Buffer
	raw.WriteString("Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n")
	raw.Write(body)
	raw.WriteString("Content-Length: " + strconv.Itoa(len(next)) + "\r\n\r\n")
	raw.Write(next)

	fr := rpc.NewFrameReader(&raw, int64(len(body)-1))
	_, _, err := fr.Read()
	be.True(t, errors.Is(err, rpc.ErrInvalidFrame))

	// The oversized frame's declared bytes were discarded; the stream
	// resynchronizes on the following frame.
	msg, protoErr, err := fr.Read()
	be.Err(t, err, nil)
	be.Equal(t, protoErr, nil)
	be.Equal(t, msg.Method(), "ok")
}

func TestFrameReaderUnexpectedEOFMidFrame(t *testing.T) {
	t.Parallel()

	raw := []byte("Content-Length: 100\r\n\r\nshort body")
	fr := rpc.NewFrameReader(bytes.NewReader(raw), 0)
	_, _, err := fr.Read()
	be.True(t, errors.Is(err, rpc.ErrUnexpectedEOF))
}

func TestFrameWriterObserverSeesBodyBeforeWrite(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	fw := rpc.NewFrameWriter(&buf)

	var observed []byte
	fw.SetObserver(func(body []byte) {
		observed = append(observed, body...)
		be.Equal(t, buf.Len(), 0) // observer fires before any bytes reach the stream
	})

	be.Err(t, fw.Write(rpc.NewNotification("ping", nil)), nil)
	be.True(t, len(observed) > 0)
}
