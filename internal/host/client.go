package host

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kestrel-rpc/jrpc/internal/rpc"
	"github.com/kestrel-rpc/jrpc/internal/rpcclient"
)

// ClientOption configures Connect.
type ClientOption func(*clientConfig)

type clientConfig struct {
	maxMessageBytes int64
	defaultTimeout  time.Duration
	logger          *log.Logger
	onInbound       rpcclient.InboundHandler
}

// WithClientMaxMessageBytes mirrors WithMaxMessageBytes for the client
// side's FrameReader.
func WithClientMaxMessageBytes(n int64) ClientOption {
	return func(c *clientConfig) { c.maxMessageBytes = n }
}

// WithClientDefaultTimeout sets the budget SendRequest uses when a call
// doesn't specify its own timeout.
func WithClientDefaultTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.defaultTimeout = d }
}

// WithClientLogger overrides the client's default logger.
func WithClientLogger(logger *log.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = logger }
}

// WithClientInboundHandler installs the callback invoked for inbound
// messages the client can't correlate to a pending call: server-initiated
// requests/notifications.
func WithClientInboundHandler(h rpcclient.InboundHandler) ClientOption {
	return func(c *clientConfig) { c.onInbound = h }
}

// Connect wires in/out into an rpcclient.Client and starts its read loop.
func Connect(ctx context.Context, in io.Reader, out io.Writer, opts ...ClientOption) *rpcclient.Client {
	cfg := clientConfig{logger: log.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	reader := rpc.NewFrameReader(in, cfg.maxMessageBytes)
	writer := rpc.NewFrameWriter(out)
	logger := cfg.logger
	writer.SetObserver(func(body []byte) {
		logger.Debug("outbound message", "bytes", len(body))
	})

	return rpcclient.New(ctx, reader, writer, rpcclient.Options{
		DefaultTimeout: cfg.defaultTimeout,
		Logger:         cfg.logger,
		OnInbound:      cfg.onInbound,
	})
}
