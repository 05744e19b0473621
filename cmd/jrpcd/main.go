// Command jrpcd hosts the demo echo service (internal/demo) over
// stdin/stdout.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pressly/cli"

	"github.com/kestrel-rpc/jrpc/internal/demo"
	"github.com/kestrel-rpc/jrpc/internal/host"
)

func main() {
	root := &cli.Command{
		Name:      "jrpcd",
		ShortHelp: "A JSON-RPC 2.0 demo host/client runtime",
		SubCommands: []*cli.Command{
			{
				Name:      "serve",
				ShortHelp: "Start the demo echo service (communicates over stdin/stdout)",
				Exec: func(ctx context.Context, s *cli.State) error {
					return serve(ctx)
				},
			},
		},
	}
	if err := cli.ParseAndRun(context.Background(), root, os.Args[1:], nil); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// stdinout wraps stdin/stdout into a ReadWriteCloser.
type stdinout struct{}

func (stdinout) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdinout) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdinout) Close() error                { return os.Stdout.Close() }

func serve(ctx context.Context) error {
	b := host.NewBuilder(
		host.WithMaxMessageBytes(4 << 20),
		host.WithPropagateHandlerExceptionDetail(true),
	)

	prototype, svc := demo.Descriptor()
	if err := b.Register(prototype, svc); err != nil {
		return fmt.Errorf("jrpcd: register demo service: %w", err)
	}

	h := b.Build(ctx, stdinout{})
	_ = h.Wait()
	return h.Stop(5 * time.Second)
}
