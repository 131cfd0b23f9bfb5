// Command credentials-fetcherd runs the gMSA credential-refresh daemon and
// exposes an administrative CLI over the same daemon.Manager API a gRPC
// handler would call.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/smhmhmd/credentials-fetcher/internal/cferrors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, safeMessage(err))
		os.Exit(1)
	}
}

// safeMessage returns err's caller-facing message if it implements
// cferrors.SafeError, and err.Error() otherwise. The full diagnostic (which
// may embed command output derived from secret material) still reaches the
// daemon's logs via each component's own hclog calls; only the message
// printed to this CLI's stderr is narrowed.
func safeMessage(err error) string {
	var safe cferrors.SafeError
	if errors.As(err, &safe) {
		return safe.SafeMessage()
	}
	return err.Error()
}
