// Package utf16bridge pipes a raw UTF-16LE password blob to the bundled
// decoder binary and captures the resulting UTF-8 bytes into a scrubbing
// secret buffer.
package utf16bridge

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/smhmhmd/credentials-fetcher/internal/cferrors"
	"github.com/smhmhmd/credentials-fetcher/internal/secretbuf"
	"github.com/smhmhmd/credentials-fetcher/internal/shellexec"
)

// GMSAPasswordSize is the fixed length of the MSDS-MANAGEDPASSWORD_BLOB's
// current_password field.
const GMSAPasswordSize = 256

// Bridge decodes a raw UTF-16LE password blob via the bundled decoder
// subprocess.
type Bridge struct {
	DecoderPath string
	Runner      *shellexec.Runner
	Logger      hclog.Logger
}

// New builds a Bridge that invokes the decoder binary at decoderPath.
func New(decoderPath string, runner *shellexec.Runner, log hclog.Logger) *Bridge {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if runner == nil {
		runner = shellexec.New(log)
	}
	return &Bridge{DecoderPath: decoderPath, Runner: runner, Logger: log}
}

// Decode pipes blob (exactly GMSAPasswordSize raw UTF-16LE bytes) to the
// decoder subprocess's stdin and returns its UTF-8 stdout as a secretbuf.
// blob is never written to disk, argv, or environment.
func (b *Bridge) Decode(ctx context.Context, blob *secretbuf.Buffer) (*secretbuf.Buffer, error) {
	defer blob.Release()

	if blob.Len() != GMSAPasswordSize {
		return nil, fmt.Errorf("%w: password blob is %d bytes, want %d", cferrors.ErrDecodeError, blob.Len(), GMSAPasswordSize)
	}

	res, err := b.Runner.RunWithStdinBytes(ctx, nil, blob.Bytes(), b.DecoderPath)
	if err != nil {
		return nil, fmt.Errorf("%w: invoking decoder: %v", cferrors.ErrDecodeError, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%w: decoder exited %d", cferrors.ErrDecodeError, res.ExitCode)
	}

	out := secretbuf.New(len(res.Output))
	copy(out.Bytes(), res.Output)
	zero(res.Output)
	return out, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
