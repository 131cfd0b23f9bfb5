// Package secretbuf implements a move-only secret byte buffer whose release
// scrubs the underlying memory before it is handed back to the allocator.
package secretbuf

import (
	"encoding/base64"
	"fmt"
	"runtime"

	"github.com/smhmhmd/credentials-fetcher/internal/cferrors"
)

// Buffer owns a region of secret bytes. The zero value is not usable; obtain
// one via New or DecodeBase64Into. A Buffer must not be copied — pass it (or
// its pointer) by reference and call Release exactly once when done.
type Buffer struct {
	b        []byte
	released bool
}

// New allocates a Buffer of n zeroed bytes.
func New(n int) *Buffer {
	return &Buffer{b: make([]byte, n)}
}

// DecodeBase64Into base64-decodes s into a freshly allocated Buffer.
func DecodeBase64Into(s string) (*Buffer, error) {
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", cferrors.ErrDecodeError, err)
	}
	return &Buffer{b: decoded}, nil
}

// Bytes exposes the live secret bytes. Callers must not retain the returned
// slice beyond the Buffer's lifetime and must never pass it to a logger or
// fmt verb.
func (s *Buffer) Bytes() []byte {
	if s == nil || s.released {
		return nil
	}
	return s.b
}

// Len reports the buffer's size without exposing its contents.
func (s *Buffer) Len() int {
	if s == nil {
		return 0
	}
	return len(s.b)
}

// Release zeroizes the buffer's contents. Safe to call more than once.
func (s *Buffer) Release() {
	if s == nil || s.released {
		return
	}
	for i := range s.b {
		s.b[i] = 0
	}
	// Keep the buffer alive through the zeroing loop so the compiler can't
	// prove the writes are dead and elide them.
	runtime.KeepAlive(s.b)
	s.released = true
	s.b = nil
}

// Released reports whether Release has already run.
func (s *Buffer) Released() bool {
	return s == nil || s.released
}
