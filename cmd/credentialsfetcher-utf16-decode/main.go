// Command credentialsfetcher-utf16-decode reads a fixed-size UTF-16LE byte
// blob from stdin and writes its UTF-8 decoding to stdout. It exists so the
// daemon never has to hold a gMSA password in a Go string before a NUL
// terminator has been stripped — the conversion happens in a short-lived
// subprocess whose entire stdin/stdout surface is pipes, never argv, env, or
// disk.
package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"unicode/utf16"
)

// gmsaPasswordSize is the length, in bytes, of the current_password field of
// an MSDS-MANAGEDPASSWORD_BLOB.
const gmsaPasswordSize = 256

func main() {
	if err := run(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(in io.Reader, out io.Writer) error {
	blob := make([]byte, gmsaPasswordSize)
	if _, err := io.ReadFull(in, blob); err != nil {
		return fmt.Errorf("reading %d bytes from stdin: %w", gmsaPasswordSize, err)
	}

	decoded := decodeUTF16LE(blob)
	if _, err := io.WriteString(out, decoded); err != nil {
		return fmt.Errorf("writing decoded password: %w", err)
	}
	return nil
}

// decodeUTF16LE decodes a little-endian UTF-16 byte slice to a string,
// stripping every trailing NUL code unit (the fixed-width field's padding).
func decodeUTF16LE(b []byte) string {
	u16s := make([]uint16, len(b)/2)
	for i := range u16s {
		u16s[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	for len(u16s) > 0 && u16s[len(u16s)-1] == 0 {
		u16s = u16s[:len(u16s)-1]
	}
	return string(utf16.Decode(u16s))
}
