// Package logging builds the daemon's structured logger and redacts
// sensitive values — SPNEGO/Kerberos blobs, SIDs, and password-shaped
// fields — before they reach it.
package logging

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// New builds the daemon's root logger. level follows hclog's naming
// ("trace", "debug", "info", "warn", "error"); an empty or unrecognized
// value falls back to "info".
func New(name, level string) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(level),
		Output:     os.Stderr,
		JSONFormat: true,
	})
}

var spnegoBlobRe = regexp.MustCompile(`([A-Za-z0-9+/=]{64,})`)

// RedactSPNEGO replaces long base64 runs — SPNEGO tokens, ticket blobs,
// including concatenated padded chunks — with a fixed placeholder.
func RedactSPNEGO(s string) string {
	return spnegoBlobRe.ReplaceAllString(s, "<redacted>")
}

var (
	sidRe = regexp.MustCompile(`S-\d+-\d+(-\d+)+`)
	keyRe = regexp.MustCompile(`(?i)(password|key|secret|token)\s*[:=]\s*[^\s]+`)
)

// Redact scrubs SPNEGO tokens, SIDs, and password/key/secret/token-shaped
// fields out of a log message before it is emitted.
func Redact(msg string) string {
	msg = RedactSPNEGO(msg)
	msg = sidRe.ReplaceAllString(msg, "<redacted-sid>")
	msg = keyRe.ReplaceAllString(msg, "$1: <redacted>")
	return msg
}

// SecurityEvent logs a security-relevant event — lease grants, renewal
// failures, auth-mode mismatches — with every detail value redacted.
func SecurityEvent(log hclog.Logger, event string, details map[string]any) {
	args := make([]any, 0, len(details)*2)
	for key, value := range details {
		clean := Redact(strings.TrimSpace(strings.ReplaceAll(fmt.Sprintf("%v", value), "\n", " ")))
		args = append(args, key, clean)
	}
	log.Info(event, args...)
}
