// Package validate holds the shell-metacharacter denylist and the format
// regexes shared by every component that accepts an externally supplied
// string (lease IDs, account names, usernames, domains).
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/smhmhmd/credentials-fetcher/internal/cferrors"
)

// denylist is the 24 shell metacharacters that must never appear in a
// string destined for a command line: & | ; : $ * ? < > ! \ . ] [ + ' ` ~ } { " ) ( <space>
const denylist = "&|;:$*?<>!" + `\` + ".][+'`~}{\")( "

// denylistDotted is the same denylist minus '.', for fields that are
// structurally dotted (realm names, FQDN hostnames) and would otherwise
// never pass validation.
const denylistDotted = "&|;:$*?<>!" + `\` + "][+'`~}{\")( "

var dottedQuadRe = regexp.MustCompile(
	`^(([0-9]|[1-9][0-9]|1[0-9][0-9]|2[0-4][0-9]|25[0-5])\.){3}([0-9]|[1-9][0-9]|1[0-9][0-9]|2[0-4][0-9]|25[0-5])$`,
)

var realmRe = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.-]*$`)
var hostnameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.-]*$`)

// Shell rejects s if it contains any denylisted shell metacharacter.
func Shell(field, s string) error {
	if idx := strings.IndexAny(s, denylist); idx >= 0 {
		return fmt.Errorf("%w: %s contains forbidden character %q", cferrors.ErrInvalidArgument, field, s[idx])
	}
	return nil
}

// shellDotted is Shell with '.' excluded from the denylist, for fields that
// are structurally dotted.
func shellDotted(field, s string) error {
	if idx := strings.IndexAny(s, denylistDotted); idx >= 0 {
		return fmt.Errorf("%w: %s contains forbidden character %q", cferrors.ErrInvalidArgument, field, s[idx])
	}
	return nil
}

// LeaseID validates a lease identifier: it must pass the shell denylist and
// must not be usable as a path-traversal component.
func LeaseID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: lease id empty", cferrors.ErrInvalidArgument)
	}
	if strings.Contains(id, "/") || strings.Contains(id, "\\") || id == "." || id == ".." {
		return fmt.Errorf("%w: lease id %q is not a valid path component", cferrors.ErrInvalidArgument, id)
	}
	return Shell("lease id", id)
}

// AccountName validates a gMSA or user account name.
func AccountName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: account name empty", cferrors.ErrInvalidArgument)
	}
	return Shell("account name", name)
}

// DottedQuad reports whether s is a syntactically valid IPv4 dotted-quad.
func DottedQuad(s string) bool {
	return dottedQuadRe.MatchString(s)
}

// Realm validates an uppercase Kerberos realm name.
func Realm(s string) error {
	if !realmRe.MatchString(s) {
		return fmt.Errorf("%w: realm %q is not a valid realm name", cferrors.ErrInvalidArgument, s)
	}
	return shellDotted("realm", s)
}

// Hostname validates a bare hostname (no shell metacharacters, DNS-label-ish).
func Hostname(s string) error {
	if !hostnameRe.MatchString(s) {
		return fmt.Errorf("%w: hostname %q is not valid", cferrors.ErrInvalidArgument, s)
	}
	return shellDotted("hostname", s)
}

// Principal validates a fully formed Kerberos principal such as HOST$@REALM
// or user@REALM. '@' is not on the shell denylist; unlike the other
// validators this also permits '$' and '.', which are structural to a
// principal (machine/gMSA suffix, dotted realm). Every other denylisted
// character, including quotes, is rejected.
func Principal(s string) error {
	if s == "" || !strings.Contains(s, "@") {
		return fmt.Errorf("%w: principal %q is malformed", cferrors.ErrInvalidArgument, s)
	}
	const denylistPrincipal = "&|;:*?<>!" + `\` + "][+'`~}{\")( "
	if idx := strings.IndexAny(s, denylistPrincipal); idx >= 0 {
		return fmt.Errorf("%w: principal contains forbidden character %q", cferrors.ErrInvalidArgument, s[idx])
	}
	return nil
}
