// Package principal derives Kerberos principal names for machine, user, and
// gMSA identities.
package principal

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/smhmhmd/credentials-fetcher/internal/cferrors"
)

// maxNetBIOSNameLength is the legacy NetBIOS short-name limit that machine
// principals are truncated to.
const maxNetBIOSNameLength = 15

// RealmLookup reports the realm a host is joined to, analogous to
// `realm list`'s output. Implementations in production shell out via
// internal/shellexec and parse the result; tests supply a stub.
type RealmLookup func() (string, error)

// HostnameLookup reports the host's configured hostname, analogous to
// os.Hostname. Exists as a seam for testing hostname truncation.
type HostnameLookup func() (string, error)

// Resolver derives principal names. The zero value is not usable; build one
// with New.
type Resolver struct {
	Hostname HostnameLookup
	Realm    RealmLookup
	Logger   hclog.Logger
}

// New builds a Resolver. hostname/realm default to os.Hostname and a
// realmLookup stub that always fails, respectively — callers normally supply
// a realmLookup backed by `realm list`.
func New(hostname HostnameLookup, realm RealmLookup, log hclog.Logger) *Resolver {
	if hostname == nil {
		hostname = os.Hostname
	}
	if realm == nil {
		realm = func() (string, error) {
			return "", fmt.Errorf("%w: no realm lookup configured", cferrors.ErrRealmUnavailable)
		}
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Resolver{Hostname: hostname, Realm: realm, Logger: log}
}

// MachinePrincipal derives "<shortHostname>$@<REALM>", with REALM the
// uppercased result of the Resolver's realm lookup. The short
// hostname is the portion of the host's name before the first dot,
// truncated to 15 characters. Truncation is logged, never fatal.
func (r *Resolver) MachinePrincipal() (string, error) {
	host, err := r.Hostname()
	if err != nil || host == "" {
		return "", fmt.Errorf("%w: %v", cferrors.ErrHostnameUnavailable, err)
	}
	realm, err := r.Realm()
	if err != nil || realm == "" {
		return "", fmt.Errorf("%w: %v", cferrors.ErrRealmUnavailable, err)
	}

	short := host
	if idx := strings.IndexByte(short, '.'); idx >= 0 {
		short = short[:idx]
	}
	if len(short) > maxNetBIOSNameLength {
		r.Logger.Warn("truncating hostname to NetBIOS length", "hostname", short, "truncated", short[:maxNetBIOSNameLength])
		short = short[:maxNetBIOSNameLength]
	}

	machinePrincipal := short + "$@" + strings.ToUpper(realm)
	return machinePrincipal, nil
}

// UserPrincipal derives "username@UPPERCASE(domain)".
func UserPrincipal(username, domain string) string {
	return username + "@" + strings.ToUpper(domain)
}

// GMSAPrincipal derives "accountName$@UPPERCASE(domain)".
func GMSAPrincipal(accountName, domain string) string {
	return accountName + "$@" + strings.ToUpper(domain)
}
