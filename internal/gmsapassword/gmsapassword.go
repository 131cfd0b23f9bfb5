// Package gmsapassword fetches a Group Managed Service Account's current
// password blob over LDAP against Active Directory's msDS-ManagedPassword
// attribute, trying each candidate domain controller in turn.
package gmsapassword

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/smhmhmd/credentials-fetcher/internal/cferrors"
	"github.com/smhmhmd/credentials-fetcher/internal/secretbuf"
	"github.com/smhmhmd/credentials-fetcher/internal/shellexec"
)

const managedPasswordAttr = "msDS-ManagedPassword"
const managedPasswordPrefix = managedPasswordAttr + ":: "

// DCLister resolves candidate domain-controller FQDNs for a domain, matching
// internal/dclocator.Locator's signature.
type DCLister interface {
	Locate(ctx context.Context, domain, override string) ([]string, error)
}

// Fetcher obtains a gMSA account's managed password over ldapsearch.
type Fetcher struct {
	DCs    DCLister
	Runner *shellexec.Runner
	Logger hclog.Logger
}

// New builds a Fetcher. runner defaults to a plain shellexec.Runner if nil.
func New(dcs DCLister, runner *shellexec.Runner, log hclog.Logger) *Fetcher {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if runner == nil {
		runner = shellexec.New(log)
	}
	return &Fetcher{DCs: dcs, Runner: runner, Logger: log}
}

// Overrides carries the optional base-DN overrides recognized by
// CF_GMSA_OU, CF_GMSA_BASE_DN, and a secrets-store-supplied distinguished
// name, in the precedence order the daemon applies them.
type Overrides struct {
	GMSAOU            string
	GMSABaseDN        string
	DistinguishedName string
	DomainController  string
}

// baseDN computes the LDAP base DN to search, applying overrides in the
// order: secrets-store distinguishedName, then CF_GMSA_OU, then
// CF_GMSA_BASE_DN, then the default CN=<account>,CN=Managed Service
// Accounts,<dc-parts> derived from domain.
func baseDN(domain, accountName string, ov Overrides) string {
	if ov.DistinguishedName != "" {
		dn := ov.DistinguishedName
		if !strings.Contains(strings.ToLower(dn), strings.ToLower(managedPasswordAttr)) {
			dn += " " + managedPasswordAttr
		}
		return dn
	}

	ou := ",CN=Managed Service Accounts,"
	if ov.GMSAOU != "" {
		ou = "," + ov.GMSAOU + ","
	} else if ov.GMSABaseDN != "" {
		dn := ov.GMSABaseDN
		if !strings.Contains(strings.ToLower(dn), strings.ToLower(managedPasswordAttr)) {
			dn += " " + managedPasswordAttr
		}
		return dn
	}

	var dcParts []string
	for _, label := range strings.Split(domain, ".") {
		if label == "" {
			continue
		}
		dcParts = append(dcParts, "DC="+label)
	}
	return "CN=" + accountName + ou + strings.Join(dcParts, ",")
}

// Fetch retrieves and base64-decodes the gMSA account's current managed
// password blob, trying each candidate DC in turn (one retry per DC) before
// moving to the next. domain and accountName must already be validated
// (internal/validate) by the caller.
func (f *Fetcher) Fetch(ctx context.Context, domain, accountName string, ov Overrides) (*secretbuf.Buffer, error) {
	dcs, err := f.DCs.Locate(ctx, domain, ov.DomainController)
	if err != nil {
		return nil, err
	}

	dn := baseDN(domain, accountName, ov)

	var merr *multierror.Error
	for _, dc := range dcs {
		out, err := f.searchWithRetry(ctx, dc, dn)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		return parseManagedPassword(out)
	}

	if merr == nil {
		return nil, cferrors.Wrap(cferrors.ErrNoDomainController,
			fmt.Sprintf("no candidate domain controllers for %s", domain),
			fmt.Sprintf("no domain controller available for domain %s", domain))
	}
	// The full diagnostic embeds every DC's raw ldapsearch output, which may
	// contain AD schema detail not fit for a caller-facing message; the safe
	// form is generic on purpose.
	return nil, cferrors.Wrap(cferrors.ErrLdapFailure,
		fmt.Sprintf("all domain controllers failed for %s: %v", domain, merr.ErrorOrNil()),
		fmt.Sprintf("unable to retrieve managed password for domain %s", domain))
}

// searchWithRetry runs ldapsearch against dc, retrying once on non-zero exit
// before the caller moves on to the next DC.
func (f *Fetcher) searchWithRetry(ctx context.Context, dc, dn string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		res, err := f.Runner.Run(ctx, nil, "ldapsearch", "-LLL", "-Y", "GSSAPI", "-H", "ldap://"+dc, "-b", dn, managedPasswordAttr)
		if err != nil {
			lastErr = err
			continue
		}
		if res.ExitCode != 0 {
			lastErr = fmt.Errorf("%w: ldapsearch against %s exited %d: %s", cferrors.ErrLdapFailure, dc, res.ExitCode, res.Output)
			continue
		}
		return res.Output, nil
	}
	return nil, lastErr
}

// parseManagedPassword splits LDIF-ish ldapsearch output on '#', finds the
// msDS-ManagedPassword:: field, and base64-decodes its value.
func parseManagedPassword(ldif []byte) (*secretbuf.Buffer, error) {
	for _, segment := range strings.Split(string(ldif), "#") {
		idx := strings.Index(segment, managedPasswordPrefix)
		if idx == -1 {
			continue
		}
		value := strings.TrimSpace(segment[idx+len(managedPasswordPrefix):])
		return secretbuf.DecodeBase64Into(value)
	}
	return nil, fmt.Errorf("%w: %s attribute not present in ldapsearch output", cferrors.ErrPasswordNotFound, managedPasswordAttr)
}
