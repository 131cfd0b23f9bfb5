// Package dclocator resolves a DNS domain to an ordered list of candidate
// domain-controller FQDNs.
package dclocator

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/smhmhmd/credentials-fetcher/internal/cferrors"
	"github.com/smhmhmd/credentials-fetcher/internal/validate"
)

// Resolver is the subset of net's lookup functions this package needs,
// satisfied by *net.Resolver and swappable in tests.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// Locator discovers domain controllers for a realm's DNS domain.
type Locator struct {
	Resolver Resolver
	Logger   hclog.Logger
}

// New builds a Locator using net.DefaultResolver unless r is provided.
func New(r Resolver, log hclog.Logger) *Locator {
	if r == nil {
		r = net.DefaultResolver
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Locator{Resolver: r, Logger: log}
}

// Locate resolves domain to an ordered list of domain-controller FQDNs.
// If override is non-empty (from the CF_DOMAIN_CONTROLLER config/env key) it
// is returned as the sole candidate without performing DNS discovery.
func (l *Locator) Locate(ctx context.Context, domain, override string) ([]string, error) {
	if override != "" {
		return []string{override}, nil
	}

	addrs, err := l.Resolver.LookupIPAddr(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", cferrors.ErrDNSFailure, domain, err)
	}

	var candidates []string
	lowerDomain := strings.ToLower(domain)
	for _, addr := range addrs {
		ip := addr.IP.To4()
		if ip == nil {
			continue
		}
		dotted := ip.String()
		if !validate.DottedQuad(dotted) {
			return nil, fmt.Errorf("%w: malformed address %s for domain %s", cferrors.ErrDNSFailure, dotted, domain)
		}

		names, err := l.Resolver.LookupAddr(ctx, dotted)
		if err != nil {
			l.Logger.Debug("reverse lookup failed", "ip", dotted, "error", err)
			continue
		}
		for _, n := range names {
			fqdn := strings.TrimSuffix(n, ".")
			if strings.Contains(strings.ToLower(fqdn), lowerDomain) {
				candidates = append(candidates, fqdn)
			}
		}
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: domain %s", cferrors.ErrNoDomainController, domain)
	}
	return candidates, nil
}
