// Package daemon wires every component into the Manager: the single Go API
// surface that owns lease lifecycle and drives the renewal engine. Both the
// administrative CLI and (eventually) a gRPC handler call the same Manager
// methods.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/smhmhmd/credentials-fetcher/internal/cferrors"
	"github.com/smhmhmd/credentials-fetcher/internal/config"
	"github.com/smhmhmd/credentials-fetcher/internal/dclocator"
	"github.com/smhmhmd/credentials-fetcher/internal/gmsapassword"
	"github.com/smhmhmd/credentials-fetcher/internal/kerbticket"
	"github.com/smhmhmd/credentials-fetcher/internal/leasestore"
	"github.com/smhmhmd/credentials-fetcher/internal/principal"
	"github.com/smhmhmd/credentials-fetcher/internal/renewal"
	"github.com/smhmhmd/credentials-fetcher/internal/secretbuf"
	"github.com/smhmhmd/credentials-fetcher/internal/secretsmanager"
	"github.com/smhmhmd/credentials-fetcher/internal/shellexec"
	"github.com/smhmhmd/credentials-fetcher/internal/utf16bridge"
	"github.com/smhmhmd/credentials-fetcher/internal/validate"
)

// DefaultKrbBase is the root directory under which every lease's credential
// caches and metadata live.
const DefaultKrbBase = "/var/credentials-fetcher/krbdir"

// LeaseAccountRequest describes one gMSA or user account to issue a ticket
// for as part of a lease.
type LeaseAccountRequest struct {
	AccountName    string
	AuthMode       leasestore.AuthMode
	SecretName     string
	DomainlessUser string
	DomainlessPass *secretbuf.Buffer
}

// Manager owns the daemon's lease lifecycle and renewal engine.
type Manager struct {
	Domain      string
	KrbBase     string
	DecoderPath string

	// MachineCredCachePath is where the host's own machine-keytab ticket is
	// written; the gMSA LDAP bind in a MachineKeytab issuance or renewal
	// rides on the Kerberos context this establishes.
	MachineCredCachePath string

	Store     *leasestore.Store
	DCs       *dclocator.Locator
	Secrets   *secretsmanager.Client
	Principal *principal.Resolver
	Passwords *gmsapassword.Fetcher
	Decoder   *utf16bridge.Bridge
	Issuer    *kerbticket.Issuer
	Renewal   *renewal.Engine
	Runner    *shellexec.Runner
	Logger    hclog.Logger

	cfg config.Config
}

// New builds a fully wired Manager for domain, rooted at krbBase, using the
// bundled UTF-16 decoder at decoderPath. cfg supplies the CF_GMSA_* base-DN
// and domain-controller overrides.
func New(domain, krbBase, decoderPath string, cfg config.Config, secrets *secretsmanager.Client, log hclog.Logger) *Manager {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	runner := shellexec.New(log)
	dcs := dclocator.New(nil, log)
	princ := principal.New(nil, realmLookup(runner), log)
	passwords := gmsapassword.New(dcs, runner, log)
	decoder := utf16bridge.New(decoderPath, runner, log)
	issuer := kerbticket.New(decoderPath, runner, log)
	store := leasestore.New(krbBase, log)

	m := &Manager{
		Domain:               domain,
		KrbBase:              krbBase,
		DecoderPath:          decoderPath,
		MachineCredCachePath: filepath.Join(krbBase, "machine.ccache"),
		Store:                store,
		DCs:                  dcs,
		Secrets:              secrets,
		Principal:            princ,
		Passwords:            passwords,
		Decoder:              decoder,
		Issuer:               issuer,
		Runner:               runner,
		Logger:               log,
		cfg:                  cfg,
	}
	m.Renewal = renewal.New(store, passwords, decoder, issuer, secretsAdapter{secrets}, runner, log)
	m.Renewal.Overrides = gmsapassword.Overrides{
		GMSAOU:           cfg.GMSAOU,
		GMSABaseDN:       cfg.GMSABaseDN,
		DomainController: cfg.DomainController,
	}
	m.Renewal.MachinePrincipal = princ.MachinePrincipal
	m.Renewal.MachineCredCachePath = m.MachineCredCachePath
	return m
}

// ensureMachineIdentity re-establishes the host's own Kerberos identity via
// Issuer.IssueMachine, which the gMSA LDAP bind in Passwords.Fetch rides on.
// The tooling/keytab preflight runs before the machine principal is resolved.
func (m *Manager) ensureMachineIdentity(ctx context.Context) error {
	if err := m.Issuer.PreflightMachine(); err != nil {
		return err
	}
	princ, err := m.Principal.MachinePrincipal()
	if err != nil {
		return err
	}
	return m.Issuer.IssueMachine(ctx, princ, m.MachineCredCachePath)
}

// secretsAdapter narrows *secretsmanager.Client to renewal.SecretsClient; it
// also makes a nil Secrets client safe to wire (every call fails with a
// clear error instead of a nil-pointer panic).
type secretsAdapter struct{ c *secretsmanager.Client }

func (a secretsAdapter) Fetch(ctx context.Context, secretName string) (*secretsmanager.Secret, error) {
	if a.c == nil {
		return nil, fmt.Errorf("%w: no secrets manager client configured", cferrors.ErrSecretsStoreFailure)
	}
	return a.c.Fetch(ctx, secretName)
}

func realmLookup(runner *shellexec.Runner) principal.RealmLookup {
	return func() (string, error) {
		res, err := runner.Run(context.Background(), nil, "realm", "list")
		if err != nil {
			return "", fmt.Errorf("%w: invoking realm list: %v", cferrors.ErrRealmUnavailable, err)
		}
		if res.ExitCode != 0 {
			return "", fmt.Errorf("%w: realm list exited %d", cferrors.ErrRealmUnavailable, res.ExitCode)
		}
		return parseRealmName(string(res.Output))
	}
}

// parseRealmName extracts the "realm-name: X" line `realm list` prints as
// its first entry's heading.
func parseRealmName(output string) (string, error) {
	const prefix = "realm-name: "
	for _, line := range splitLines(output) {
		if len(line) > len(prefix) && line[:len(prefix)] == prefix {
			return line[len(prefix):], nil
		}
	}
	return "", fmt.Errorf("%w: no realm-name line in realm list output", cferrors.ErrRealmUnavailable)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, trimCR(s[start:i]))
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, trimCR(s[start:]))
	}
	return lines
}

func trimCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}
	return s
}

// kdestroyer adapts shellexec into leasestore.Destroyer.
type kdestroyer struct {
	runner *shellexec.Runner
}

func (k kdestroyer) Destroy(ctx context.Context, credCachePath string) error {
	env := map[string]string{"KRB5CCNAME": credCachePath}
	res, err := k.runner.Run(ctx, env, "kdestroy")
	if err != nil {
		return fmt.Errorf("%w: invoking kdestroy: %v", cferrors.ErrIoFailure, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: kdestroy exited %d: %s", cferrors.ErrIoFailure, res.ExitCode, res.Output)
	}
	return nil
}

// RequestLease issues one ticket per requested account and persists their
// metadata under leaseID, per the component F/G/H chain appropriate to each
// account's auth mode.
func (m *Manager) RequestLease(ctx context.Context, leaseID string, accounts []LeaseAccountRequest) ([]leasestore.KrbTicketInfo, error) {
	if err := validate.LeaseID(leaseID); err != nil {
		return nil, err
	}

	tickets := make([]leasestore.KrbTicketInfo, 0, len(accounts))
	for _, req := range accounts {
		if err := validate.AccountName(req.AccountName); err != nil {
			return nil, err
		}
		if req.DomainlessUser != "" {
			if err := validate.Shell("domainless user", req.DomainlessUser); err != nil {
				return nil, err
			}
		}
		credCachePath := filepath.Join(m.KrbBase, leaseID, req.AccountName+".ccache")

		ticket, err := m.issueInitialTicket(ctx, req, credCachePath)
		if err != nil {
			return nil, fmt.Errorf("issuing ticket for %s: %w", req.AccountName, err)
		}
		tickets = append(tickets, ticket)
	}

	if err := m.Store.PutLease(leaseID, tickets); err != nil {
		return nil, err
	}
	m.Logger.Info("lease requested", "lease_id", leaseID, "account_count", len(tickets))
	return tickets, nil
}

func (m *Manager) issueInitialTicket(ctx context.Context, req LeaseAccountRequest, credCachePath string) (leasestore.KrbTicketInfo, error) {
	switch req.AuthMode {
	case leasestore.AuthModeMachineKeytab:
		if err := m.ensureMachineIdentity(ctx); err != nil {
			return leasestore.KrbTicketInfo{}, err
		}
		pw, err := m.Passwords.Fetch(ctx, m.Domain, req.AccountName, gmsapassword.Overrides{
			GMSAOU:           m.cfg.GMSAOU,
			GMSABaseDN:       m.cfg.GMSABaseDN,
			DomainController: m.cfg.DomainController,
		})
		if err != nil {
			return leasestore.KrbTicketInfo{}, err
		}
		decoded, err := m.Decoder.Decode(ctx, pw)
		if err != nil {
			return leasestore.KrbTicketInfo{}, err
		}
		princ := principal.GMSAPrincipal(req.AccountName, m.Domain)
		if err := m.Issuer.IssueWithPassword(ctx, princ, decoded, credCachePath); err != nil {
			return leasestore.KrbTicketInfo{}, err
		}
		return leasestore.KrbTicketInfo{
			CredCachePath: credCachePath,
			AccountName:   req.AccountName,
			DomainName:    m.Domain,
			AuthMode:      leasestore.AuthModeMachineKeytab,
		}, nil

	case leasestore.AuthModeUserFromSecret:
		secret, err := secretsAdapter{m.Secrets}.Fetch(ctx, req.SecretName)
		if err != nil {
			return leasestore.KrbTicketInfo{}, err
		}
		if secret == nil {
			return leasestore.KrbTicketInfo{}, fmt.Errorf("%w: secret %s not found", cferrors.ErrSecretsStoreFailure, req.SecretName)
		}
		if err := validate.Shell("secret username", secret.Username); err != nil {
			return leasestore.KrbTicketInfo{}, err
		}
		pw := secretbuf.New(len(secret.Password))
		copy(pw.Bytes(), secret.Password)
		princ := principal.UserPrincipal(secret.Username, m.Domain)
		if err := m.Issuer.IssueWithPassword(ctx, princ, pw, credCachePath); err != nil {
			return leasestore.KrbTicketInfo{}, err
		}
		return leasestore.KrbTicketInfo{
			CredCachePath: credCachePath,
			AccountName:   req.AccountName,
			DomainName:    m.Domain,
			AuthMode:      leasestore.AuthModeUserFromSecret,
			SecretName:    req.SecretName,
		}, nil

	case leasestore.AuthModeDomainless:
		if req.DomainlessPass == nil {
			return leasestore.KrbTicketInfo{}, fmt.Errorf("%w: domainless lease request for %s needs a supplied password", cferrors.ErrInvalidArgument, req.AccountName)
		}
		princ := principal.UserPrincipal(req.DomainlessUser, m.Domain)
		if err := m.Issuer.IssueWithPassword(ctx, princ, req.DomainlessPass, credCachePath); err != nil {
			return leasestore.KrbTicketInfo{}, err
		}
		return leasestore.KrbTicketInfo{
			CredCachePath:  credCachePath,
			AccountName:    req.AccountName,
			DomainName:     m.Domain,
			AuthMode:       leasestore.AuthModeDomainless,
			DomainlessUser: req.DomainlessUser,
		}, nil

	default:
		return leasestore.KrbTicketInfo{}, fmt.Errorf("%w: unknown auth mode %q", cferrors.ErrInvalidArgument, req.AuthMode)
	}
}

// ReleaseLease destroys every credential cache under leaseID and removes its
// metadata directory.
func (m *Manager) ReleaseLease(ctx context.Context, leaseID string) error {
	return m.Store.DeleteLease(ctx, leaseID, kdestroyer{runner: m.Runner})
}

// ListLeases returns the names of KrbBase's immediate subdirectories as lease
// IDs; a subdirectory is listed whether or not it holds a metadata file.
func (m *Manager) ListLeases() ([]string, error) {
	entries, err := os.ReadDir(m.KrbBase)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", cferrors.ErrIoFailure, m.KrbBase, err)
	}
	var leaseIDs []string
	for _, e := range entries {
		if e.IsDir() {
			leaseIDs = append(leaseIDs, e.Name())
		}
	}
	return leaseIDs, nil
}

// RenewOnce drives a single renewal pass over every lease's tickets.
func (m *Manager) RenewOnce(ctx context.Context, domainless *renewal.DomainlessCredentials) error {
	return m.Renewal.RunOnce(ctx, domainless)
}

// StartRenewal begins the background renewal ticker at the given cadence.
func (m *Manager) StartRenewal(interval time.Duration) error {
	return m.Renewal.Start(interval)
}

// StopRenewal halts the background renewal ticker.
func (m *Manager) StopRenewal() error {
	return m.Renewal.Stop()
}
