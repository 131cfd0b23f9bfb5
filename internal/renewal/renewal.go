// Package renewal runs the periodic pass that keeps leased Kerberos tickets
// alive, reissuing any whose renew-until deadline is within the configured
// threshold.
package renewal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/smhmhmd/credentials-fetcher/internal/cferrors"
	"github.com/smhmhmd/credentials-fetcher/internal/gmsapassword"
	"github.com/smhmhmd/credentials-fetcher/internal/leasestore"
	"github.com/smhmhmd/credentials-fetcher/internal/principal"
	"github.com/smhmhmd/credentials-fetcher/internal/secretbuf"
	"github.com/smhmhmd/credentials-fetcher/internal/secretsmanager"
	"github.com/smhmhmd/credentials-fetcher/internal/shellexec"
)

// DefaultRenewThresholdHours matches RENEW_TICKET_HOURS in the original
// implementation: a ticket is due once its renew-until deadline is within
// this many hours.
const DefaultRenewThresholdHours = 4.0

// PasswordFetcher obtains a gMSA account's managed password over LDAP.
type PasswordFetcher interface {
	Fetch(ctx context.Context, domain, accountName string, ov gmsapassword.Overrides) (*secretbuf.Buffer, error)
}

// Decoder converts a raw UTF-16LE password blob to UTF-8.
type Decoder interface {
	Decode(ctx context.Context, blob *secretbuf.Buffer) (*secretbuf.Buffer, error)
}

// Issuer obtains a Kerberos ticket for a principal.
type Issuer interface {
	IssueWithPassword(ctx context.Context, principal string, password *secretbuf.Buffer, credCachePath string) error
	IssueMachine(ctx context.Context, principal, credCachePath string) error
}

// SecretsClient fetches the username/password secret backing a
// user-from-secret ticket.
type SecretsClient interface {
	Fetch(ctx context.Context, secretName string) (*secretsmanager.Secret, error)
}

// DomainlessCredentials is supplied by the caller driving a renewal pass to
// refresh Domainless-mode tickets, which hold no stored password.
type DomainlessCredentials struct {
	Username string
	Password *secretbuf.Buffer
}

// Engine runs the periodic renewal pass over every metadata file under a
// krbBase root.
type Engine struct {
	Store           *leasestore.Store
	PasswordFetcher PasswordFetcher
	Decoder         Decoder
	Issuer          Issuer
	Secrets         SecretsClient
	Runner          *shellexec.Runner
	Logger          hclog.Logger

	RenewThresholdHours float64

	// Overrides is threaded into every gMSA password re-fetch during
	// renewal, matching the base-DN/DC overrides applied at initial
	// lease issuance.
	Overrides gmsapassword.Overrides

	// MachinePrincipal resolves the host's own machine principal, and
	// MachineCredCachePath is where its ticket is written. Both must be set
	// before a MachineKeytab ticket can be reissued — reissue re-establishes
	// the host's Kerberos identity via Issuer.IssueMachine before fetching
	// the gMSA password, matching the G→H→F chain used at initial issuance.
	MachinePrincipal     func() (string, error)
	MachineCredCachePath string

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	ticker   *time.Ticker
	stopChan chan struct{}
}

// New builds an Engine. runner defaults to a plain shellexec.Runner if nil.
func New(store *leasestore.Store, pf PasswordFetcher, dec Decoder, iss Issuer, secrets SecretsClient, runner *shellexec.Runner, log hclog.Logger) *Engine {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if runner == nil {
		runner = shellexec.New(log)
	}
	return &Engine{
		Store:               store,
		PasswordFetcher:     pf,
		Decoder:             dec,
		Issuer:              iss,
		Secrets:             secrets,
		Runner:              runner,
		Logger:              log,
		RenewThresholdHours: DefaultRenewThresholdHours,
	}
}

// Start begins a background ticker running RunOnce every interval. Calling
// Start while already running is an error, matching the non-reentrancy
// requirement on the rotation loop.
func (e *Engine) Start(interval time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return errors.New("renewal engine is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.ticker = time.NewTicker(interval)
	e.stopChan = make(chan struct{})
	e.running = true

	go e.loop(ctx)
	e.Logger.Info("renewal engine started", "interval", interval)
	return nil
}

// Stop halts the background ticker. Calling Stop when not running is an
// error.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return errors.New("renewal engine is not running")
	}

	e.cancel()
	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}
	e.ticker.Stop()
	e.running = false
	e.Logger.Info("renewal engine stopped")
	return nil
}

func (e *Engine) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case <-e.ticker.C:
			if err := e.RunOnce(ctx, nil); err != nil {
				e.Logger.Warn("renewal pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single renewal pass over every metadata file under the
// store's krbBase, reissuing tickets whose renewal deadline has arrived.
// domainless supplies current credentials for any Domainless-mode tickets
// that need refreshing; it may be nil if none are expected.
func (e *Engine) RunOnce(ctx context.Context, domainless *DomainlessCredentials) error {
	files, err := leasestore.ListMetadataFiles(e.Store.KrbBase)
	if err != nil {
		return err
	}

	var merr *multierror.Error
	for _, f := range files {
		tickets, err := leasestore.ReadMetadata(f)
		if err != nil {
			e.Logger.Warn("skipping unreadable metadata during renewal", "file", f, "error", err)
			continue
		}
		for _, t := range tickets {
			if err := e.renewIfDue(ctx, t, domainless); err != nil {
				merr = multierror.Append(merr, fmt.Errorf("%s: %w", t.CredCachePath, err))
			}
		}
	}
	return merr.ErrorOrNil()
}

func (e *Engine) renewIfDue(ctx context.Context, t leasestore.KrbTicketInfo, domainless *DomainlessCredentials) error {
	env := map[string]string{"KRB5CCNAME": t.CredCachePath}
	res, err := e.Runner.Run(ctx, env, "klist")
	if err != nil {
		return fmt.Errorf("%w: running klist for %s: %v", cferrors.ErrIoFailure, t.CredCachePath, err)
	}
	if res.ExitCode != 0 {
		e.Logger.Warn("klist failed, treating ticket as due for reissue", "cred_cache", t.CredCachePath, "exit_code", res.ExitCode)
		return e.reissue(ctx, t, domainless)
	}

	status, err := ParseKlist(string(res.Output))
	if err != nil {
		e.Logger.Debug("skipping ticket with unparsable klist output", "cred_cache", t.CredCachePath)
		return nil
	}

	hours := status.HoursUntilRenewalDeadline(time.Now())
	if hours > e.RenewThresholdHours {
		return nil
	}

	return e.reissue(ctx, t, domainless)
}

// ensureMachineIdentity re-establishes the host's own Kerberos identity via
// Issuer.IssueMachine, which the gMSA LDAP bind in PasswordFetcher.Fetch
// rides on.
func (e *Engine) ensureMachineIdentity(ctx context.Context) error {
	if e.MachinePrincipal == nil {
		return fmt.Errorf("%w: no machine principal resolver configured for renewal", cferrors.ErrHostnameUnavailable)
	}
	princ, err := e.MachinePrincipal()
	if err != nil {
		return err
	}
	return e.Issuer.IssueMachine(ctx, princ, e.MachineCredCachePath)
}

// reissue drives 4.G+4.H+4.F (or the secrets/domainless equivalents) to
// obtain a fresh ticket for t, writing it back to t.CredCachePath.
func (e *Engine) reissue(ctx context.Context, t leasestore.KrbTicketInfo, domainless *DomainlessCredentials) error {
	switch t.AuthMode {
	case leasestore.AuthModeMachineKeytab:
		if err := e.ensureMachineIdentity(ctx); err != nil {
			return err
		}
		pw, err := e.PasswordFetcher.Fetch(ctx, t.DomainName, t.AccountName, e.Overrides)
		if err != nil {
			return err
		}
		decoded, err := e.Decoder.Decode(ctx, pw)
		if err != nil {
			return err
		}
		princ := principal.GMSAPrincipal(t.AccountName, t.DomainName)
		return e.Issuer.IssueWithPassword(ctx, princ, decoded, t.CredCachePath)

	case leasestore.AuthModeUserFromSecret:
		secret, err := e.Secrets.Fetch(ctx, t.SecretName)
		if err != nil {
			return err
		}
		if secret == nil {
			return fmt.Errorf("%w: secret %s not found", cferrors.ErrSecretsStoreFailure, t.SecretName)
		}
		pw := secretbuf.New(len(secret.Password))
		copy(pw.Bytes(), secret.Password)
		princ := principal.UserPrincipal(secret.Username, t.DomainName)
		return e.Issuer.IssueWithPassword(ctx, princ, pw, t.CredCachePath)

	case leasestore.AuthModeDomainless:
		if domainless == nil || domainless.Username != t.DomainlessUser {
			return fmt.Errorf("%w: domainless ticket for %s needs caller-supplied credentials to renew", cferrors.ErrInvalidArgument, t.DomainlessUser)
		}
		princ := principal.UserPrincipal(domainless.Username, t.DomainName)
		return e.Issuer.IssueWithPassword(ctx, princ, domainless.Password, t.CredCachePath)

	default:
		return fmt.Errorf("%w: unknown auth mode %q for %s", cferrors.ErrInvalidArgument, t.AuthMode, t.CredCachePath)
	}
}
