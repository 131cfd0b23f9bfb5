// Package kerbticket drives the Kerberos initial ticket exchange (kinit)
// for the three supported authentication modes (machine keytab,
// user-from-secret, domainless), writing the resulting credential cache to
// the path requested by the caller.
package kerbticket

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	krbconfig "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/smhmhmd/credentials-fetcher/internal/cferrors"
	"github.com/smhmhmd/credentials-fetcher/internal/secretbuf"
	"github.com/smhmhmd/credentials-fetcher/internal/shellexec"
)

// DefaultKeytabPath is where the host's machine keytab lives.
const DefaultKeytabPath = "/etc/krb5.keytab"

// DefaultKrb5ConfPath is the system krb5.conf consulted for realm/KDC info.
const DefaultKrb5ConfPath = "/etc/krb5.conf"

// requiredTools are the external executables the issuer verifies are present
// before attempting any ticket operation.
var requiredTools = []string{"hostname", "realm", "kinit", "ldapsearch"}

// Issuer obtains Kerberos tickets and writes them to a credential cache path.
type Issuer struct {
	KeytabPath   string
	Krb5ConfPath string
	DecoderPath  string
	Runner       *shellexec.Runner
	Logger       hclog.Logger
}

// New builds an Issuer with the given bundled-decoder path (required; there
// is no sensible default since the decoder is an external deliverable).
func New(decoderPath string, runner *shellexec.Runner, log hclog.Logger) *Issuer {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if runner == nil {
		runner = shellexec.New(log)
	}
	return &Issuer{
		KeytabPath:   DefaultKeytabPath,
		Krb5ConfPath: DefaultKrb5ConfPath,
		DecoderPath:  decoderPath,
		Runner:       runner,
		Logger:       log,
	}
}

// Preflight verifies hostname, realm, kinit, ldapsearch, and the bundled
// decoder binary are present and executable before any ticket operation is
// attempted. Keytab and krb5.conf parsing is done by PreflightMachine.
func (iss *Issuer) Preflight() error {
	for _, tool := range requiredTools {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("%w: %s", cferrors.ErrToolingMissing, tool)
		}
	}
	fi, err := os.Stat(iss.DecoderPath)
	if err != nil || fi.IsDir() || fi.Mode()&0o111 == 0 {
		return fmt.Errorf("%w: decoder binary at %s", cferrors.ErrToolingMissing, iss.DecoderPath)
	}
	return nil
}

// PreflightMachine additionally verifies the machine keytab contains at
// least one entry, and that krb5.conf parses, before a machine-keytab
// issuance is attempted.
func (iss *Issuer) PreflightMachine() error {
	if err := iss.Preflight(); err != nil {
		return err
	}
	kt, err := keytab.Load(iss.KeytabPath)
	if err != nil {
		return fmt.Errorf("%w: loading keytab %s: %v", cferrors.ErrToolingMissing, iss.KeytabPath, err)
	}
	if len(kt.Entries) == 0 {
		return fmt.Errorf("%w: keytab %s has no entries", cferrors.ErrToolingMissing, iss.KeytabPath)
	}
	if _, err := krbconfig.Load(iss.Krb5ConfPath); err != nil {
		return fmt.Errorf("%w: loading krb5.conf %s: %v", cferrors.ErrToolingMissing, iss.Krb5ConfPath, err)
	}
	return nil
}

// IssueMachine obtains a ticket for the host's machine principal using the
// keytab at KeytabPath, with no password involved. principal must already be
// validated (internal/validate.Principal) and free of shell metacharacters.
func (iss *Issuer) IssueMachine(ctx context.Context, principal, credCachePath string) error {
	if err := iss.PreflightMachine(); err != nil {
		return err
	}

	env := map[string]string{"KRB5CCNAME": credCachePath}
	res, err := iss.Runner.Run(ctx, env, "kinit", "-k", "-t", iss.KeytabPath, principal)
	if err != nil {
		return fmt.Errorf("%w: invoking kinit for %s: %v", cferrors.ErrKinitFailure, principal, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: kinit for %s exited %d: %s", cferrors.ErrKinitFailure, principal, res.ExitCode, res.Output)
	}
	return nil
}

// IssueWithPassword obtains a ticket for principal using password, which is
// written only to the kinit child's stdin pipe — never argv or environment —
// and is released (scrubbed) before this function returns regardless of
// outcome. principal must already be validated and contain no embedded
// quotes (internal/validate.Principal / internal/principal).
func (iss *Issuer) IssueWithPassword(ctx context.Context, principal string, password *secretbuf.Buffer, credCachePath string) error {
	defer password.Release()

	if err := iss.Preflight(); err != nil {
		return err
	}

	env := map[string]string{"KRB5CCNAME": credCachePath}
	res, err := iss.Runner.RunWithStdinBytes(ctx, env, password.Bytes(), "kinit", principal)
	if err != nil {
		return fmt.Errorf("%w: invoking kinit for %s: %v", cferrors.ErrKinitFailure, principal, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: kinit for %s exited %d: %s", cferrors.ErrKinitFailure, principal, res.ExitCode, res.Output)
	}
	return nil
}
