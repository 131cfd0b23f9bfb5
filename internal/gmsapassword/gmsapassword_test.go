package gmsapassword

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/smhmhmd/credentials-fetcher/internal/cferrors"
	"github.com/smhmhmd/credentials-fetcher/internal/shellexec"
)

type fakeDCs struct {
	dcs []string
	err error
}

func (f *fakeDCs) Locate(ctx context.Context, domain, override string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.dcs, nil
}

func writeStub(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o755); err != nil {
		t.Fatalf("writing stub: %v", err)
	}
}

func withPath(t *testing.T, dir string) {
	t.Helper()
	old := os.Getenv("PATH")
	os.Setenv("PATH", dir+string(os.PathListSeparator)+old)
	t.Cleanup(func() { os.Setenv("PATH", old) })
}

func TestBaseDNDefaultsToDCParts(t *testing.T) {
	got := baseDN("contoso.com", "webapp01", Overrides{})
	want := "CN=webapp01,CN=Managed Service Accounts,DC=contoso,DC=com"
	if got != want {
		t.Fatalf("baseDN = %q, want %q", got, want)
	}
}

func TestBaseDNDistinguishedNameOverrideWins(t *testing.T) {
	ov := Overrides{DistinguishedName: "CN=webapp01,OU=Custom,DC=contoso,DC=com", GMSAOU: "OU=Ignored"}
	got := baseDN("contoso.com", "webapp01", ov)
	want := "CN=webapp01,OU=Custom,DC=contoso,DC=com msDS-ManagedPassword"
	if got != want {
		t.Fatalf("baseDN = %q, want %q", got, want)
	}
}

func TestBaseDNGMSAOUOverride(t *testing.T) {
	got := baseDN("contoso.com", "webapp01", Overrides{GMSAOU: "OU=Service,OU=Accounts"})
	want := "CN=webapp01,OU=Service,OU=Accounts,DC=contoso,DC=com"
	if got != want {
		t.Fatalf("baseDN = %q, want %q", got, want)
	}
}

func TestFetchParsesManagedPasswordFromLDIF(t *testing.T) {
	password := []byte("super-secret-blob")
	encoded := base64.StdEncoding.EncodeToString(password)

	dir := t.TempDir()
	writeStub(t, dir, "ldapsearch", "#!/bin/sh\necho 'dn: CN=webapp01,...'\necho '#'\necho 'msDS-ManagedPassword:: "+encoded+"'\necho '#'\n")
	withPath(t, dir)

	f := New(&fakeDCs{dcs: []string{"dc1.contoso.com"}}, shellexec.New(nil), nil)
	buf, err := f.Fetch(context.Background(), "contoso.com", "webapp01", Overrides{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(buf.Bytes()) != string(password) {
		t.Fatalf("got %q, want %q", buf.Bytes(), password)
	}
}

func TestFetchFallsThroughToNextDCOnFailure(t *testing.T) {
	password := []byte("fallback-secret")
	encoded := base64.StdEncoding.EncodeToString(password)

	dir := t.TempDir()
	// The stub fails every search against dc1 (keyed on the -H argument) and
	// succeeds against dc2, so Fetch must exhaust dc1's attempts and take the
	// password from dc2.
	writeStub(t, dir, "ldapsearch", "#!/bin/sh\ncase \"$*\" in *ldap://dc1.contoso.com*) exit 1 ;; esac\necho '#'\necho 'msDS-ManagedPassword:: "+encoded+"'\necho '#'\n")
	withPath(t, dir)

	f := New(&fakeDCs{dcs: []string{"dc1.contoso.com", "dc2.contoso.com"}}, shellexec.New(nil), nil)
	buf, err := f.Fetch(context.Background(), "contoso.com", "webapp01", Overrides{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(buf.Bytes()) != string(password) {
		t.Fatalf("got %q, want %q", buf.Bytes(), password)
	}
}

func TestFetchReturnsPasswordNotFoundWhenAttributeAbsent(t *testing.T) {
	dir := t.TempDir()
	writeStub(t, dir, "ldapsearch", "#!/bin/sh\necho 'dn: CN=webapp01'\necho '#'\n")
	withPath(t, dir)

	f := New(&fakeDCs{dcs: []string{"dc1.contoso.com"}}, shellexec.New(nil), nil)
	_, err := f.Fetch(context.Background(), "contoso.com", "webapp01", Overrides{})
	if !errors.Is(err, cferrors.ErrPasswordNotFound) {
		t.Fatalf("got %v, want ErrPasswordNotFound", err)
	}
}

func TestFetchAggregatesLdapFailuresAcrossAllDCs(t *testing.T) {
	dir := t.TempDir()
	writeStub(t, dir, "ldapsearch", "#!/bin/sh\nexit 1\n")
	withPath(t, dir)

	f := New(&fakeDCs{dcs: []string{"dc1.contoso.com", "dc2.contoso.com"}}, shellexec.New(nil), nil)
	_, err := f.Fetch(context.Background(), "contoso.com", "webapp01", Overrides{})
	if !errors.Is(err, cferrors.ErrLdapFailure) {
		t.Fatalf("got %v, want ErrLdapFailure", err)
	}
}

func TestFetchPropagatesDCLocatorFailure(t *testing.T) {
	f := New(&fakeDCs{err: cferrors.Wrap(cferrors.ErrNoDomainController, "no DCs", "no DCs")}, shellexec.New(nil), nil)
	_, err := f.Fetch(context.Background(), "contoso.com", "webapp01", Overrides{})
	if !errors.Is(err, cferrors.ErrNoDomainController) {
		t.Fatalf("got %v, want ErrNoDomainController", err)
	}
}
