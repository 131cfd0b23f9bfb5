package principal

import (
	"errors"
	"strings"
	"testing"

	"github.com/smhmhmd/credentials-fetcher/internal/cferrors"
)

func TestMachinePrincipalHappyPath(t *testing.T) {
	r := New(
		func() (string, error) { return "ec2amaz-q5vjzq", nil },
		func() (string, error) { return "contoso.com", nil },
		nil,
	)
	got, err := r.MachinePrincipal()
	if err != nil {
		t.Fatalf("MachinePrincipal: %v", err)
	}
	want := "ec2amaz-q5vjzq$@CONTOSO.COM"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMachinePrincipalTruncatesLongHostname(t *testing.T) {
	r := New(
		func() (string, error) { return "ec2amaz-verylonghost.local", nil },
		func() (string, error) { return "CONTOSO.COM", nil },
		nil,
	)
	got, err := r.MachinePrincipal()
	if err != nil {
		t.Fatalf("MachinePrincipal: %v", err)
	}
	want := "ec2amaz-verylon$@CONTOSO.COM"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMachinePrincipalNeverEmbedsQuotes(t *testing.T) {
	r := New(
		func() (string, error) { return "host1", nil },
		func() (string, error) { return "contoso.com", nil },
		nil,
	)
	got, _ := r.MachinePrincipal()
	if strings.ContainsAny(got, "'\"") {
		t.Fatalf("principal %q must not contain quote characters", got)
	}
}

func TestMachinePrincipalHostnameUnavailable(t *testing.T) {
	r := New(
		func() (string, error) { return "", errors.New("boom") },
		func() (string, error) { return "CONTOSO.COM", nil },
		nil,
	)
	if _, err := r.MachinePrincipal(); !errors.Is(err, cferrors.ErrHostnameUnavailable) {
		t.Fatalf("got %v, want ErrHostnameUnavailable", err)
	}
}

func TestMachinePrincipalRealmUnavailable(t *testing.T) {
	r := New(
		func() (string, error) { return "host1", nil },
		func() (string, error) { return "", errors.New("boom") },
		nil,
	)
	if _, err := r.MachinePrincipal(); !errors.Is(err, cferrors.ErrRealmUnavailable) {
		t.Fatalf("got %v, want ErrRealmUnavailable", err)
	}
}

func TestUserPrincipal(t *testing.T) {
	got := UserPrincipal("svc-web", "contoso.com")
	want := "svc-web@CONTOSO.COM"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestGMSAPrincipal(t *testing.T) {
	got := GMSAPrincipal("webapp01", "contoso.com")
	want := "webapp01$@CONTOSO.COM"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
