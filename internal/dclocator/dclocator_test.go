package dclocator

import (
	"context"
	"net"
	"testing"
)

type fakeResolver struct {
	ipAddrs   map[string][]net.IPAddr
	ipErr     error
	ptrNames  map[string][]string
	ptrErrors map[string]error
}

func (f *fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	if f.ipErr != nil {
		return nil, f.ipErr
	}
	return f.ipAddrs[host], nil
}

func (f *fakeResolver) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	if err, ok := f.ptrErrors[addr]; ok {
		return nil, err
	}
	return f.ptrNames[addr], nil
}

func TestLocateUsesOverrideWithoutDNS(t *testing.T) {
	l := New(&fakeResolver{ipErr: errAlwaysFail{}}, nil)
	got, err := l.Locate(context.Background(), "contoso.com", "dc9.contoso.com")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if len(got) != 1 || got[0] != "dc9.contoso.com" {
		t.Fatalf("got %v, want [dc9.contoso.com]", got)
	}
}

type errAlwaysFail struct{}

func (errAlwaysFail) Error() string { return "dns disabled for this test" }

func TestLocateDiscoversViaReverseLookup(t *testing.T) {
	r := &fakeResolver{
		ipAddrs: map[string][]net.IPAddr{
			"contoso.com": {
				{IP: net.ParseIP("10.0.0.1")},
				{IP: net.ParseIP("10.0.0.2")},
			},
		},
		ptrNames: map[string][]string{
			"10.0.0.1": {"dc1.contoso.com."},
			"10.0.0.2": {"dc2.contoso.com.", "unrelated.example.com."},
		},
	}
	l := New(r, nil)
	got, err := l.Locate(context.Background(), "contoso.com", "")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	want := map[string]bool{"dc1.contoso.com": true, "dc2.contoso.com": true}
	if len(got) != 2 {
		t.Fatalf("got %v, want 2 entries", got)
	}
	for _, g := range got {
		if !want[g] {
			t.Errorf("unexpected candidate %q", g)
		}
	}
}

func TestLocateNoDomainControllerWhenEmpty(t *testing.T) {
	r := &fakeResolver{
		ipAddrs: map[string][]net.IPAddr{
			"contoso.com": {{IP: net.ParseIP("10.0.0.1")}},
		},
		ptrNames: map[string][]string{
			"10.0.0.1": {"unrelated.example.com."},
		},
	}
	l := New(r, nil)
	if _, err := l.Locate(context.Background(), "contoso.com", ""); err == nil {
		t.Fatal("expected NoDomainController error")
	}
}
