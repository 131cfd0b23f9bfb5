package kerbticket

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/smhmhmd/credentials-fetcher/internal/cferrors"
	"github.com/smhmhmd/credentials-fetcher/internal/secretbuf"
)

// withFakeTools puts minimal stub scripts for hostname/realm/kinit/ldapsearch
// on PATH, registers a cleanup restoring the previous PATH, and returns the
// stub directory.
func withFakeTools(t *testing.T, kinitScript string) (dir string) {
	t.Helper()
	dir = t.TempDir()
	for _, tool := range []string{"hostname", "realm", "ldapsearch"} {
		writeStub(t, filepath.Join(dir, tool), "#!/bin/sh\nexit 0\n")
	}
	writeStub(t, filepath.Join(dir, "kinit"), kinitScript)

	oldPath := os.Getenv("PATH")
	os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath)
	t.Cleanup(func() { os.Setenv("PATH", oldPath) })
	return dir
}

func writeStub(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o755); err != nil {
		t.Fatalf("writing stub %s: %v", path, err)
	}
}

func writeDecoderStub(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "decoder")
	writeStub(t, p, "#!/bin/sh\nexit 0\n")
	return p
}

func TestPreflightMissingToolingFails(t *testing.T) {
	// No PATH stubs installed at all; restrict PATH to an empty dir.
	empty := t.TempDir()
	oldPath := os.Getenv("PATH")
	os.Setenv("PATH", empty)
	t.Cleanup(func() { os.Setenv("PATH", oldPath) })

	iss := New(filepath.Join(empty, "decoder"), nil, nil)
	err := iss.Preflight()
	if !errors.Is(err, cferrors.ErrToolingMissing) {
		t.Fatalf("got %v, want ErrToolingMissing", err)
	}
}

func TestPreflightSucceedsWithStubsAndDecoder(t *testing.T) {
	dir := withFakeTools(t, "#!/bin/sh\nexit 0\n")
	decoder := writeDecoderStub(t, dir)

	iss := New(decoder, nil, nil)
	if err := iss.Preflight(); err != nil {
		t.Fatalf("Preflight: %v", err)
	}
}

func TestIssueMachineFailsPreflightWithoutKeytab(t *testing.T) {
	dir := withFakeTools(t, "#!/bin/sh\nexit 0\n")
	decoder := writeDecoderStub(t, dir)

	iss := New(decoder, nil, nil)
	iss.KeytabPath = "/nonexistent/krb5.keytab"

	err := iss.IssueMachine(context.Background(), "host1$@CONTOSO.COM", filepath.Join(t.TempDir(), "x.ccache"))
	// PreflightMachine will fail because the keytab path doesn't exist/parse;
	// this asserts the failure mode is ToolingMissing, not a kinit invocation.
	if !errors.Is(err, cferrors.ErrToolingMissing) {
		t.Fatalf("got %v, want ErrToolingMissing (keytab load should fail first)", err)
	}
}

func TestIssueWithPasswordScrubsBufferEvenOnFailure(t *testing.T) {
	dir := withFakeTools(t, "#!/bin/sh\nexit 1\n")
	decoder := writeDecoderStub(t, dir)

	iss := New(decoder, nil, nil)
	pw := secretbuf.New(4)
	copy(pw.Bytes(), []byte("hunt"))

	err := iss.IssueWithPassword(context.Background(), "svc@CONTOSO.COM", pw, filepath.Join(t.TempDir(), "x.ccache"))
	if err == nil {
		t.Fatal("expected error from failing kinit stub")
	}
	if !pw.Released() {
		t.Fatal("expected password buffer to be released after IssueWithPassword")
	}
}

func TestIssueWithPasswordSucceedsWhenKinitSucceeds(t *testing.T) {
	dir := withFakeTools(t, "#!/bin/sh\ncat >/dev/null\nexit 0\n")
	decoder := writeDecoderStub(t, dir)

	iss := New(decoder, nil, nil)
	pw := secretbuf.New(4)
	copy(pw.Bytes(), []byte("hunt"))

	err := iss.IssueWithPassword(context.Background(), "svc@CONTOSO.COM", pw, filepath.Join(t.TempDir(), "x.ccache"))
	if err != nil {
		t.Fatalf("IssueWithPassword: %v", err)
	}
}
