// Package leasestore persists Kerberos ticket metadata to disk, one JSON
// file per ticket in a directory per lease, with atomic write-temp-then-rename semantics so the
// renewal engine never observes a partially written file.
package leasestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/smhmhmd/credentials-fetcher/internal/cferrors"
	"github.com/smhmhmd/credentials-fetcher/internal/validate"
)

// AuthMode tags how a ticket's credential cache was (or will be) obtained.
type AuthMode string

const (
	AuthModeMachineKeytab  AuthMode = "machine_keytab"
	AuthModeUserFromSecret AuthMode = "user_from_secret"
	AuthModeDomainless     AuthMode = "domainless"
)

// KrbTicketInfo describes one issued (or pending) Kerberos ticket tracked by
// a lease. Field names match the metadata JSON schema in the daemon's
// external-interfaces contract.
type KrbTicketInfo struct {
	CredCachePath  string   `json:"krb_file_path"`
	AccountName    string   `json:"service_account_name"`
	DomainName     string   `json:"domain_name"`
	AuthMode       AuthMode `json:"auth_mode"`
	DomainlessUser string   `json:"domainless_user,omitempty"`
	SecretName     string   `json:"secret_name,omitempty"`
}

const metadataSuffix = "_metadata"

// Store persists lease metadata under a krbBase root directory.
type Store struct {
	KrbBase string
	Logger  hclog.Logger
}

// New builds a Store rooted at krbBase.
func New(krbBase string, log hclog.Logger) *Store {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Store{KrbBase: krbBase, Logger: log}
}

func (s *Store) leaseDir(leaseID string) string {
	return filepath.Join(s.KrbBase, leaseID)
}

func metadataFileName(accountName string) string {
	return accountName + metadataSuffix
}

// PutLease writes one metadata JSON file per ticket under
// <krbBase>/<leaseID>/, atomically (write-temp + rename).
func (s *Store) PutLease(leaseID string, tickets []KrbTicketInfo) error {
	if err := validate.LeaseID(leaseID); err != nil {
		return err
	}

	dir := s.leaseDir(leaseID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating lease directory %s: %v", cferrors.ErrIoFailure, dir, err)
	}

	for _, t := range tickets {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("%w: marshaling metadata for %s: %v", cferrors.ErrIoFailure, t.AccountName, err)
		}
		path := filepath.Join(dir, metadataFileName(t.AccountName))
		if err := writeFileAtomic(path, data); err != nil {
			return err
		}
	}
	return nil
}

// writeFileAtomic writes data to path via a temp file in the same directory
// followed by a rename, so readers never see a partially written file.
func writeFileAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("%w: writing %s: %v", cferrors.ErrIoFailure, tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: renaming %s to %s: %v", cferrors.ErrIoFailure, tmpPath, path, err)
	}
	return nil
}

// ListMetadataFiles recursively enumerates regular files under krbBase whose
// name contains the metadata suffix.
func ListMetadataFiles(krbBase string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(krbBase, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() && strings.Contains(d.Name(), metadataSuffix) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walking %s: %v", cferrors.ErrIoFailure, krbBase, err)
	}
	return paths, nil
}

// ReadMetadata reads and unmarshals the ticket(s) recorded at path. The
// metadata schema is one ticket per file; a single-element slice is
// returned for uniformity with callers that batch across files.
func ReadMetadata(path string) ([]KrbTicketInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", cferrors.ErrIoFailure, path, err)
	}
	var t KrbTicketInfo
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: parsing metadata %s: %v", cferrors.ErrParseFailure, path, err)
	}
	return []KrbTicketInfo{t}, nil
}

// Destroyer tears down a credential cache, matching kdestroy's contract:
// KRB5CCNAME in env points at the cache to destroy.
type Destroyer interface {
	Destroy(ctx context.Context, credCachePath string) error
}

// DeleteLease destroys every ticket's credential cache under leaseID's
// metadata files, logging (but not aborting on) individual destruction
// failures, then removes the lease directory.
func (s *Store) DeleteLease(ctx context.Context, leaseID string, d Destroyer) error {
	if err := validate.LeaseID(leaseID); err != nil {
		return err
	}

	dir := s.leaseDir(leaseID)
	files, err := ListMetadataFiles(dir)
	if err != nil {
		return err
	}

	for _, f := range files {
		tickets, err := ReadMetadata(f)
		if err != nil {
			s.Logger.Warn("skipping unreadable metadata during lease deletion", "file", f, "error", err)
			continue
		}
		for _, t := range tickets {
			if err := d.Destroy(ctx, t.CredCachePath); err != nil {
				s.Logger.Warn("kdestroy failed during lease deletion", "cred_cache", t.CredCachePath, "error", err)
			}
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: removing lease directory %s: %v", cferrors.ErrIoFailure, dir, err)
	}
	return nil
}
