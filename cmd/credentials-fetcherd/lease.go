package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smhmhmd/credentials-fetcher/internal/leasestore"
	"github.com/smhmhmd/credentials-fetcher/internal/secretbuf"

	"github.com/smhmhmd/credentials-fetcher/internal/daemon"
)

var leaseCmd = &cobra.Command{
	Use:   "lease",
	Short: "Manage credential leases",
}

var (
	leaseAccounts       []string
	leaseAuthMode       string
	leaseSecretName     string
	leaseDomainlessUser string
)

var leaseRequestCmd = &cobra.Command{
	Use:   "request <lease-id>",
	Short: "Request a lease and issue initial tickets for its accounts",
	Args:  cobra.ExactArgs(1),
	RunE:  runLeaseRequest,
}

var leaseReleaseCmd = &cobra.Command{
	Use:   "release <lease-id>",
	Short: "Destroy a lease's credential caches and remove its metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runLeaseRelease,
}

var leaseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List lease IDs known to the daemon",
	Args:  cobra.NoArgs,
	RunE:  runLeaseList,
}

func init() {
	leaseRequestCmd.Flags().StringSliceVar(&leaseAccounts, "account", nil, "account name to issue a ticket for (repeatable)")
	leaseRequestCmd.Flags().StringVar(&leaseAuthMode, "auth-mode", "machine_keytab", "auth mode: machine_keytab|user_from_secret|domainless")
	leaseRequestCmd.Flags().StringVar(&leaseSecretName, "secret-name", "", "secret name for user_from_secret mode")
	leaseRequestCmd.Flags().StringVar(&leaseDomainlessUser, "domainless-user", "", "username for domainless mode (password read from stdin)")

	leaseCmd.AddCommand(leaseRequestCmd)
	leaseCmd.AddCommand(leaseReleaseCmd)
	leaseCmd.AddCommand(leaseListCmd)
}

func runLeaseRequest(cmd *cobra.Command, args []string) error {
	leaseID := args[0]
	if len(leaseAccounts) == 0 {
		return fmt.Errorf("at least one --account is required")
	}

	authMode, err := parseAuthMode(leaseAuthMode)
	if err != nil {
		return err
	}

	var domainlessPass *secretbuf.Buffer
	if authMode == leasestore.AuthModeDomainless {
		if leaseDomainlessUser == "" {
			return fmt.Errorf("--domainless-user is required for domainless mode")
		}
		domainlessPass, err = readPasswordFromStdin()
		if err != nil {
			return err
		}
	}

	mgr, err := buildManager(cmd.Context())
	if err != nil {
		return err
	}

	requests := make([]daemon.LeaseAccountRequest, 0, len(leaseAccounts))
	for _, account := range leaseAccounts {
		requests = append(requests, daemon.LeaseAccountRequest{
			AccountName:    account,
			AuthMode:       authMode,
			SecretName:     leaseSecretName,
			DomainlessUser: leaseDomainlessUser,
			DomainlessPass: domainlessPass,
		})
	}

	tickets, err := mgr.RequestLease(cmd.Context(), leaseID, requests)
	if err != nil {
		return err
	}

	for _, t := range tickets {
		fmt.Printf("issued %s: %s\n", t.AccountName, t.CredCachePath)
	}
	return nil
}

func runLeaseRelease(cmd *cobra.Command, args []string) error {
	mgr, err := buildManager(cmd.Context())
	if err != nil {
		return err
	}
	return mgr.ReleaseLease(cmd.Context(), args[0])
}

func runLeaseList(cmd *cobra.Command, args []string) error {
	mgr, err := buildManager(cmd.Context())
	if err != nil {
		return err
	}
	leases, err := mgr.ListLeases()
	if err != nil {
		return err
	}
	for _, id := range leases {
		fmt.Println(id)
	}
	return nil
}

func parseAuthMode(s string) (leasestore.AuthMode, error) {
	switch leasestore.AuthMode(s) {
	case leasestore.AuthModeMachineKeytab, leasestore.AuthModeUserFromSecret, leasestore.AuthModeDomainless:
		return leasestore.AuthMode(s), nil
	default:
		return "", fmt.Errorf("unrecognized auth mode %q", s)
	}
}

// readPasswordFromStdin reads a single line from stdin into a scrubbing
// buffer. Domainless passwords are never accepted as a flag — that would
// put them in argv and the process table.
func readPasswordFromStdin() (*secretbuf.Buffer, error) {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("reading password from stdin: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")

	buf := secretbuf.New(len(line))
	copy(buf.Bytes(), line)
	return buf, nil
}
