package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smhmhmd/credentials-fetcher/internal/renewal"
)

var (
	renewOnce           bool
	renewInterval       time.Duration
	renewDomainlessUser string
)

var renewCmd = &cobra.Command{
	Use:   "renew",
	Short: "Run the renewal engine",
	Long: `Run the renewal pass that reissues tickets nearing their renew-until
deadline. With --once it runs a single pass and exits; otherwise it runs
continuously at --interval until interrupted.`,
	RunE: runRenew,
}

func init() {
	renewCmd.Flags().BoolVar(&renewOnce, "once", false, "run a single renewal pass and exit")
	renewCmd.Flags().DurationVar(&renewInterval, "interval", 30*time.Minute, "renewal pass cadence when not using --once")
	renewCmd.Flags().StringVar(&renewDomainlessUser, "domainless-user", "", "username to supply for refreshing domainless-mode tickets (password read from stdin)")
}

func runRenew(cmd *cobra.Command, args []string) error {
	mgr, err := buildManager(cmd.Context())
	if err != nil {
		return err
	}

	var domainless *renewal.DomainlessCredentials
	if renewDomainlessUser != "" {
		pw, err := readPasswordFromStdin()
		if err != nil {
			return err
		}
		domainless = &renewal.DomainlessCredentials{Username: renewDomainlessUser, Password: pw}
	}

	if renewOnce {
		return mgr.RenewOnce(cmd.Context(), domainless)
	}

	if err := mgr.StartRenewal(renewInterval); err != nil {
		return err
	}
	fmt.Println("renewal engine running, press Ctrl+C to stop")
	<-cmd.Context().Done()
	return mgr.StopRenewal()
}
