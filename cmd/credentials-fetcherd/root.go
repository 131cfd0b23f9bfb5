package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smhmhmd/credentials-fetcher/internal/config"
	"github.com/smhmhmd/credentials-fetcher/internal/daemon"
	"github.com/smhmhmd/credentials-fetcher/internal/logging"
	"github.com/smhmhmd/credentials-fetcher/internal/secretsmanager"
)

var (
	flagDomain      string
	flagKrbBase     string
	flagDecoderPath string
	flagConfigPath  string
	flagLogLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "credentials-fetcherd",
	Short: "Fetch and continuously renew Kerberos tickets for gMSA and user service accounts",
	Long: `credentials-fetcherd obtains Kerberos tickets for Group Managed Service
Accounts and ordinary domain users, persists their lease metadata, and
renews them on a schedule before their renew-until deadline.

This CLI is an administrative surface over the daemon's Go API — the same
calls a future gRPC handler would make — useful for operators and
integration tests driving the daemon without a client SDK.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDomain, "domain", "", "DNS domain to operate against (required)")
	rootCmd.PersistentFlags().StringVar(&flagKrbBase, "krb-base", daemon.DefaultKrbBase, "root directory for lease metadata and credential caches")
	rootCmd.PersistentFlags().StringVar(&flagDecoderPath, "decoder-path", "/usr/libexec/credentials-fetcher/credentialsfetcher-utf16-decode", "path to the bundled UTF-16LE decoder binary")
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", config.DefaultPath, "path to the ecs.config-style configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(leaseCmd)
	rootCmd.AddCommand(renewCmd)
}

// buildManager loads configuration and wires a daemon.Manager for the
// current invocation's flags.
func buildManager(ctx context.Context) (*daemon.Manager, error) {
	if flagDomain == "" {
		return nil, fmt.Errorf("--domain is required")
	}

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg = config.ApplyEnvOverrides(cfg)

	log := logging.New("credentials-fetcherd", flagLogLevel)

	secrets, err := secretsmanager.New(ctx)
	if err != nil {
		log.Warn("secrets manager client unavailable; user-from-secret leases will fail", "error", err)
	}

	return daemon.New(flagDomain, flagKrbBase, flagDecoderPath, cfg, secrets, log), nil
}
