package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/thanglish/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagListenAddr         = "listen-addr"
	flagDatabaseURL        = "database-url"
	flagStaticDir          = "static-dir"
	flagAllowedOrigins     = "allowed-origins"
	flagSessionSigningKey  = "session-signing-key"
	flagSessionIssuer      = "session-issuer"
	flagSessionCookieName  = "session-cookie-name"
	flagSecureCookies      = "secure-cookies"
	flagGoogleClientID     = "google-client-id"
	flagGatewayKeyID       = "gateway-key-id"
	flagGatewayKeySecret   = "gateway-key-secret"
	flagGatewayBaseURL     = "gateway-base-url"
	flagGenerativeAPIKey   = "generative-api-key"
	flagGenerativeEndpoint = "generative-endpoint"
	flagGenerativeModel    = "generative-model"
	flagPerMinuteRate      = "per-minute-rate-cents"
	flagDevLogin           = "dev-login"
	flagDevLoginOrigins    = "dev-login-origins"
	envPrefix              = "THANGLISH"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "thanglishd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := server.Config{}
	cmd := &cobra.Command{
		Use:           "thanglishd",
		Short:         "Tamil audio subtitle service with metered entitlements",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagDatabaseURL, "", "database URL (sqlite:// or postgres://)")
	cmd.Flags().String(flagStaticDir, "", "directory of static frontend assets to serve")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagSessionSigningKey, "", "session JWT signing key (required)")
	cmd.Flags().String(flagSessionIssuer, "", "session JWT issuer")
	cmd.Flags().String(flagSessionCookieName, "", "session cookie name")
	cmd.Flags().Bool(flagSecureCookies, false, "set the Secure attribute on session cookies")
	cmd.Flags().String(flagGoogleClientID, "", "Google OAuth client id for credential verification (required)")
	cmd.Flags().String(flagGatewayKeyID, "", "payment gateway key id (required)")
	cmd.Flags().String(flagGatewayKeySecret, "", "payment gateway key secret (required)")
	cmd.Flags().String(flagGatewayBaseURL, "", "payment gateway base URL override")
	cmd.Flags().String(flagGenerativeAPIKey, "", "generative model API key (required)")
	cmd.Flags().String(flagGenerativeEndpoint, "", "generative model endpoint override")
	cmd.Flags().String(flagGenerativeModel, "", "generative model name")
	cmd.Flags().Int64(flagPerMinuteRate, 0, "wallet rate charged per minute of audio, in minor units")
	cmd.Flags().Bool(flagDevLogin, false, "enable the loopback-only dev login endpoint")
	cmd.Flags().String(flagDevLoginOrigins, "", "comma-separated origins allowed to use dev login")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *server.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	allFlags := []string{
		flagListenAddr, flagDatabaseURL, flagStaticDir, flagAllowedOrigins,
		flagSessionSigningKey, flagSessionIssuer, flagSessionCookieName, flagSecureCookies,
		flagGoogleClientID, flagGatewayKeyID, flagGatewayKeySecret, flagGatewayBaseURL,
		flagGenerativeAPIKey, flagGenerativeEndpoint, flagGenerativeModel,
		flagPerMinuteRate, flagDevLogin, flagDevLoginOrigins,
	}
	for _, flagName := range allFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	for _, required := range []string{flagSessionSigningKey, flagGoogleClientID, flagGatewayKeyID, flagGatewayKeySecret, flagGenerativeAPIKey} {
		if !v.IsSet(required) {
			return fmt.Errorf("%s is required", required)
		}
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.StaticDir = strings.TrimSpace(v.GetString(flagStaticDir))
	cfg.AllowedOrigins = server.ParseOrigins(v.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = v.GetString(flagSessionSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagSessionIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagSessionCookieName))
	cfg.SecureCookies = v.GetBool(flagSecureCookies)
	cfg.GoogleClientID = strings.TrimSpace(v.GetString(flagGoogleClientID))
	cfg.GatewayKeyID = strings.TrimSpace(v.GetString(flagGatewayKeyID))
	cfg.GatewayKeySecret = v.GetString(flagGatewayKeySecret)
	cfg.GatewayBaseURL = strings.TrimSpace(v.GetString(flagGatewayBaseURL))
	cfg.GenerativeAPIKey = v.GetString(flagGenerativeAPIKey)
	cfg.GenerativeEndpoint = strings.TrimSpace(v.GetString(flagGenerativeEndpoint))
	cfg.GenerativeModel = strings.TrimSpace(v.GetString(flagGenerativeModel))
	cfg.PerMinuteRateCents = v.GetInt64(flagPerMinuteRate)
	cfg.DevLoginEnabled = v.GetBool(flagDevLogin)
	cfg.DevLoginOrigins = server.ParseOrigins(v.GetString(flagDevLoginOrigins))

	return cfg.Validate()
}
