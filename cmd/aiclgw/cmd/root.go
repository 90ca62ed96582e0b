package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/config"
	"github.com/nbhdai/aicl-oidc/cmd/aiclgw/internal/logging"
)

var (
	cfg        *config.Config
	logger     *zap.SugaredLogger
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "aiclgw",
	Short: "AICL identity gateway",
	Long: `aiclgw authenticates browsers through an OpenID Connect login and API
clients through bearer tokens, resolves them against the identity provider's
directory and serves the gateway's identity, token and admin endpoints.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ReadConfigFile(configFile); err != nil {
			return err
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger, err = logging.New(cfg.Debug)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default ./aiclgw.yaml)")
	flags.String("db-url", "", "Database connection URL (env: AICL_DATABASE_URL)")
	flags.String("server-addr", "", "Server bind address (env: AICL_SERVER_ADDR)")
	flags.String("server-url", "", "Public base URL of the gateway (env: AICL_SERVER_URL)")
	flags.Bool("debug", false, "Enable debug logging (env: AICL_DEBUG)")

	_ = viper.BindPFlag("database_url", flags.Lookup("db-url"))
	_ = viper.BindPFlag("server_addr", flags.Lookup("server-addr"))
	_ = viper.BindPFlag("server_url", flags.Lookup("server-url"))
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
