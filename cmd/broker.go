package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"disgb/internal/admin"
	"disgb/internal/area"
	"disgb/internal/broker"
	"disgb/internal/logger"
)

var (
	brokerConfigPath string
	brokerDebugFlag  bool
	brokerAdminURL   string
	tokenSubject     string
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Start a DisGB broker",
	Long: `Start one broker of the federation. The broker loads its area descriptor, connects a
pool of communicators to every peer broker and listens for envelopes forwarded by the peers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetSilentMode(false)
		if brokerDebugFlag || verbose {
			logger.SetLevel(logger.LOG_DEBUG)
		} else {
			logger.SetLevel(logger.LOG_INFO)
		}

		log := logger.New()
		log.Info().
			Str("config_path", brokerConfigPath).
			Bool("debug", brokerDebugFlag).
			Msg("Starting DisGB broker")

		if _, err := os.Stat(brokerConfigPath); os.IsNotExist(err) {
			if err := broker.SaveConfig(broker.NewDefaultConfig(), brokerConfigPath); err != nil {
				return fmt.Errorf("failed to create default config file: %w", err)
			}
			log.Info().
				Str("config_path", brokerConfigPath).
				Msg("Created default configuration file. Please edit it with your settings.")
			return nil
		}

		config, err := broker.LoadConfig(brokerConfigPath)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load broker configuration")
			return err
		}
		if err := logger.Configure(config.Logging); err != nil {
			return err
		}
		if brokerDebugFlag || verbose {
			logger.SetLevel(logger.LOG_DEBUG)
		}
		log = logger.New()

		daemon, err := broker.NewDaemon(config, brokerConfigPath)
		if err != nil {
			var configErr *area.ConfigError
			if errors.As(err, &configErr) {
				log.Error().Err(err).Int("entry", configErr.Index).Msg("Invalid area descriptor")
			} else {
				log.Error().Err(err).Msg("Failed to create broker daemon")
			}
			return err
		}

		// blocks until shutdown
		if err := daemon.Run(); err != nil {
			log.Error().Err(err).Msg("Broker stopped with error")
			return fmt.Errorf("broker error: %w", err)
		}
		return nil
	},
}

var brokerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running broker",
	Long:  `Query the admin API of a running broker and print its status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(brokerAdminURL + "/status")
		if err != nil {
			return fmt.Errorf("failed to reach admin API: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read admin API response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("admin API returned %s: %s", resp.Status, body)
		}

		cmd.Println(string(body))
		return nil
	},
}

var brokerConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage broker configuration",
	Long:  `Generate or validate broker configuration files.`,
}

var brokerConfigGenerateCmd = &cobra.Command{
	Use:   "generate [config-file]",
	Short: "Generate default configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := brokerConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		if err := broker.SaveConfig(broker.NewDefaultConfig(), configPath); err != nil {
			return fmt.Errorf("failed to save default config: %w", err)
		}

		cmd.Printf("Default configuration saved to: %s\n", configPath)
		cmd.Println("Please edit the broker id and the areas file before starting the broker.")
		return nil
	},
}

var brokerConfigValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Validate a broker configuration file and the area descriptor it points to.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := brokerConfigPath
		if len(args) > 0 {
			configPath = args[0]
		}

		config, err := broker.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		areasFile := config.ResolveAreasFile(configPath)
		areas, err := area.LoadFile(areasFile, config.Broker.ID)
		if err != nil {
			return fmt.Errorf("area descriptor validation failed: %w", err)
		}

		cmd.Printf("Configuration file is valid: %s\n", configPath)
		cmd.Printf("Broker: %s\n", config.Broker.ID)
		cmd.Printf("Communicators: %d\n", config.Communicators)
		if own, ok := areas.OwnArea(); ok {
			cmd.Printf("Own area: %s at %s\n", own.CoveredArea, own.ResponsibleBroker.Address())
		} else {
			cmd.Printf("Own area: missing from %s\n", areasFile)
		}
		for _, peer := range areas.OtherBrokers() {
			cmd.Printf("  - peer %s\n", peer)
		}
		return nil
	},
}

var brokerTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin API token",
	Long:  `Issue a token for the mutating endpoints of the admin API, signed with the configured secret.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := broker.LoadConfig(brokerConfigPath)
		if err != nil {
			return err
		}
		if config.Admin.TokenSecret == "" {
			return fmt.Errorf("admin.token_secret is not set in %s", brokerConfigPath)
		}

		tokens := admin.NewTokenService(config.Admin.TokenSecret, config.Broker.ID, config.Admin.TokenExpiry)
		token, err := tokens.GenerateToken(tokenSubject, admin.ScopeAreas)
		if err != nil {
			return err
		}
		cmd.Println(token)
		return nil
	},
}

func init() {
	brokerCmd.PersistentFlags().StringVarP(&brokerConfigPath, "config", "c", "broker.yml", "Path to broker configuration file")
	brokerCmd.Flags().BoolVarP(&brokerDebugFlag, "debug", "d", false, "Enable debug logging")

	brokerStatusCmd.Flags().StringVar(&brokerAdminURL, "admin-url", "http://127.0.0.1:8081", "Base URL of the admin API")
	brokerTokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "Subject of the issued token")

	brokerCmd.AddCommand(brokerStatusCmd)
	brokerCmd.AddCommand(brokerConfigCmd)
	brokerCmd.AddCommand(brokerTokenCmd)
	brokerConfigCmd.AddCommand(brokerConfigGenerateCmd)
	brokerConfigCmd.AddCommand(brokerConfigValidateCmd)
}
