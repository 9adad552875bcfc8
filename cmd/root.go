package cmd

import (
	"github.com/lomito/escalation-service/internal/config"
	"github.com/lomito/escalation-service/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "escalation-service",
	Short:         "Case escalation lifecycle: authority emails, reminder sweeps, inbound replies, push fan-out",
	RunE:          runAPI,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		log := logging.New(logging.Config{Level: "error", ServiceName: "escalation-service"})
		log.Error().Err(err).Msg("command failed")
	}
	return err
}

func init() {
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
}

// loadConfig reads .env files and the environment and builds the service logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log := logging.New(logging.Config{
		Level:       cfg.LogLevel,
		ServiceName: "escalation-service",
		Environment: cfg.AppEnv,
	})
	return cfg, log, nil
}
