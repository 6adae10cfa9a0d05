package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zkattest/nitro-prover/config"
	"github.com/zkattest/nitro-prover/logging"
)

var (
	rootCmdConfigPath string
	rootCmdLogLevel   string
	rootCmdLogFormat  string
	rootCmdBackend    string
)

// Set by PersistentPreRunE for the subcommands.
var (
	cfg    *config.Config
	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:           "nitro-prover",
	Short:         "Prove AWS Nitro attestations and encode them for on-chain verification",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err = logging.Setup(cfg.Log)
		return err
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&rootCmdConfigPath, "config", "", "path to a YAML config file")
	flags.StringVar(&rootCmdLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&rootCmdLogFormat, "log-format", "", "log format (console, json)")
	flags.StringVar(&rootCmdBackend, "backend", "", "proving backend (local, remote, external)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(proveCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(imageIDCmd)
}

// loadConfig layers defaults, the config file, PROVER_* variables and finally explicit flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c, err := config.Load(rootCmdConfigPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.Log.Level = rootCmdLogLevel
	}
	if flags.Changed("log-format") {
		c.Log.Format = rootCmdLogFormat
	}
	if flags.Changed("backend") {
		c.Prover.Backend = rootCmdBackend
	}
	return c, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
