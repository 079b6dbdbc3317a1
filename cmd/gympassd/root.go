package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli holds state shared by every subcommand
type cli struct {
	v          *viper.Viper
	configPath string
	cfg        *Config
	log        zerolog.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "gympassd",
		Short:         "Gym membership service",
		Long:          "gympassd reconciles Stripe subscriptions and issues quota-gated facility passes.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(c.v, c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.log = newZerolog(cfg.Log, cmd.ErrOrStderr())
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", os.Getenv("GYMPASS_CONFIG"), "Path to a YAML config file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "json", "Log format (json, console)")
	flags.String("storage-driver", "memory", "Storage driver (memory, postgres)")
	_ = c.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = c.v.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = c.v.BindPFlag("storage.driver", flags.Lookup("storage-driver"))

	root.AddCommand(newServeCommand(c))
	root.AddCommand(newMigrateCommand(c))
	root.AddCommand(newSweepCommand(c))

	return root
}
