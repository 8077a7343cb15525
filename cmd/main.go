package main

import (
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	cfg     Config
	conf    = viper.New()
)

var rootCmd = &cobra.Command{
	Use:           "enginetest",
	Short:         "Launch engine builds and drive their remote console",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = loadConfig(conf, cfgFile); err != nil {
			return err
		}

		level, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}

		configureLogging(level)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default: .enginetest/config.yaml)")
	flags.String("platform", "", "launcher to use, e.g. windows, linux_dedicated or android")
	flags.String("project", "", "game project name")
	flags.String("dev-dir", "", "engine dev directory holding the settings files")
	flags.String("build-dir", "", "directory holding the built binaries")
	flags.String("artifacts-dir", "", "root directory for run artifacts")
	flags.String("log-level", "", "debug, info, warn or error")

	for key, flag := range map[string]string{
		"platform":                "platform",
		"workspace.project":       "project",
		"workspace.dev_dir":       "dev-dir",
		"workspace.build_dir":     "build-dir",
		"workspace.artifacts_dir": "artifacts-dir",
		"log_level":               "log-level",
	} {
		_ = conf.BindPFlag(key, flags.Lookup(flag))
	}

	rootCmd.AddCommand(runCmd, serveCmd)
}

func main() {
	configureLogging(log.InfoLevel)

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("failed")
		os.Exit(1)
	}
}

func configureLogging(level log.Level) {
	log.SetLevel(level)
	log.SetHandler(cli.Default)
}
