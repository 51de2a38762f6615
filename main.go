package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tuxx/fancysaver/internal/config"
)

var (
	cfgFile  string
	logLevel string
	pretty   bool
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fancysaver",
		Short: "FancySaver - X11 screensaver window manager",
		Long: `FancySaver covers every monitor with a black saver window when activated,
holds the keyboard and pointer grabs, and notifies listeners when the
session should switch to the greeter or lock.

It is controlled over the session bus and follows logind for session
visibility, lid state and lock requests.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/fancysaver/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "human readable log output")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the saver daemon",
		Example: `  # Run with the default config
  fancysaver run

  # Run with debug logging and a custom config
  fancysaver run --log-level debug --config ~/saver.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd)
		},
	}

	rootCmd.AddCommand(runCmd, newConfigCmd())
	return rootCmd
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage FancySaver configuration",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.GenerateDefaultConfigFile()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := newLoader(cmd)
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			encoder := yaml.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent(2)
			defer encoder.Close()
			return encoder.Encode(cfg)
		},
	}

	configCmd.AddCommand(initCmd, showCmd)
	return configCmd
}

// newLoader builds a config loader with the persistent flags bound.
func newLoader(cmd *cobra.Command) *config.Loader {
	loader := config.NewLoader(cfgFile)
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		loader.Viper().BindPFlag("log_level", f)
	}
	return loader
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
