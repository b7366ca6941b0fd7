package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	var (
		cfgPath string
		devMode bool
	)
	rootCmd := &cobra.Command{
		Use:           "shop",
		Short:         "Subscription shop backend: payment webhooks, promo codes, admin API",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "enable developer mode")

	rootCmd.AddCommand(serveCmd(&cfgPath, &devMode))
	rootCmd.AddCommand(migrateCmd(&cfgPath, &devMode))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
