package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "gateway",
		Short: "Admission-control gateway for plugin hosts",
		Long: `Reverse proxy that admits, delays or rejects requests before they reach
the plugin host: tiered rate limits, progressive slow-down, input validation,
per-plugin quotas and request correlation.

Configuration is layered: defaults, then --config (YAML), then GATEWAY_*
environment variables (e.g. GATEWAY_COUNTER_STORE_BACKEND=redis).`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	load := func() (Config, error) { return loadConfig(viper.New(), cfgFile) }
	root.AddCommand(newServeCmd(load), newConfigCmd(load))
	return root
}
