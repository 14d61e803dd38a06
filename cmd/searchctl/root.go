package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wiki-search/pkg/logger"
	"github.com/spf13/cobra"
)

const (
	flagConfig   = "config"
	flagUser     = "user"
	flagGroups   = "groups"
	flagType     = "type"
	flagOffset   = "offset"
	flagLimit    = "limit"
	flagUsers    = "users"
	flagLogLevel = "log-level"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "searchctl",
		Short:        "Operate the wiki search index",
		Long:         `Parse and preview search queries, rebuild the index and run searches against the configured engine.`,
		SilenceUsage: true,
		PersistentPreRun: func(c *cobra.Command, _ []string) {
			level, _ := c.Flags().GetString(flagLogLevel)
			logger.SetupWriter(c.ErrOrStderr(), level, "text")
		},
		Run: func(c *cobra.Command, _ []string) {
			_ = c.Help()
		},
	}
	root.PersistentFlags().String(flagConfig, "configs/development.yaml", "path to config file")
	root.PersistentFlags().String(flagLogLevel, "info", "log level: debug, info, warn, error")

	root.AddCommand(
		newParseCmd(),
		newBuildQueryCmd(),
		newSearchCmd(),
		newRebuildCmd(),
		newInfoCmd(),
		newPublishCmd(),
		newLoadTestCmd(),
	)
	return root
}

func loadConfig(c *cobra.Command) (*config.Config, error) {
	path, _ := c.Flags().GetString(flagConfig)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
