// Package main is the tebiki CLI entry point.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hyperjump/tebiki/internal/cli"
	"github.com/hyperjump/tebiki/internal/config"
	"github.com/hyperjump/tebiki/pkg/client"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/tebiki/config.yaml"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	server     string
	json       bool
	debug      bool
}

func (g *globalFlags) format() cli.OutputFormat {
	if g.json {
		return cli.OutputJSON
	}
	return cli.OutputText
}

func (g *globalFlags) client() (*client.Client, error) {
	return client.New(g.server, client.WithDebug(g.debug))
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "tebiki",
		Short:         "Document ingestion and vector search for retrieval-augmented generation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&g.configPath, "config", defaultConfigPath, "config file path")
	pf.StringVar(&g.server, "server", client.DefaultBaseURL, "server URL for client commands")
	pf.BoolVar(&g.json, "json", false, "print JSON instead of text")
	pf.BoolVar(&g.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newServerCommand(g),
		newMigrateCommand(g),
		newIngestCommand(g),
		newSearchCommand(g),
		newTagsCommand(g),
		newStatusCommand(g),
		newStatsCommand(g),
		newDocumentsCommand(g),
		newConfigCommand(g),
		newVersionCommand(),
	)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tebiki %s\n", version)
		},
	}
}

// loadConfig loads config from path after reading .env into the environment.
// When path is the default, config.yaml in the current directory wins if it
// exists, and a missing default file yields defaults plus environment.
// Returns the config and the path that was actually loaded ("" for none).
func loadConfig(path string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", err
	}
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg, err := config.Load("")
			if err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}
