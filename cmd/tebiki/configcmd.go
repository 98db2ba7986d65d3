package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/tebiki/internal/cli"
	"github.com/hyperjump/tebiki/internal/ragconfig"
)

func newConfigCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and change the server's retrieval configuration",
		Long: `Changes are given as field=value pairs using the JSON field names,
for example: tebiki config set chunkSize=600 chunkOverlap=60`,
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			cfg, err := c.RagConfig(cmd.Context())
			if err != nil {
				return err
			}
			return cli.WriteJSON(cmd.OutOrStdout(), cfg)
		},
	}

	set := &cobra.Command{
		Use:   "set field=value...",
		Short: "Apply a validated partial update",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePatch(args)
			if err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			res, err := c.UpdateRagConfig(cmd.Context(), p)
			if err != nil {
				return err
			}
			if g.format() == cli.OutputJSON {
				return cli.WriteJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			cli.WriteChanges(cmd.OutOrStdout(), res.Changes)
			return nil
		},
	}

	validate := &cobra.Command{
		Use:   "validate field=value...",
		Short: "Check a partial update without applying it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePatch(args)
			if err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			res, err := c.ValidateRagConfig(cmd.Context(), p)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.format() == cli.OutputJSON {
				if err := cli.WriteJSON(out, res); err != nil {
					return err
				}
			} else if res.Valid {
				fmt.Fprintln(out, res.Message)
			} else {
				for _, e := range res.Errors {
					fmt.Fprintf(out, "  %s\n", e)
				}
			}
			if !res.Valid {
				return fmt.Errorf("configuration is invalid")
			}
			return nil
		},
	}

	diff := &cobra.Command{
		Use:   "diff field=value...",
		Short: "Show what a partial update would change",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePatch(args)
			if err != nil {
				return err
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			res, err := c.DiffRagConfig(cmd.Context(), p)
			if err != nil {
				return err
			}
			if g.format() == cli.OutputJSON {
				return cli.WriteJSON(cmd.OutOrStdout(), res)
			}
			cli.WriteChanges(cmd.OutOrStdout(), res.Changes)
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Restore the default configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			res, err := c.ResetRagConfig(cmd.Context())
			if err != nil {
				return err
			}
			if g.format() == cli.OutputJSON {
				return cli.WriteJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			cli.WriteChanges(cmd.OutOrStdout(), res.Changes)
			return nil
		},
	}

	var output string
	export := &cobra.Command{
		Use:   "export",
		Short: "Download the configuration as a JSON document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			data, err := c.ExportRagConfig(cmd.Context())
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration exported to %s\n", output)
			return nil
		},
	}
	export.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")

	cmd.AddCommand(show, set, validate, diff, reset, export)
	return cmd
}

// parsePatch turns field=value arguments into a Patch. Field names are the
// JSON names of RagConfig; unknown fields and non-numeric values are errors.
func parsePatch(args []string) (ragconfig.Patch, error) {
	fields := make(map[string]json.Number, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || name == "" {
			return ragconfig.Patch{}, fmt.Errorf("invalid argument %q: want field=value", arg)
		}
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return ragconfig.Patch{}, fmt.Errorf("%s: %q is not a number", name, value)
		}
		fields[name] = json.Number(value)
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return ragconfig.Patch{}, err
	}
	var p ragconfig.Patch
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return ragconfig.Patch{}, fmt.Errorf("invalid configuration change: %w", err)
	}
	return p, nil
}
