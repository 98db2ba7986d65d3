package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/tebiki/internal/cli"
	"github.com/hyperjump/tebiki/internal/docid"
	"github.com/hyperjump/tebiki/internal/extract"
	"github.com/hyperjump/tebiki/internal/indexer"
	"github.com/hyperjump/tebiki/internal/models"
	"github.com/hyperjump/tebiki/pkg/client"
)

func newIngestCommand(g *globalFlags) *cobra.Command {
	var (
		text     string
		key      string
		filename string
		tags     []string
	)
	cmd := &cobra.Command{
		Use:   "ingest [path...|-]",
		Short: "Ingest text, files, or every supported file under a directory",
		Long: `Ingest sends documents to a running server.

With --text or "-" (stdin) the text is ingested as is. A file is uploaded for
server-side extraction. A directory is walked and each supported file is
keyed by its path relative to the directory, so re-ingesting updates in place.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if text != "" || (len(args) == 1 && args[0] == "-") {
				if len(args) > 0 && args[0] != "-" {
					return fmt.Errorf("--text cannot be combined with paths")
				}
				name := sourceName(filename, "text.txt")
				if text == "" {
					data, err := io.ReadAll(cmd.InOrStdin())
					if err != nil {
						return fmt.Errorf("failed to read stdin: %w", err)
					}
					text = string(data)
					name = sourceName(filename, "stdin.txt")
				}
				res, err := c.Ingest(ctx, models.IngestRequest{Filename: name, Text: text, Tags: tags, Key: key})
				if err != nil {
					return err
				}
				return cli.WriteIngestResult(out, name, res, g.format())
			}
			if len(args) == 0 {
				return fmt.Errorf("nothing to ingest: pass a path, \"-\" or --text")
			}
			if key != "" && len(args) > 1 {
				return fmt.Errorf("--key applies to a single file")
			}
			for _, path := range args {
				if err := ingestPath(ctx, c, out, path, key, tags, g.format()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&text, "text", "", "text to ingest")
	f.StringVar(&key, "key", "", "stable document key (file and text ingests)")
	f.StringVar(&filename, "filename", "", "filename recorded for --text and stdin ingests (default text.txt or stdin.txt)")
	f.StringSliceVar(&tags, "tags", nil, "comma-separated tags")
	return cmd
}

func sourceName(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

func ingestPath(ctx context.Context, c *client.Client, out io.Writer, path, key string, tags []string, format cli.OutputFormat) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		res, err := c.IngestFile(ctx, path, key, tags)
		if err != nil {
			return err
		}
		return cli.WriteIngestResult(out, path, res, format)
	}
	if key != "" {
		return fmt.Errorf("--key cannot be used with a directory")
	}
	files, err := ingestableFiles(path)
	if err != nil {
		return err
	}
	var failed int
	for _, file := range files {
		res, err := c.IngestFile(ctx, file, docid.FileKey(path, file), tags)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: %v\n", file, err)
			continue
		}
		if err := cli.WriteIngestResult(out, file, res, format); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

// ingestableFiles lists the files under dir with an extractable extension, skipping hidden directories.
func ingestableFiles(dir string) ([]string, error) {
	allowed := extract.Extensions()
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if indexer.ExtensionAllowed(filepath.Ext(path), allowed) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func newSearchCommand(g *globalFlags) *cobra.Command {
	var (
		limit     int
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search ingested chunks by similarity",
		Long:  "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			q := buildSearchQuery(args, limit, cmd.Flags().Changed("limit"), threshold, cmd.Flags().Changed("threshold"))
			resp, err := c.Search(cmd.Context(), q)
			if err != nil {
				return err
			}
			return cli.WriteSearchResults(cmd.OutOrStdout(), resp, g.format())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results (server config when unset)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum similarity (server config when unset)")
	return cmd
}

// buildSearchQuery joins args into the query text. Limit and threshold are
// sent only when set so the server applies its configured defaults.
func buildSearchQuery(args []string, limit int, limitSet bool, threshold float64, thresholdSet bool) models.SearchQuery {
	q := models.SearchQuery{Query: strings.TrimSpace(strings.Join(args, " "))}
	if limitSet {
		q.Limit = &limit
	}
	if thresholdSet {
		q.Threshold = &threshold
	}
	return q
}

func newTagsCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tags <tag>...",
		Short: "List chunks carrying any of the given tags",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			resp, err := c.SearchByTags(cmd.Context(), args)
			if err != nil {
				return err
			}
			return cli.WriteTagResults(cmd.OutOrStdout(), resp, g.format())
		},
	}
}

func newStatusCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show document, chunk and vector counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.format() == cli.OutputJSON {
				return cli.WriteJSON(out, st)
			}
			fmt.Fprintf(out, "Server:    %s\n", g.server)
			fmt.Fprintf(out, "Documents: %d\n", st.Documents)
			fmt.Fprintf(out, "Chunks:    %d\n", st.Chunks)
			fmt.Fprintf(out, "Vectors:   %d\n", st.Vectors)
			return nil
		},
	}
}

func newStatsCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show corpus counts and the most used tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return cli.WriteStats(cmd.OutOrStdout(), stats, g.format())
		},
	}
}

func newDocumentsCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "List, show or delete documents",
	}

	var offset, limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List documents, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			docs, err := c.ListDocuments(cmd.Context(), offset, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.format() == cli.OutputJSON {
				return cli.WriteJSON(out, docs)
			}
			for _, d := range docs.Documents {
				writeDocument(out, d)
			}
			fmt.Fprintf(out, "%d document(s)\n", docs.Count)
			return nil
		},
	}
	list.Flags().IntVar(&offset, "offset", 0, "number of documents to skip")
	list.Flags().IntVar(&limit, "limit", 20, "maximum documents to list")

	get := &cobra.Command{
		Use:   "get <doc-id>",
		Short: "Show one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			doc, err := c.GetDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if g.format() == cli.OutputJSON {
				return cli.WriteJSON(cmd.OutOrStdout(), doc)
			}
			writeDocument(cmd.OutOrStdout(), doc)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <doc-id>",
		Short: "Delete a document with its chunks and vectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			if err := c.DeleteDocument(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Document deleted: %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, get, del)
	return cmd
}

func writeDocument(w io.Writer, d *models.DocumentSummary) {
	fmt.Fprintf(w, "%s  v%d  %s  chunks=%d\n", d.DocID, d.Version, d.Filename, d.Chunks)
}
