package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/vecdocs/internal/config"
	"github.com/kalambet/vecdocs/internal/document"
	"github.com/kalambet/vecdocs/internal/duplicate"
	"github.com/kalambet/vecdocs/internal/importer"
	"github.com/kalambet/vecdocs/internal/ingest"
	"github.com/kalambet/vecdocs/internal/vectorstore"
)

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <path>...",
	Short: "Import files or directories into an index",
	Long: `Import files or directories into an index, one file at a time.

Supported extensions: ` + strings.Join(importer.Extensions(), " ") + `

Examples:
  vecdocs import ./notes
  vecdocs import --index papers --dedupe paper.pdf
  vecdocs import --meta project=apollo --meta team=infra ./docs`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, _ := cmd.Flags().GetString("index")
		dedupe, _ := cmd.Flags().GetBool("dedupe")
		metaPairs, _ := cmd.Flags().GetStringArray("meta")

		meta, err := parseMeta(metaPairs)
		if err != nil {
			return err
		}

		files, err := importer.Collect(args)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			printWarning("No supported files found.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		opts := importer.Options{Index: index, Dedupe: dedupe, Metadata: meta}
		if dedupe && (cmd.Flags().Changed("threshold") || cmd.Flags().Changed("duplicate-strategy") || cmd.Flags().Changed("top-k")) {
			cfg, err := duplicateFlags(cmd)
			if err != nil {
				return err
			}
			opts.Duplicate = &cfg
		}

		printStep("Importing %d files", len(files))
		sum, err := runImport(cmd.Context(), remoteDocuments{client: client}, files, opts)
		if err != nil {
			return err
		}

		summary := fmt.Sprintf("%d added, %d updated, %d skipped, %d failed", sum.Added, sum.Updated, sum.Skipped, sum.Failed)
		if sum.Failed > 0 {
			printWarning("%s", summary)
			return fmt.Errorf("%d of %d files failed", sum.Failed, sum.Files)
		}
		printSuccess("%s", summary)
		return nil
	},
}

func runImport(ctx context.Context, docs importer.Adder, files []string, opts importer.Options) (importer.Summary, error) {
	return importer.New(docs, nil).Import(ctx, files, opts, printProgress)
}

// duplicateFlags reads the duplicate check overrides of the import command.
func duplicateFlags(cmd *cobra.Command) (duplicate.Config, error) {
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	strategy, _ := cmd.Flags().GetString("duplicate-strategy")
	topK, _ := cmd.Flags().GetInt("top-k")

	s, err := duplicate.ParseStrategy(strategy)
	if err != nil {
		return duplicate.Config{}, err
	}
	cfg := duplicate.Config{Enabled: true, Threshold: threshold, Strategy: s, TopK: topK}
	if err := cfg.Validate(); err != nil {
		return duplicate.Config{}, err
	}
	return cfg, nil
}

func parseMeta(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q, want key=value", p)
		}
		meta[k] = v
	}
	return meta, nil
}

func init() {
	importCmd.Flags().String("index", "", "target index (default: storage.default_index)")
	importCmd.Flags().Bool("dedupe", false, "run the duplicate check before adding each file")
	importCmd.Flags().Float64("threshold", duplicate.DefaultThreshold, "similarity threshold for --dedupe")
	importCmd.Flags().String("duplicate-strategy", string(duplicate.Semantic), "semantic, metadata or hybrid")
	importCmd.Flags().Int("top-k", duplicate.DefaultTopK, "similar documents shown to the model")
	importCmd.Flags().StringArray("meta", nil, "metadata key=value added to every document (repeatable)")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over an index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		index, _ := cmd.Flags().GetString("index")
		limit, _ := cmd.Flags().GetInt("limit")
		filterJSON, _ := cmd.Flags().GetString("filter")

		body := map[string]any{"query": query, "topK": limit}
		if filterJSON != "" {
			var filter vectorstore.Filter
			if err := json.Unmarshal([]byte(filterJSON), &filter); err != nil {
				return fmt.Errorf("invalid --filter: %w", err)
			}
			body["filter"] = filter
		}
		if cmd.Flags().Changed("min-score") {
			minScore, _ := cmd.Flags().GetFloat64("min-score")
			body["minScore"] = minScore
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		prefix, err := client.indexPath(index)
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), prefix+"/search", body)
		if err != nil {
			return err
		}

		var res struct {
			Results []document.SearchResult `json:"results"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		if len(res.Results) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		for i, r := range res.Results {
			fmt.Printf("\n%s [score: %.3f]\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Score)
			if id := document.MetaString(r.Metadata, document.KeyDocumentID); id != "" {
				fmt.Printf("  Document: %s\n", id)
			}
			if src := document.MetaString(r.Metadata, importer.KeySource); src != "" {
				fmt.Printf("  Source: %s\n", src)
			}
			fmt.Printf("  %s\n", truncate(r.Content, 500))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().String("index", "", "index to search (default: storage.default_index)")
	searchCmd.Flags().Int("limit", ingest.DefaultSearchTopK, "maximum number of results")
	searchCmd.Flags().String("filter", "", `metadata filter as JSON, e.g. {"source":"a.md"}`)
	searchCmd.Flags().Float64("min-score", 0, "drop results scoring below this value")
}

// --- list / get / delete ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents in an index, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		index, _ := cmd.Flags().GetString("index")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		filterJSON, _ := cmd.Flags().GetString("filter")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		prefix, err := client.indexPath(index)
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		q.Set("offset", fmt.Sprint(offset))
		if filterJSON != "" {
			q.Set("filter", filterJSON)
		}
		resp, err := client.get(cmd.Context(), prefix+"/documents?"+q.Encode())
		if err != nil {
			return err
		}

		var page ingest.ListResult
		if err := decodeJSON(resp, &page); err != nil {
			return err
		}

		if len(page.Documents) == 0 {
			fmt.Println("No documents found.")
			return nil
		}
		for _, d := range page.Documents {
			label := document.MetaString(d.Metadata, importer.KeySource)
			if label == "" {
				label = truncate(strings.Join(strings.Fields(d.Content), " "), 60)
			}
			fmt.Printf("%s  %s  %3d chunks  %s\n",
				colorize(colorCyan, d.ID),
				d.UpdatedAt.Format("2006-01-02 15:04"),
				d.ChunkCount,
				label,
			)
		}
		fmt.Printf("\n%d-%d of %d\n", offset+1, offset+len(page.Documents), page.Total)
		return nil
	},
}

func init() {
	listCmd.Flags().String("index", "", "index to list (default: storage.default_index)")
	listCmd.Flags().Int("limit", 20, "maximum number of documents")
	listCmd.Flags().Int("offset", 0, "documents to skip")
	listCmd.Flags().String("filter", "", "metadata filter as JSON")
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a document as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, _ := cmd.Flags().GetString("index")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		prefix, err := client.indexPath(index)
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), prefix+"/documents/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var doc any
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}
		return printJSON(doc)
	},
}

func init() {
	getCmd.Flags().String("index", "", "index (default: storage.default_index)")
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete documents and all of their chunks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, _ := cmd.Flags().GetString("index")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		prefix, err := client.indexPath(index)
		if err != nil {
			return err
		}

		failures := 0
		for _, id := range args {
			resp, err := client.delete(cmd.Context(), prefix+"/documents/"+url.PathEscape(id))
			if err != nil {
				return err
			}
			var res struct {
				DeletedChunks int `json:"deletedChunks"`
			}
			if err := decodeJSON(resp, &res); err != nil {
				printError("Failed to delete %s: %v", id, err)
				failures++
				continue
			}
			if res.DeletedChunks == 0 {
				printWarning("%s: nothing stored", id)
				continue
			}
			printSuccess("Deleted %s (%d chunks)", id, res.DeletedChunks)
		}
		if failures > 0 {
			return fmt.Errorf("%d of %d deletes failed", failures, len(args))
		}
		return nil
	},
}

func init() {
	deleteCmd.Flags().String("index", "", "index (default: storage.default_index)")
}

// --- index ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage vector indexes",
}

var indexCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dimension, _ := cmd.Flags().GetInt("dimension")
		metric, _ := cmd.Flags().GetString("metric")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/indexes", map[string]any{
			"name":      args[0],
			"dimension": dimension,
			"metric":    metric,
		})
		if err != nil {
			return err
		}
		var stats vectorstore.IndexStats
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}
		printSuccess("Created index %s (dim %d, %s)", stats.Name, stats.Dimension, stats.Metric)
		return nil
	},
}

var indexListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		names, err := listIndexNames(cmd.Context(), client)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No indexes.")
			return nil
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

var indexDescribeCmd = &cobra.Command{
	Use:   "describe <name>",
	Short: "Show an index's dimension, metric and chunk count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		stats, err := describeIndex(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printStatus("Name", "%s", stats.Name)
		printStatus("Dimension", "%d", stats.Dimension)
		printStatus("Metric", "%s", stats.Metric)
		printStatus("Chunks", "%d", stats.Count)
		return nil
	},
}

var indexDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an index and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete index %s and all of its documents. Use --confirm to proceed.", args[0])
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/indexes/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted index %s", args[0])
		return nil
	},
}

func listIndexNames(ctx context.Context, client *apiClient) ([]string, error) {
	resp, err := client.get(ctx, "/indexes")
	if err != nil {
		return nil, err
	}
	var res struct {
		Indexes []string `json:"indexes"`
	}
	if err := decodeJSON(resp, &res); err != nil {
		return nil, err
	}
	return res.Indexes, nil
}

func describeIndex(ctx context.Context, client *apiClient, name string) (vectorstore.IndexStats, error) {
	resp, err := client.get(ctx, "/indexes/"+url.PathEscape(name))
	if err != nil {
		return vectorstore.IndexStats{}, err
	}
	var stats vectorstore.IndexStats
	err = decodeJSON(resp, &stats)
	return stats, err
}

func init() {
	indexCreateCmd.Flags().Int("dimension", 0, "vector dimension (default: storage.dimension)")
	indexCreateCmd.Flags().String("metric", "", "cosine, euclidean or dotproduct (default: storage.metric)")
	indexDeleteCmd.Flags().Bool("confirm", false, "confirm index deletion")
	indexCmd.AddCommand(indexCreateCmd)
	indexCmd.AddCommand(indexListCmd)
	indexCmd.AddCommand(indexDescribeCmd)
	indexCmd.AddCommand(indexDeleteCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		printStatus("File", "%s", config.FilePath())
		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
