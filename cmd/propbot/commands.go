package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/propbot/propbot/internal/search"
	"github.com/propbot/propbot/internal/sources"
	"github.com/propbot/propbot/internal/storage"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch opportunity feeds into the local database",
	Long: `Fetch opportunity feeds into the local database.

Examples:
  propbot ingest
  propbot ingest --source grants.gov
  propbot ingest --source sam.gov`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceName, _ := cmd.Flags().GetString("source")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		setupLogging(a.cfg)

		var srcs []sources.Source
		if sourceName == "" {
			srcs = []sources.Source{
				a.sources[storage.SourceGrantsGov],
				a.sources[storage.SourceSamGov],
			}
		} else {
			src, ok := a.sources[sourceName]
			if !ok {
				return fmt.Errorf("unknown source %q (expected %s or %s)",
					sourceName, storage.SourceGrantsGov, storage.SourceSamGov)
			}
			srcs = []sources.Source{src}
		}

		summaries, runErr := a.orch.Run(cmd.Context(), srcs)
		for _, run := range summaries {
			printRunSummary(run)
		}
		return runErr
	},
}

func init() {
	ingestCmd.Flags().String("source", "", "ingest a single source (grants.gov or sam.gov)")
}

// --- reindex ---

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the vector index from stored opportunities",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		setupLogging(a.cfg)

		if a.builder == nil {
			return fmt.Errorf("OPENAI_API_KEY is required for reindexing")
		}

		printStep("Rebuilding vector index...")
		stats, err := a.builder.Build(cmd.Context())
		if err != nil {
			return err
		}
		if stats.Embedded == 0 {
			printWarning("No opportunities to index. Run ingest first.")
			return nil
		}
		printSuccess("Indexed %d opportunities", stats.Embedded)
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored opportunities",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")
		keyword, _ := cmd.Flags().GetBool("keyword")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		setupLogging(a.cfg)

		resp, err := a.search.Search(cmd.Context(), query, search.Options{
			Source:      source,
			Limit:       limit,
			KeywordOnly: keyword,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Search mode: %s\n", resp.Mode)
		printBucket(os.Stdout, "Grants", resp.Grants)
		printBucket(os.Stdout, "Contracts", resp.Contracts)
		printBucket(os.Stdout, "RFIs", resp.RFIs)
		return nil
	},
}

func init() {
	searchCmd.Flags().String("source", "", "restrict to one source (grants.gov or sam.gov)")
	searchCmd.Flags().Int("limit", 10, "maximum results per bucket")
	searchCmd.Flags().Bool("keyword", false, "force keyword matching")
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent ingest runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.store.ListIngestRuns(limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No ingest runs found.")
			return nil
		}

		for _, run := range runs {
			printRunLine(os.Stdout, run)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "maximum number of runs to list")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database and index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		counts, err := a.store.CountBySource(cmd.Context())
		if err != nil {
			return err
		}

		total := 0
		for _, n := range counts {
			total += n
		}
		printStatus("Opportunities", "%d", total)
		printStatus("  grants.gov", "%d", counts[storage.SourceGrantsGov])
		printStatus("  sam.gov", "%d", counts[storage.SourceSamGov])
		if a.searcher != nil && a.searcher.Available() {
			printStatus("Vector index", "loaded")
		} else {
			printStatus("Vector index", "not available")
		}
		printStatus("Data dir", "%s", a.cfg.Storage.DataDir)
		return nil
	},
}
