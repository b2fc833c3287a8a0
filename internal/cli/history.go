package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hoptrail/hoptrail/internal/history"
	"github.com/hoptrail/hoptrail/internal/logger"
)

var (
	historySearch    string
	historyFavorites bool
	historyLimit     int
	historyJSON      bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse captured redirect chains",
	Long: `Browse the history of captured and traced redirect chains.

Commands:
  list   - List history entries (default)
  show   - Show one entry in full
  clear  - Delete all entries`,
	RunE: runHistoryList,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List history entries",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a history entry in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all history entries",
	RunE:  runHistoryClear,
}

var (
	exportFormat string
	exportOutput string
)

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export history as JSON or CSV",
	Long: `Export history entries to stdout or a file.

Example:
  hoptrail history export --format csv -o chains.csv
  hoptrail history export --search example.com`,
	RunE: runHistoryExport,
}

func init() {
	historyCmd.PersistentFlags().StringVarP(&historySearch, "search", "s", "", "Filter by URL substring")
	historyCmd.PersistentFlags().BoolVarP(&historyFavorites, "favorites", "f", false, "Only show favorites")
	historyCmd.PersistentFlags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum entries to list")
	historyCmd.PersistentFlags().BoolVar(&historyJSON, "json", false, "Output as JSON")

	historyExportCmd.Flags().StringVar(&exportFormat, "format", "json", "Export format (json or csv)")
	historyExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default stdout)")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyExportCmd)
	historyCmd.AddCommand(historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistoryStore() (history.Store, error) {
	cfg := loadCLIConfig()
	logger.InitQuiet()
	return history.NewSQLiteStore(cfg.Settings.History.StoragePath)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openHistoryStore()
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer func() { _ = store.Close() }()

	entries, err := store.List(history.ListOptions{
		Search:        historySearch,
		FavoritesOnly: historyFavorites,
		Limit:         historyLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if historyJSON {
		return json.NewEncoder(os.Stdout).Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No history entries")
		return nil
	}

	for _, e := range entries {
		fav := " "
		if e.IsFavorite {
			fav = "★"
		}

		grade := gradeColor(e.Score.Grade).Sprintf("%3d %s", e.Score.Score, e.Score.Grade)
		fmt.Printf("%s %s  %s  %d hop(s)  %s  %s\n",
			fav,
			e.ID[:8],
			grade,
			len(e.Hops),
			humanize.Time(e.Timestamp),
			truncateURL(e.OriginalURL, 64),
		)
		if e.FinalURL != e.OriginalURL {
			fmt.Printf("             → %s\n", truncateURL(e.FinalURL, 64))
		}
	}

	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistoryStore()
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer func() { _ = store.Close() }()

	// Allow ID prefixes by scanning the listing when the exact ID misses
	entry, err := store.Get(args[0])
	if err != nil {
		entries, listErr := store.List(history.ListOptions{Limit: 1000})
		if listErr != nil {
			return fmt.Errorf("entry not found: %s", args[0])
		}
		for _, e := range entries {
			if strings.HasPrefix(e.ID, args[0]) {
				entry = e
				break
			}
		}
		if entry == nil {
			return fmt.Errorf("entry not found: %s", args[0])
		}
	}

	if historyJSON {
		return json.NewEncoder(os.Stdout).Encode(entry)
	}

	fmt.Printf("Entry %s\n", entry.ID)
	fmt.Printf("Captured %s (%s)\n", entry.Timestamp.Format("2006-01-02 15:04:05"), humanize.Time(entry.Timestamp))
	if len(entry.Tags) > 0 {
		fmt.Printf("Tags: %s\n", strings.Join(entry.Tags, ", "))
	}
	if entry.Notes != "" {
		fmt.Printf("Notes: %s\n", entry.Notes)
	}
	fmt.Println()

	printHops(entry.Hops)
	fmt.Println()
	printScore(entry.Score)
	fmt.Printf("\nTotal: %d hop(s), %dms\n", len(entry.Hops), entry.TotalTimeMs)

	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	store, err := openHistoryStore()
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer func() { _ = store.Close() }()

	count, err := store.Count()
	if err != nil {
		return fmt.Errorf("failed to count entries: %w", err)
	}
	if count == 0 {
		fmt.Println("History is already empty")
		return nil
	}

	if err := store.Clear(); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	color.Green("Deleted %d entries", count)
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	store, err := openHistoryStore()
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer func() { _ = store.Close() }()

	entries, err := store.List(history.ListOptions{
		Search:        historySearch,
		FavoritesOnly: historyFavorites,
		Limit:         10000,
	})
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	out := os.Stdout
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	switch exportFormat {
	case "csv":
		w := csv.NewWriter(out)
		if err := w.Write([]string{"id", "original_url", "final_url", "redirect_count", "score", "grade", "total_time_ms", "timestamp", "is_favorite"}); err != nil {
			return err
		}
		for _, e := range entries {
			record := []string{
				e.ID,
				e.OriginalURL,
				e.FinalURL,
				strconv.Itoa(e.RedirectCount),
				strconv.Itoa(e.Score.Score),
				e.Score.Grade,
				strconv.FormatInt(e.TotalTimeMs, 10),
				e.Timestamp.Format(time.RFC3339),
				strconv.FormatBool(e.IsFavorite),
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
	default:
		if entries == nil {
			entries = []*history.Entry{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return err
		}
	}

	if exportOutput != "" {
		fmt.Printf("Exported %d entries to %s\n", len(entries), exportOutput)
	}
	return nil
}

func truncateURL(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
