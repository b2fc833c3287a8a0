package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hoptrail/hoptrail/internal/chain"
	"github.com/hoptrail/hoptrail/internal/config"
	"github.com/hoptrail/hoptrail/internal/history"
	"github.com/hoptrail/hoptrail/internal/logger"
	"github.com/hoptrail/hoptrail/internal/tracer"
)

var traceSave bool

var traceCmd = &cobra.Command{
	Use:   "trace <url>",
	Short: "Actively trace a URL's redirect chain",
	Long: `Trace a URL's redirect chain without a browser.

Each hop is fetched directly; server redirects are followed via the Location
header, and HTML responses are scanned for meta refresh and JavaScript
redirects. The resulting chain is scored the same way captured chains are.

Example:
  hoptrail trace https://example.com
  hoptrail trace --save http://short.link/abc`,
	Args: cobra.ExactArgs(1),
	RunE: runTrace,
}

func init() {
	traceCmd.Flags().BoolVar(&traceSave, "save", false, "Save the traced chain to history")
	rootCmd.AddCommand(traceCmd)
}

func runTrace(cmd *cobra.Command, args []string) error {
	cfg := loadCLIConfig()

	if verbose {
		_ = logger.Init("debug", cfg.Settings.LogFile)
	} else {
		logger.InitQuiet()
	}

	target := args[0]
	fmt.Printf("Tracing %s\n\n", target)

	t := tracer.New(cfg.Settings.Tracer)
	res := t.Trace(context.Background(), target)

	printHops(res.Hops)

	if res.Error != "" {
		color.Red("  ✗ %s", res.Error)
	}
	if len(res.Hops) == 0 {
		return fmt.Errorf("no hops captured")
	}

	fmt.Println()
	printScore(res.Score)
	fmt.Printf("\nTotal: %d hop(s), %dms\n", len(res.Hops), res.DurationMs)

	if traceSave {
		store, err := history.NewSQLiteStore(cfg.Settings.History.StoragePath)
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		defer func() { _ = store.Close() }()

		entry, err := store.Save(res.Hops)
		if err != nil {
			return fmt.Errorf("failed to save trace: %w", err)
		}
		fmt.Printf("Saved to history as %s\n", entry.ID)
	}

	return nil
}

// loadCLIConfig loads the merged global+project config for interactive
// commands, defaulting when nothing is readable.
func loadCLIConfig() *config.Config {
	loader, err := config.NewLoader(projectDir)
	if err != nil {
		return config.DefaultConfig()
	}

	var cfg *config.Config
	if configFile != "" {
		cfg, err = loader.LoadFromFile(configFile)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return config.DefaultConfig()
	}
	return cfg
}

func printHops(hops []chain.Hop) {
	for i, hop := range hops {
		status := statusColor(hop.StatusCode).Sprintf("%d", hop.StatusCode)

		marker := "→"
		if i == len(hops)-1 && !hop.IsRedirectHop() {
			marker = "✔"
		}

		fmt.Printf("  %s [%s] %s", marker, status, hop.URL)
		if hop.IP != chain.UnknownIP {
			fmt.Printf(" (%s)", hop.IP)
		}
		if hop.Timing != nil {
			fmt.Printf(" %dms", hop.Timing.DurationMs)
		}
		if hop.Kind == chain.KindClientRedirect {
			color.Yellow("    client-side redirect (%s) → %s", hop.RedirectKind, hop.RedirectTargetURL)
		}
		fmt.Println()
	}
}

func printScore(score chain.ChainScore) {
	grade := gradeColor(score.Grade).Sprintf("%s", score.Grade)
	fmt.Printf("Score: %d/100 (%s)\n", score.Score, grade)

	for _, issue := range score.Issues {
		switch issue.Severity {
		case chain.SeverityError:
			color.Red("  ✗ %s", issue.Message)
		case chain.SeverityWarning:
			color.Yellow("  ! %s", issue.Message)
		default:
			color.Green("  ✓ %s", issue.Message)
		}
	}

	for _, rec := range score.Recommendations {
		fmt.Printf("  • %s\n", rec)
	}
}

func statusColor(code int) *color.Color {
	switch {
	case code >= 200 && code < 300:
		return color.New(color.FgGreen)
	case code >= 300 && code < 400:
		return color.New(color.FgYellow)
	case code >= 400:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgWhite)
	}
}

func gradeColor(grade string) *color.Color {
	switch grade {
	case "A", "B":
		return color.New(color.FgGreen)
	case "C", "D":
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
