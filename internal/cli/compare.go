package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sitemirror/sitemirror/internal/compare"
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Run and inspect visual fidelity comparisons",
}

var compareRunCmd = &cobra.Command{
	Use:   "run <website-id>",
	Short: "Compare the generated site against the recorded reference renders",
	Long: `Render each configured section of the generated site and diff it pixel by
pixel against the reference captures recorded during the pipeline. Without
--url the active version's files are served on a loopback port for the run.

A report fresh within the cache TTL is reused; pass --force to recompute.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		websiteID := args[0]

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		force, _ := cmd.Flags().GetBool("force")
		if !force {
			cached, err := compare.LoadReport(websiteID, a.cfg.WebsitesDir)
			if err != nil {
				return err
			}
			if cached != nil && cached.FreshWithin(a.cfg.CacheTTL()) {
				fmt.Fprintln(cmd.OutOrStdout(), "Using cached report (pass --force to recompute).")
				printReport(cmd, cached)
				return nil
			}
		}

		rend := a.newRenderer()
		if err := rend.Start(cmd.Context()); err != nil {
			return fmt.Errorf("start renderer: %w", err)
		}
		defer rend.Close()

		url, _ := cmd.Flags().GetString("url")
		serveDir, _ := cmd.Flags().GetString("serve-dir")
		if serveDir == "" && url == "" {
			active, err := a.versions.GetActiveVersion(websiteID)
			if err != nil {
				return err
			}
			if active == nil {
				return fmt.Errorf("no --url given and no active version to serve for %s", websiteID)
			}
			serveDir = active.StoragePath
		}

		engine := compare.NewEngine(rend, a.cfg, a.log)
		report, err := engine.RunComparison(cmd.Context(), compare.RunOpts{
			WebsiteID:        websiteID,
			WebsitesDir:      a.cfg.WebsitesDir,
			GeneratedSiteURL: url,
			AutoStartServer:  url == "",
			ServeDir:         serveDir,
		})
		if err != nil {
			return err
		}
		printReport(cmd, report)
		return nil
	},
}

var compareReportCmd = &cobra.Command{
	Use:   "report <website-id>",
	Short: "Show the stored comparison report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := compare.LoadReport(args[0], a.cfg.WebsitesDir)
		if err != nil {
			return err
		}
		if report == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "No report. Run: sitemirror compare run", args[0])
			return nil
		}
		printReport(cmd, report)
		return nil
	},
}

func printReport(cmd *cobra.Command, r *compare.Report) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Comparison for %s against %s\n", r.WebsiteID, r.TargetURL)
	fmt.Fprintf(w, "  Run at: %s\n", r.Timestamp.Format("2006-01-02 15:04:05"))
	for _, s := range r.Sections {
		if s.Skipped {
			fmt.Fprintf(w, "  %-14s skipped: %s\n", s.SectionName, s.SkipReason)
			continue
		}
		fmt.Fprintf(w, "  %-14s %6.2f%%  (%d/%d pixels mismatched)\n",
			s.SectionName, s.Fidelity, s.MismatchedPixels, s.TotalPixels)
	}
	fmt.Fprintf(w, "  Overall: %.2f%%\n", r.OverallScore)
}

func init() {
	compareRunCmd.Flags().String("url", "", "URL of the generated site (default: serve the active version locally)")
	compareRunCmd.Flags().String("serve-dir", "", "Directory to serve as the generated site")
	compareRunCmd.Flags().Bool("force", false, "Ignore a fresh cached report")

	compareCmd.AddCommand(compareRunCmd)
	compareCmd.AddCommand(compareReportCmd)
}
