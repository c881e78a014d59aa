package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sitemirror/sitemirror/internal/compare"
	"github.com/sitemirror/sitemirror/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Serve the pipeline, version, and comparison APIs plus active-version file
serving under /sites/{website-id}/. Progress streams are available as
server-sent events on /api/pipeline/{job-id}/events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			a.cfg.Server.Port = port
		}

		rend := a.newRenderer()
		if err := rend.Start(cmd.Context()); err != nil {
			return fmt.Errorf("start renderer: %w", err)
		}
		defer rend.Close()

		orch := a.orchestrator(rend)
		engine := compare.NewEngine(rend, a.cfg, a.log)
		srv := web.NewServer(orch, a.versions, engine, a.db, a.cfg, a.log)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "Port to listen on (default from config)")
}
