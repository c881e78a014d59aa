package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/sitemirror/sitemirror/internal/checkpoint"
	"github.com/sitemirror/sitemirror/internal/config"
	"github.com/sitemirror/sitemirror/internal/orchestrator"
	"github.com/sitemirror/sitemirror/internal/pipeline"
	"github.com/sitemirror/sitemirror/internal/renderer"
	verstore "github.com/sitemirror/sitemirror/internal/version"
)

// app bundles the wired stores every command needs. Commands open it, use
// it, and close it before returning.
type app struct {
	cfg         *config.Sitemirror
	log         zerolog.Logger
	jobs        *pipeline.Store
	checkpoints *checkpoint.Store
	db          *verstore.DB
	versions    *verstore.Store
}

// openApp loads configuration, opens the database, applies migrations, and
// wires the stores.
func openApp() (*app, error) {
	_ = godotenv.Load()

	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", errs[0].Error())
	}
	sm := &cfg.Sitemirror

	log := newLogger()

	db, err := verstore.Open(sm.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	jobs := pipeline.NewStore(filepath.Join(sm.StateDir, "jobs"))
	checkpoints := checkpoint.NewStore(jobs)
	versions := verstore.NewStore(db, sm.StorageDir, log)

	return &app{
		cfg:         sm,
		log:         log,
		jobs:        jobs,
		checkpoints: checkpoints,
		db:          db,
		versions:    versions,
	}, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// orchestrator wires an Orchestrator over the app's stores. capturer may be
// nil for commands that never reach the capture phase.
func (a *app) orchestrator(capturer orchestrator.Capturer) *orchestrator.Orchestrator {
	return orchestrator.New(a.jobs, a.checkpoints, a.versions, a.db, capturer, nil, a.cfg, a.log)
}

// newRenderer builds the browser capture adapter from config. The caller
// owns Start and Close.
func (a *app) newRenderer() *renderer.Renderer {
	return renderer.New(renderer.Config{
		RemoteURL:      a.cfg.Renderer.RemoteURL,
		CaptureTimeout: a.cfg.CaptureTimeout(),
		Logger:         a.log,
	})
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if v := os.Getenv("SITEMIRROR_LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}
