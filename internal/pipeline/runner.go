package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"meshetl/internal/config"
	"meshetl/internal/mesh"
	"meshetl/internal/metadata"
	"meshetl/internal/storage"
)

// Runner executes a whole load: data phase, then the metadata phase unless skipped.
type Runner struct {
	// storage-agnostic factory seam
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

	// NewDisplay is called once per run; nil disables progress rendering.
	NewDisplay func() Display

	Grid   mesh.Grid
	Logger Logger
}

func NewDefaultRunner() *Runner {
	return &Runner{
		NewRepository: storage.New,
		NewDisplay:    func() Display { return NewPBDisplay(os.Stderr) },
		Grid:          mesh.Standard,
	}
}

// Run fails with a "data phase: " or "metadata phase: " prefixed error. Rows committed before
// a failure stay in the table; re-running is safe because the upsert ignores existing codes.
func (r *Runner) Run(ctx context.Context, cfg config.Config) error {
	repo, err := r.NewRepository(ctx, storage.Config{Kind: cfg.Storage, DSN: cfg.DSN, Table: cfg.Table, Sessions: cfg.Workers})
	if err != nil {
		return fmt.Errorf("data phase: connect %s: %w", cfg.Storage, err)
	}
	defer repo.Close()

	if err := r.loadData(ctx, cfg, repo); err != nil {
		return fmt.Errorf("data phase: %w", err)
	}

	if cfg.SkipMetadata {
		logger(r.Logger).Printf("stage=metadata skipped")
		return nil
	}
	phase := &metadata.Phase{Registry: repo, Logger: r.Logger}
	if err := phase.Run(ctx, cfg.Table); err != nil {
		return fmt.Errorf("metadata phase: %w", err)
	}
	return nil
}

func (r *Runner) loadData(ctx context.Context, cfg config.Config, repo storage.Repository) error {
	logf := logger(r.Logger).Printf

	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	var display Display
	if r.NewDisplay != nil {
		display = r.NewDisplay()
	}
	grid := r.Grid
	if grid == nil {
		grid = mesh.Standard
	}

	loader := &Loader{Grid: grid, Sessions: repo, Display: display, Logger: r.Logger}
	progress, err := loader.Run(ctx, cfg)
	if err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	logf("%s", p.Sprintf("stage=load ok table=%s rows=%d pairs=%d batches=%d workers=%d duration=%s",
		cfg.Table, progress.Done, progress.Pairs, progress.Commits, cfg.Workers, progress.Duration.Truncate(time.Millisecond)))
	return nil
}
