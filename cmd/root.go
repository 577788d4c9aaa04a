// Package cmd defines the harvester command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/publication-harvester/internal/app"
	"github.com/JakeFAU/publication-harvester/internal/config"
	"github.com/JakeFAU/publication-harvester/internal/harvest"
	"github.com/JakeFAU/publication-harvester/internal/id/uuid"
	"github.com/JakeFAU/publication-harvester/internal/logging"
	"github.com/JakeFAU/publication-harvester/internal/persist"
)

// Harvester is what the command needs from the wired application.
// Tests swap it for a mock.
type Harvester interface {
	Run(ctx context.Context, opts harvest.Options) (persist.RunSummary, error)
	Close()
}

// newHarvester is the application factory. It's a variable so tests can
// replace it.
var newHarvester = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Harvester, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"outdir":           "outdir",
	"max-pages":        "max_pages",
	"workers":          "workers",
	"delay":            "delay",
	"listing-headless": "listing_headless",
	"legacy-headless":  "legacy_headless",
	"engine":           "browser.engine",
	"base-url":         "base_url",
	"metrics-addr":     "metrics.addr",
	"log-level":        "logging.level",
	"max-rps":          "rate_limit.rps",
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests publication metadata from a research portal.",
		Long: `harvester walks the paginated publications listing of a research portal,
then visits every publication page with a pool of headless browser workers
to collect title, authors, publication date and abstract. Results are
written to publications_links.json and publications.json in the output directory.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			return runHarvest(cmd, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "optional config file (yaml, json or toml)")
	flags.String("outdir", "data", "directory for publications_links.json and publications.json")
	flags.Int("max-pages", 50, "maximum number of listing pages to visit")
	flags.Int("workers", 8, "number of detail workers, each with its own browser")
	flags.Float64("delay", 0.35, "pause in seconds after each detail page")
	flags.Bool("listing-headless", false, "run the listing browser headless")
	flags.Bool("legacy-headless", false, "accepted for compatibility; detail workers always run headless")
	flags.String("engine", config.EngineChromedp, "browser engine: chromedp or static")
	flags.String("base-url", config.DefaultBaseURL, "publications listing URL")
	flags.String("metrics-addr", "", "serve /metrics and /healthz on this address during the run")
	flags.String("log-level", "info", "minimum log level")
	flags.Float64("max-rps", 0, "cap detail requests per second across all workers (0 disables)")
	bindFlags(v, cmd)

	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	for name, key := range flagKeys {
		cobra.CheckErr(v.BindPFlag(key, cmd.Flags().Lookup(name)))
	}
}

func runHarvest(cmd *cobra.Command, cfg config.Config) error {
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return err
	}
	defer func() {
		// Sync on a terminal stderr reports EINVAL; nothing to do about it.
		_ = logger.Sync()
	}()

	runID, err := uuid.New().NewID()
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("run_id", runID))
	if cfg.LegacyHeadless {
		logger.Info("legacy_headless has no effect; detail workers always run headless")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := newHarvester(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize harvester: %w", err)
	}
	defer h.Close()

	summary, err := h.Run(ctx, harvest.Options{
		RunID:           runID,
		MaxPages:        cfg.MaxPages,
		ListingHeadless: cfg.ListingHeadless,
	})
	out := cmd.OutOrStdout()
	if errors.Is(err, harvest.ErrNoListings) {
		fmt.Fprintln(out, "No publications found on listing pages.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved %d records to %s\n", summary.Records, filepath.Join(cfg.OutDir, persist.PublicationsFile))
	return nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "harvester:", err)
		os.Exit(1)
	}
}
