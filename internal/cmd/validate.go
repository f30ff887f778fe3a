package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/config"
	mbgeojson "github.com/MeKo-Tech/mapbridge/internal/geojson"
	"github.com/MeKo-Tech/mapbridge/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a map document",
	Long: `Validate checks a map document: the viewport, the tool options and every
catalog reference (layer sources, layer tree entries, style types).

Problems make the command fail. Warnings are printed but do not.

With --fetch every GeoJSON source given by URL is downloaded and parsed;
a source that cannot be loaded fails the command.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().Bool("strict", false, "Treat warnings as problems")
	validateCmd.Flags().Bool("fetch", false, "Download remote GeoJSON sources")
	validateCmd.Flags().IntP("workers", "w", 4, "Parallel downloads with --fetch")
	validateCmd.Flags().Duration("timeout", time.Minute, "Overall download timeout with --fetch")

	for _, name := range []string{"strict", "fetch", "workers", "timeout"} {
		if err := viper.BindPFlag("validate."+name, validateCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	path, err := documentPath(args)
	if err != nil {
		return err
	}

	doc, warnings, err := config.Load(path, logger)
	out := cmd.OutOrStdout()
	for _, w := range warnings {
		fmt.Fprintln(out, "warning:", w)
	}
	if err != nil {
		return err
	}
	if viper.GetBool("validate.strict") && len(warnings) > 0 {
		return fmt.Errorf("%s: %d warnings in strict mode", path, len(warnings))
	}

	if viper.GetBool("validate.fetch") {
		ctx, cancel := context.WithTimeout(cmd.Context(), viper.GetDuration("validate.timeout"))
		defer cancel()
		if err := fetchRemote(ctx, doc, mbgeojson.NewLoader(nil), viper.GetInt("validate.workers"), cmd.ErrOrStderr()); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	fmt.Fprintf(out, "%s: ok (%d sources, %d layers, %d visible)\n",
		path, len(doc.Catalog.Sources), len(doc.Catalog.Layers), len(doc.Catalog.VisibleLayers()))
	return nil
}

// fetchRemote downloads every GeoJSON source that has a URL and fails when
// any of them cannot be loaded. The progress summary goes to w.
func fetchRemote(ctx context.Context, doc *config.Document, fetcher worker.Fetcher, workers int, w io.Writer) error {
	var tasks []worker.Task
	for _, src := range doc.Catalog.Sources {
		if src.Type == catalog.KindGeoJSON && src.URL != "" {
			tasks = append(tasks, worker.Task{SourceID: src.ID, URL: src.URL})
		}
	}
	if len(tasks) == 0 {
		return nil
	}

	progress := worker.NewProgress(len(tasks), false)
	pool := worker.New(worker.Config{Workers: workers, Fetcher: fetcher, OnProgress: progress.Callback()})
	failed := 0
	for _, r := range pool.Run(ctx, tasks) {
		progress.Record(r)
		if r.Err != nil {
			failed++
			continue
		}
		logger.Debug("source fetched", "component", "validate", "op", "fetch", "source", r.Task.SourceID, "result", mbgeojson.Summary(r.Data), "elapsed", r.Elapsed)
	}
	fmt.Fprintln(w, progress.Summary())
	if failed > 0 {
		return fmt.Errorf("%d of %d remote sources failed to load", failed, len(tasks))
	}
	return nil
}
