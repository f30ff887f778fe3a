package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/MeKo-Tech/mapbridge/internal/config"
	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/registry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [file]",
	Short: "Show the native layer specs each engine receives",
	Long: `Inspect builds a headless instance of each engine, adds the catalog layers
and prints what every engine was given: native sources, native layers with
their translated style, and the first tile requests.

GeoJSON sources given by URL are passed through as URLs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringSlice("engine", nil, "Engines to inspect (default: all)")
	inspectCmd.Flags().Bool("all", false, "Add every catalog layer, not only the visible ones")
	inspectCmd.Flags().String("format", "json", "Output format: json or yaml")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"inspect.engines", "engine"},
		{"inspect.all", "all"},
		{"inspect.format", "format"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, inspectCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	format := strings.ToLower(viper.GetString("inspect.format"))
	if format != "json" && format != "yaml" {
		return fmt.Errorf("invalid format %q: must be 'json' or 'yaml'", format)
	}

	path, err := documentPath(args)
	if err != nil {
		return err
	}
	doc, _, err := config.Load(path, logger)
	if err != nil {
		return err
	}

	reg, nat := headlessRegistry(logger)
	names := viper.GetStringSlice("inspect.engines")
	if len(names) == 0 {
		names = reg.Names()
	}

	specs := make([]nativeSpec, 0, len(names))
	for _, name := range names {
		spec, err := inspectEngine(cmd.Context(), reg, nat, name, doc, viper.GetBool("inspect.all"))
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}
	return writeOutput(cmd.OutOrStdout(), format, specs)
}

// inspectEngine builds one headless engine, adds the catalog and returns
// what the native map received.
func inspectEngine(ctx context.Context, reg *registry.Registry, nat *natives, name string, doc *config.Document, all bool) (nativeSpec, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := reg.Build(ctx, name, engine.Deps{Logger: logger, Throttle: -1}).Wait(ctx)
	if err != nil {
		return nativeSpec{}, fmt.Errorf("inspect %s: %w", name, err)
	}
	defer a.Destroy()

	if err := a.Core().Initialize(ctx, doc.Map.Container(), doc.Map.Options()); err != nil {
		return nativeSpec{}, fmt.Errorf("inspect %s: %w", name, err)
	}

	layers := doc.Catalog.VisibleLayers()
	if all {
		layers = doc.Catalog.Layers
	}
	for _, l := range layers {
		for _, sid := range l.Sources() {
			if _, ok := a.Layers().Source(sid); ok {
				continue
			}
			src, ok := doc.Catalog.Source(sid)
			if !ok {
				continue
			}
			if err := a.Layers().AddSource(src); err != nil {
				logger.Warn("source not registered", "component", "inspect", "op", "add_source", "engine", name, "source", sid, "error", err)
			}
		}
		if err := a.Layers().AddLayer(l); err != nil {
			logger.Warn("layer not added", "component", "inspect", "op", "add_layer", "engine", name, "layer", l.ID, "error", err)
		}
	}

	h := nat.last()
	if h == nil {
		return nativeSpec{}, fmt.Errorf("inspect %s: engine built no native map", name)
	}
	return h.Native(), nil
}

// writeOutput prints v as indented JSON or YAML.
func writeOutput(w io.Writer, format string, v any) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
