package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/mapbridge/internal/config"
	"github.com/MeKo-Tech/mapbridge/internal/host"
	"github.com/MeKo-Tech/mapbridge/internal/prefs"
	"github.com/MeKo-Tech/mapbridge/internal/state"
	"github.com/MeKo-Tech/mapbridge/internal/tools/geolocate"
	"github.com/MeKo-Tech/mapbridge/internal/tools/measure"
	"github.com/MeKo-Tech/mapbridge/internal/tools/scale"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/MeKo-Tech/mapbridge/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate [file]",
	Short: "Drive a headless engine and print the final state",
	Long: `Simulate attaches a map to a headless engine, runs a list of steps against
it and prints the resulting application state.

Steps (pixels are container pixels, repeat --step for each):

  move:x,y                 pointer move
  leave                    pointer leaves the map
  click:x,y                click
  dblclick:x,y             double click
  drag:x1,y1,x2,y2         drag pan
  scroll:x,y,delta         wheel zoom by delta levels
  view:lng,lat,zoom        set the viewport
  zoom:z                   set the zoom through the zoom control
  tool:id                  activate a tool
  untool                   deactivate the modal tool
  show:layer / hide:layer  add or remove a catalog layer
  engine:name              switch engines
  position:lng,lat[,acc]   report a device position
  search:text              search named features in the view
  idle                     let the engine settle`,
	Example: `  mapbridge simulate map.yaml --step tool:measure --step click:100,100 \
    --step click:300,100 --step dblclick:300,300`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().String("engine", "", "Engine to start with (default: prefs, then document, then maplibre)")
	simulateCmd.Flags().StringArray("step", nil, "Step to run, in order (see help)")
	simulateCmd.Flags().String("format", "json", "Output format: json or yaml")
	simulateCmd.Flags().Bool("progress", false, "Show source loading progress")
	simulateCmd.Flags().IntP("workers", "w", 4, "Parallel GeoJSON source fetches")
	simulateCmd.Flags().Duration("timeout", time.Minute, "Overall timeout")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"simulate.engine", "engine"},
		{"simulate.format", "format"},
		{"simulate.progress", "progress"},
		{"simulate.workers", "workers"},
		{"simulate.timeout", "timeout"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, simulateCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

// step is one parsed simulate step.
type step struct {
	op     string
	px, to types.Pixel
	nums   []float64
	arg    string
}

// Report is the output of simulate.
type Report struct {
	Engine    string              `json:"engine" yaml:"engine"`
	State     state.AppState      `json:"state" yaml:"state"`
	Viewport  types.Viewport      `json:"viewport" yaml:"viewport"`
	Scale     scale.Bar           `json:"scale" yaml:"scale"`
	Measure   *measure.Result     `json:"measure,omitempty" yaml:"measure,omitempty"`
	Position  *geolocate.Position `json:"position,omitempty" yaml:"position,omitempty"`
	Found     []string            `json:"found,omitempty" yaml:"found,omitempty"`
	Warnings  []string            `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Requested int                 `json:"tileRequests" yaml:"tile_requests"`
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	format := strings.ToLower(viper.GetString("simulate.format"))
	if format != "json" && format != "yaml" {
		return fmt.Errorf("invalid format %q: must be 'json' or 'yaml'", format)
	}

	// read directly: viper splits string slices on commas
	raw, err := cmd.Flags().GetStringArray("step")
	if err != nil {
		return err
	}
	steps := make([]step, 0, len(raw))
	for _, s := range raw {
		st, err := parseStep(s)
		if err != nil {
			return fmt.Errorf("invalid step %q: %w", s, err)
		}
		steps = append(steps, st)
	}

	path, err := documentPath(args)
	if err != nil {
		return err
	}
	doc, _, err := config.Load(path, logger)
	if err != nil {
		return err
	}

	var store *prefs.Store
	if p := viper.GetString("prefs"); p != "" {
		store, err = prefs.Open(p, logger)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), viper.GetDuration("simulate.timeout"))
	defer cancel()

	progress := worker.NewProgress(0, viper.GetBool("simulate.progress"))
	report, err := simulate(ctx, doc, store, viper.GetString("simulate.engine"), viper.GetInt("simulate.workers"), progress.Callback(), steps)
	if err != nil {
		return err
	}
	if viper.GetBool("simulate.progress") {
		progress.Done()
		logger.Info(progress.Summary())
	}
	return writeOutput(cmd.OutOrStdout(), format, report)
}

// simulate attaches a headless map, runs steps and reports the result.
func simulate(ctx context.Context, doc *config.Document, store *prefs.Store, engineName string, workers int, onFetch worker.ProgressFunc, steps []step) (Report, error) {
	reg, nat := headlessRegistry(logger)
	feed := geolocate.NewFeed()
	m, err := host.New(host.Options{
		Engine:       engineName,
		Document:     doc,
		Registry:     reg,
		Prefs:        store,
		FetchWorkers: workers,
		Geolocation:  geolocate.NewRegistry(feed, logger),
		OnFetch:      onFetch,
		Throttle:     -1,
		Logger:       logger,
	})
	if err != nil {
		return Report{}, err
	}
	defer m.Detach()

	if err := m.Attach(ctx); err != nil {
		return Report{}, err
	}
	m.Wait()

	var found []string
	for i, st := range steps {
		if err := runStep(ctx, m, nat.last(), feed, st, &found); err != nil {
			return Report{}, fmt.Errorf("step %d (%s): %w", i+1, st.op, err)
		}
	}
	m.Wait()

	a := m.Adapter()
	if a == nil {
		return Report{}, host.ErrNoAdapter
	}
	r := Report{
		Engine:    m.Engine(),
		State:     m.Store().State(),
		Viewport:  a.Core().ViewportState(),
		Found:     found,
		Warnings:  m.Warnings(),
		Requested: len(nat.last().Native().Requests),
	}
	if sc := m.Scale(); sc != nil {
		r.Scale = sc.Bar()
	}
	if t := m.Measure(); t != nil {
		if res, ok := t.Last(); ok {
			r.Measure = &res
		}
	}
	if t := m.Geolocate(); t != nil {
		if p, ok := t.Last(); ok {
			r.Position = &p
		}
	}
	return r, nil
}

func runStep(ctx context.Context, m *host.Map, h headless, feed *geolocate.Feed, st step, found *[]string) error {
	switch st.op {
	case "move":
		h.Move(st.px)
	case "leave":
		h.Leave()
	case "click":
		h.Click(st.px)
	case "dblclick":
		h.DblClick(st.px)
	case "drag":
		h.Drag(st.px, st.to, 8)
	case "scroll":
		h.Scroll(st.px, st.nums[0])
	case "idle":
		h.Idle()
	case "view":
		a := m.Adapter()
		if a == nil {
			return host.ErrNoAdapter
		}
		return a.Core().SetViewport(types.LngLat{st.nums[0], st.nums[1]}, st.nums[2])
	case "zoom":
		z := m.Zoom()
		if z == nil {
			return host.ErrNoAdapter
		}
		return z.SetValue(st.nums[0])
	case "tool":
		mgr := m.Tools()
		if mgr == nil {
			return host.ErrNoAdapter
		}
		return mgr.Activate(st.arg)
	case "untool":
		m.Events().Emit(host.ToolDeactivate{})
	case "show":
		return m.AddLayer(host.LayerAddRequest{LayerID: st.arg})
	case "hide":
		return m.RemoveLayer(st.arg)
	case "engine":
		return m.SwitchEngine(ctx, st.arg)
	case "position":
		p := geolocate.Position{Coords: types.LngLat{st.nums[0], st.nums[1]}, Time: time.Now()}
		if len(st.nums) > 2 {
			p.AccuracyM = st.nums[2]
		}
		feed.Push(p)
	case "search":
		fc, err := m.Search(ctx, st.arg)
		if err != nil {
			return err
		}
		for _, f := range fc.Features {
			*found = append(*found, f.Properties.MustString("name", fmt.Sprint(f.ID)))
		}
	default:
		return fmt.Errorf("unknown step %q", st.op)
	}
	return nil
}

// parseStep parses "op" or "op:args".
func parseStep(s string) (step, error) {
	op, arg, _ := strings.Cut(strings.TrimSpace(s), ":")
	st := step{op: strings.ToLower(op), arg: strings.TrimSpace(arg)}

	var err error
	switch st.op {
	case "leave", "idle", "untool":
		if st.arg != "" {
			return step{}, fmt.Errorf("%s takes no arguments", st.op)
		}
	case "move", "click", "dblclick":
		st.nums, err = parseFloats(st.arg, 2, 2)
	case "drag":
		st.nums, err = parseFloats(st.arg, 4, 4)
	case "scroll", "view":
		st.nums, err = parseFloats(st.arg, 3, 3)
	case "zoom":
		st.nums, err = parseFloats(st.arg, 1, 1)
	case "position":
		st.nums, err = parseFloats(st.arg, 2, 3)
	case "tool", "show", "hide", "engine", "search":
		if st.arg == "" {
			return step{}, fmt.Errorf("%s needs an argument", st.op)
		}
	default:
		return step{}, fmt.Errorf("unknown step %q", st.op)
	}
	if err != nil {
		return step{}, err
	}

	switch st.op {
	case "move", "click", "dblclick", "scroll":
		st.px = types.Pixel{X: st.nums[0], Y: st.nums[1]}
		st.nums = st.nums[2:]
	case "drag":
		st.px = types.Pixel{X: st.nums[0], Y: st.nums[1]}
		st.to = types.Pixel{X: st.nums[2], Y: st.nums[3]}
		st.nums = nil
	case "view":
		if st.nums[1] < -90 || st.nums[1] > 90 {
			return step{}, fmt.Errorf("latitude %.4f out of range", st.nums[1])
		}
	case "position":
		if st.nums[1] < -90 || st.nums[1] > 90 {
			return step{}, fmt.Errorf("latitude %.4f out of range", st.nums[1])
		}
	}
	return st, nil
}

// parseFloats parses between lo and hi comma-separated numbers.
func parseFloats(s string, lo, hi int) ([]float64, error) {
	if s == "" {
		return nil, fmt.Errorf("expected %d comma-separated values, got none", lo)
	}
	parts := strings.Split(s, ",")
	if len(parts) < lo || len(parts) > hi {
		if lo == hi {
			return nil, fmt.Errorf("expected %d comma-separated values, got %d", lo, len(parts))
		}
		return nil, fmt.Errorf("expected %d to %d comma-separated values, got %d", lo, hi, len(parts))
	}

	out := make([]float64, len(parts))
	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number at position %d: %w", i, err)
		}
		out[i] = val
	}
	return out, nil
}
