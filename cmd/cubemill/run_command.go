package main

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"cubemill/internal/config"
	"cubemill/internal/cube"
	"cubemill/internal/ledger"
	"cubemill/internal/pipeline"
	"cubemill/internal/transform"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		cubePath      string
		transformName string
		scaleFactor   float64
		scaleOffset   float64
		bayesWindow   int
		bayesVariance float64
		tiles         []string

		outDir        string
		version       string
		memsizeGB     float64
		workers       int
		overlap       int
		cfgKeepBlocks bool
		splitLayers   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a cube into merged per-unit rasters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			// Flag overrides win over the config file for this invocation.
			if outDir != "" {
				expanded, err := config.ExpandPath(outDir)
				if err != nil {
					return err
				}
				cfg.Paths.OutputDir = expanded
			}
			if version != "" {
				cfg.Processing.Version = version
			}
			if memsizeGB > 0 {
				cfg.Memory.CeilingGB = memsizeGB
			}
			if workers > 0 {
				cfg.Workers.Count = workers
			}
			if overlap > 0 {
				cfg.Processing.Overlap = overlap
			}
			if cfgKeepBlocks {
				cfg.Processing.KeepBlockFiles = true
			}
			if splitLayers {
				cfg.Processing.SplitLayers = true
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			c, err := cube.Load(cubePath)
			if err != nil {
				return err
			}
			units := selectUnits(c.Units(), tiles)
			if len(units) == 0 {
				return fmt.Errorf("cube %s has no matching units", cubePath)
			}

			spec, err := buildSpec(transformName, scaleFactor, scaleOffset, bayesWindow, bayesVariance)
			if err != nil {
				return err
			}

			store, err := ledger.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			proc := pipeline.New(cfg, store, ctx.logger()).WithLayerNames(c.BandNames())
			if bar := newRunProgress(len(units)); bar != nil {
				proc.WithProgress(func(done, total int) {
					_ = bar.Add(1)
				})
				defer func() { _ = bar.Finish() }()
			}

			start := time.Now()
			outputs, err := proc.Process(cmd.Context(), units, spec)
			if err != nil {
				return err
			}

			stats := proc.Stats()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\nProcessed %d unit(s) in %s\n", len(units), time.Since(start).Round(time.Millisecond))
			fmt.Fprintf(out, "  blocks computed: %d, skipped: %d, units recovered: %d\n",
				stats.BlocksComputed, stats.BlocksSkipped, stats.UnitsRecovered)
			for _, path := range outputs {
				fmt.Fprintf(out, "  %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cubePath, "cube", "", "Path to the cube descriptor (TOML)")
	cmd.Flags().StringVar(&transformName, "transform", "mean", "Transform to apply: mean, scale, or bayes")
	cmd.Flags().Float64Var(&scaleFactor, "scale", 1, "Scale factor for the scale transform")
	cmd.Flags().Float64Var(&scaleOffset, "offset", 0, "Offset for the scale transform")
	cmd.Flags().IntVar(&bayesWindow, "window", 7, "Neighborhood window for the bayes transform (odd)")
	cmd.Flags().Float64Var(&bayesVariance, "variance", 0.5, "Prior variance for the bayes transform")
	cmd.Flags().StringSliceVar(&tiles, "tile", nil, "Restrict processing to these tile IDs")
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory (overrides config)")
	cmd.Flags().StringVar(&version, "version", "", "Output version tag (overrides config)")
	cmd.Flags().Float64Var(&memsizeGB, "memsize", 0, "Memory ceiling in GB (overrides config)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Block worker count (overrides config)")
	cmd.Flags().IntVar(&overlap, "overlap", 0, "Overlap padding in pixels (overrides config)")
	cmd.Flags().BoolVar(&cfgKeepBlocks, "keep-blocks", false, "Keep block files after merging")
	cmd.Flags().BoolVar(&splitLayers, "split-layers", false, "Write one single-band file per output layer")
	_ = cmd.MarkFlagRequired("cube")
	return cmd
}

func selectUnits(units []cube.Unit, tiles []string) []cube.Unit {
	if len(tiles) == 0 {
		return units
	}
	wanted := make(map[string]struct{}, len(tiles))
	for _, tile := range tiles {
		wanted[tile] = struct{}{}
	}
	var selected []cube.Unit
	for _, unit := range units {
		if _, ok := wanted[unit.TileID]; ok {
			selected = append(selected, unit)
		}
	}
	return selected
}

func buildSpec(name string, scale, offset float64, window int, variance float64) (transform.Spec, error) {
	switch name {
	case "mean":
		return transform.MeanSpec{}, nil
	case "scale":
		return transform.ScaleSpec{Scale: scale, Offset: offset}, nil
	case "bayes":
		return transform.BayesSpec{Window: window, Variance: variance}, nil
	default:
		return nil, fmt.Errorf("unknown transform %q (want mean, scale, or bayes)", name)
	}
}

// newRunProgress builds a progress bar when stdout is a terminal; batch logs
// stay clean otherwise. The bar tracks block jobs without a known global
// total, so it renders as a spinner with a counter.
func newRunProgress(units int) *progressbar.ProgressBar {
	if !stdoutIsTerminal() {
		return nil
	}
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(fmt.Sprintf("processing %d unit(s)", units)),
		progressbar.OptionSetItsString("blocks"),
		progressbar.OptionShowIts(),
		progressbar.OptionSpinnerType(14),
	)
}
