package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"cubemill/internal/grid"
	"cubemill/internal/memplan"
	"cubemill/internal/raster/geotiff"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var overlap int

	cmd := &cobra.Command{
		Use:   "plan <raster>",
		Short: "Show the block geometry and worker count a run would use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			src, err := geotiff.Open(args[0])
			if err != nil {
				return err
			}
			info := src.Info()
			_ = src.Close()

			if overlap < cfg.Processing.Overlap {
				overlap = cfg.Processing.Overlap
			}
			plan, err := memplan.NewPlan(memplan.Request{
				Image:          grid.BlockShape{NRows: info.YSize, NCols: info.XSize},
				DefaultBlock:   grid.BlockShape{NRows: cfg.Processing.BlockRows, NCols: cfg.Processing.BlockCols},
				Overlap:        overlap,
				LayersPerPixel: int64(info.Bands + 1),
				BytesPerItem:   cfg.Memory.BytesPerItem,
				BloatFactor:    cfg.Memory.BloatFactor,
				CeilingGB:      cfg.Memory.CeilingGB,
				Workers:        cfg.Workers.Count,
			})
			if err != nil {
				return err
			}

			blocks := grid.Partition(info.XSize, info.YSize, plan.Block, overlap)
			p := message.NewPrinter(language.English)
			rows := [][]string{
				{"Image", fmt.Sprintf("%dx%d, %d band(s)", info.XSize, info.YSize, info.Bands)},
				{"Pixels", p.Sprintf("%d", int64(info.XSize)*int64(info.YSize))},
				{"Block shape", plan.Block.String()},
				{"Blocks", p.Sprintf("%d", len(blocks))},
				{"Overlap", fmt.Sprintf("%d px", overlap)},
				{"Workers", fmt.Sprintf("%d of %d requested", plan.Workers, cfg.Workers.Count)},
				{"Job footprint", fmt.Sprintf("%.3f GB (ceiling %.2f GB)", plan.JobGB, cfg.Memory.CeilingGB)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Plan", "Value"}, rows,
				[]columnAlignment{alignLeft, alignLeft}))
			return nil
		},
	}

	cmd.Flags().IntVar(&overlap, "overlap", 0, "Overlap padding in pixels (config value if lower)")
	return cmd
}
