package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"cubemill/internal/raster/geotiff"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "inspect <raster>",
		Short:       "Print the geometry and georeferencing of a raster file",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			stat, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			f, err := geotiff.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info := f.Info()

			nodata := "none"
			if info.HasNodata {
				nodata = fmt.Sprintf("%g", info.Nodata)
			}
			bbox := info.BBox()
			p := message.NewPrinter(language.English)
			rows := [][]string{
				{"File", fmt.Sprintf("%s (%s)", args[0], humanize.IBytes(uint64(stat.Size())))},
				{"Size", fmt.Sprintf("%dx%d", info.XSize, info.YSize)},
				{"Pixels", p.Sprintf("%d", int64(info.XSize)*int64(info.YSize))},
				{"Bands", fmt.Sprintf("%d", info.Bands)},
				{"Type", info.Type.String()},
				{"Nodata", nodata},
				{"Resolution", fmt.Sprintf("%g x %g", info.Transform.XRes, info.Transform.YRes)},
				{"Extent", fmt.Sprintf("%g %g %g %g", bbox.XMin, bbox.YMin, bbox.XMax, bbox.YMax)},
				{"CRS", orUnknown(info.Transform.CRS)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows,
				[]columnAlignment{alignLeft, alignLeft}))
			return nil
		},
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
