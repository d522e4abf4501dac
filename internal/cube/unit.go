package cube

import "fmt"

// Unit is one (tile, time step) combination materialized as one output
// raster file: the LogicalUnit of the pipeline. It owns its block list only
// transiently, during processing.
type Unit struct {
	ID     string
	TileID string
	Date   string
	Source string
}

// ReduceUnit is one (tile) combination whose time steps are reduced into a
// single output, used by transforms that collapse the temporal axis.
type ReduceUnit struct {
	ID      string
	TileID  string
	Sources []string
}

// Units derives the per-time-step processing units of every tile, in tile
// and time order. The ID is stable across runs so output naming, resume,
// and the ledger all agree on what one unit is.
func (c *Cube) Units() []Unit {
	var units []Unit
	for _, tile := range c.Tiles {
		for _, item := range tile.Items {
			units = append(units, Unit{
				ID:     fmt.Sprintf("%s_%s", tile.ID, item.Date),
				TileID: tile.ID,
				Date:   item.Date,
				Source: item.Href,
			})
		}
	}
	return units
}

// ReduceUnits derives one unit per tile carrying every time step's source,
// for temporal reductions.
func (c *Cube) ReduceUnits() []ReduceUnit {
	var units []ReduceUnit
	for _, tile := range c.Tiles {
		units = append(units, ReduceUnit{
			ID:      tile.ID,
			TileID:  tile.ID,
			Sources: c.Hrefs(tile.ID),
		})
	}
	return units
}
