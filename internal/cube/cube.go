package cube

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Kind is the closed set of cube flavors. Capabilities dispatch over this
// fixed enumeration; there is no open-ended runtime tagging.
type Kind int

const (
	// KindLocal references raster files on the local filesystem.
	KindLocal Kind = iota
	// KindStac references already-resolved asset URLs from a STAC catalog.
	// Catalog browsing itself happens upstream of this model.
	KindStac
	// KindDerived references the merged outputs of a previous run, keyed by
	// that run's version.
	KindDerived
)

var kindNames = map[Kind]string{
	KindLocal:   "local",
	KindStac:    "stac",
	KindDerived: "derived",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind resolves a descriptor string into a Kind.
func ParseKind(s string) (Kind, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == want {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown cube kind %q", s)
}

// Band describes one spectral band or probability layer of the cube. Scale
// and offset are explicit, caller-supplied factors; a zero scale means
// identity. Nothing here is ever inferred from pixel values.
type Band struct {
	Name   string  `toml:"name"`
	Scale  float64 `toml:"scale,omitempty"`
	Offset float64 `toml:"offset,omitempty"`
}

// Item is one time step of one tile: a single multi-band raster whose bands
// follow the cube's band list.
type Item struct {
	Date string `toml:"date"`
	Href string `toml:"href"`
}

// Tile is one spatial partition of the cube with its own raster grid.
type Tile struct {
	ID    string `toml:"id"`
	Items []Item `toml:"items"`
}

// Cube is the metadata model of a data cube: tiles by bands by time steps,
// each time step backed by one raster file.
type Cube struct {
	KindName string `toml:"kind"`
	// SourceVersion identifies the producing run of a derived cube.
	SourceVersion string `toml:"source_version,omitempty"`
	Bands         []Band `toml:"bands"`
	Tiles         []Tile `toml:"tiles"`

	kind Kind
}

// Load reads and validates a cube descriptor file.
func Load(path string) (*Cube, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cube descriptor: %w", err)
	}
	var c Cube
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse cube descriptor %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("cube descriptor %s: %w", path, err)
	}
	return &c, nil
}

// Kind returns the parsed cube kind. Only valid after Validate.
func (c *Cube) Kind() Kind { return c.kind }

// Validate checks structural invariants plus the per-kind href contract.
func (c *Cube) Validate() error {
	kind, err := ParseKind(c.KindName)
	if err != nil {
		return err
	}
	c.kind = kind

	if len(c.Bands) == 0 {
		return errors.New("cube has no bands")
	}
	seen := make(map[string]struct{}, len(c.Bands))
	for _, b := range c.Bands {
		if strings.TrimSpace(b.Name) == "" {
			return errors.New("band with empty name")
		}
		if _, dup := seen[b.Name]; dup {
			return fmt.Errorf("duplicate band %q", b.Name)
		}
		seen[b.Name] = struct{}{}
	}

	if kind == KindDerived && strings.TrimSpace(c.SourceVersion) == "" {
		return errors.New("derived cube needs source_version")
	}

	if len(c.Tiles) == 0 {
		return errors.New("cube has no tiles")
	}
	for _, tile := range c.Tiles {
		if strings.TrimSpace(tile.ID) == "" {
			return errors.New("tile with empty id")
		}
		if len(tile.Items) == 0 {
			return fmt.Errorf("tile %s has no items", tile.ID)
		}
		for _, item := range tile.Items {
			if _, err := time.Parse("2006-01-02", item.Date); err != nil {
				return fmt.Errorf("tile %s: bad date %q", tile.ID, item.Date)
			}
			if err := c.checkHref(item.Href); err != nil {
				return fmt.Errorf("tile %s item %s: %w", tile.ID, item.Date, err)
			}
		}
	}
	return nil
}

func (c *Cube) checkHref(href string) error {
	href = strings.TrimSpace(href)
	if href == "" {
		return errors.New("empty href")
	}
	switch c.kind {
	case KindStac:
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			return fmt.Errorf("stac href %q is not a resolved URL", href)
		}
	default:
		if !filepath.IsAbs(href) {
			return fmt.Errorf("href %q must be an absolute path", href)
		}
	}
	return nil
}

// BandNames lists the cube's bands in declaration order.
func (c *Cube) BandNames() []string {
	names := make([]string, len(c.Bands))
	for i, b := range c.Bands {
		names[i] = b.Name
	}
	return names
}

// Dates lists a tile's time steps in declaration order.
func (c *Cube) Dates(tileID string) []string {
	tile := c.tile(tileID)
	if tile == nil {
		return nil
	}
	dates := make([]string, len(tile.Items))
	for i, item := range tile.Items {
		dates[i] = item.Date
	}
	return dates
}

// Hrefs lists a tile's backing files in time order.
func (c *Cube) Hrefs(tileID string) []string {
	tile := c.tile(tileID)
	if tile == nil {
		return nil
	}
	hrefs := make([]string, len(tile.Items))
	for i, item := range tile.Items {
		hrefs[i] = item.Href
	}
	return hrefs
}

func (c *Cube) tile(id string) *Tile {
	for i := range c.Tiles {
		if c.Tiles[i].ID == id {
			return &c.Tiles[i]
		}
	}
	return nil
}
