package cube_test

import (
	"os"
	"path/filepath"
	"testing"

	"cubemill/internal/cube"
)

const descriptor = `
kind = "local"

[[bands]]
name = "prob_forest"
scale = 0.0001

[[bands]]
name = "prob_pasture"
scale = 0.0001

[[tiles]]
id = "T31TCJ"

[[tiles.items]]
date = "2024-06-01"
href = "/data/T31TCJ_2024-06-01.tif"

[[tiles.items]]
date = "2024-07-01"
href = "/data/T31TCJ_2024-07-01.tif"

[[tiles]]
id = "T31TCK"

[[tiles.items]]
date = "2024-06-01"
href = "/data/T31TCK_2024-06-01.tif"
`

func writeDescriptor(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cube.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	return path
}

func TestLoadAndCapabilities(t *testing.T) {
	c, err := cube.Load(writeDescriptor(t, descriptor))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Kind() != cube.KindLocal {
		t.Fatalf("kind = %v, want local", c.Kind())
	}
	if got := c.BandNames(); len(got) != 2 || got[0] != "prob_forest" {
		t.Fatalf("bands = %v", got)
	}
	if got := c.Dates("T31TCJ"); len(got) != 2 || got[1] != "2024-07-01" {
		t.Fatalf("dates = %v", got)
	}
	if got := c.Hrefs("T31TCK"); len(got) != 1 || got[0] != "/data/T31TCK_2024-06-01.tif" {
		t.Fatalf("hrefs = %v", got)
	}
	if got := c.Dates("nope"); got != nil {
		t.Fatalf("unknown tile dates = %v, want nil", got)
	}
}

func TestUnitsAreStableAndOrdered(t *testing.T) {
	c, err := cube.Load(writeDescriptor(t, descriptor))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	units := c.Units()
	if len(units) != 3 {
		t.Fatalf("units = %d, want 3", len(units))
	}
	if units[0].ID != "T31TCJ_2024-06-01" || units[2].ID != "T31TCK_2024-06-01" {
		t.Fatalf("unit ids = %v, %v", units[0].ID, units[2].ID)
	}
	if units[1].Source != "/data/T31TCJ_2024-07-01.tif" {
		t.Fatalf("unit source = %v", units[1].Source)
	}

	reduced := c.ReduceUnits()
	if len(reduced) != 2 || len(reduced[0].Sources) != 2 {
		t.Fatalf("reduce units = %+v", reduced)
	}
}

func TestValidateRejectsBadDescriptors(t *testing.T) {
	cases := map[string]string{
		"unknown kind": `kind = "cloudy"` + "\n" + `[[bands]]` + "\n" + `name = "b"`,
		"no bands":     `kind = "local"`,
		"bad date": `kind = "local"
[[bands]]
name = "b"
[[tiles]]
id = "T1"
[[tiles.items]]
date = "June 2024"
href = "/d/a.tif"`,
		"relative href": `kind = "local"
[[bands]]
name = "b"
[[tiles]]
id = "T1"
[[tiles.items]]
date = "2024-06-01"
href = "a.tif"`,
		"stac with file path": `kind = "stac"
[[bands]]
name = "b"
[[tiles]]
id = "T1"
[[tiles.items]]
date = "2024-06-01"
href = "/d/a.tif"`,
		"derived without version": `kind = "derived"
[[bands]]
name = "b"
[[tiles]]
id = "T1"
[[tiles.items]]
date = "2024-06-01"
href = "/d/a.tif"`,
	}
	for name, body := range cases {
		if _, err := cube.Load(writeDescriptor(t, body)); err == nil {
			t.Fatalf("%s: descriptor should be rejected", name)
		}
	}
}
