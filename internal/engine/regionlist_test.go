package engine

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestParseRegionFileName(t *testing.T) {
	cases := []struct {
		name string
		want RegionCoord
		ok   bool
	}{
		{"r.0.0.lrf", RegionCoord{0, 0}, true},
		{"r.-3.12.lrf", RegionCoord{-3, 12}, true},
		{"r.1.1.lrf.integrity", RegionCoord{}, false},
		{"notaregion.txt", RegionCoord{}, false},
		{"r.x.0.lrf", RegionCoord{}, false},
	}
	for _, c := range cases {
		got, ok := ParseRegionFileName(c.name)
		if ok != c.ok || got != c.want {
			t.Errorf("ParseRegionFileName(%q) = %v, %v; want %v, %v", c.name, got, ok, c.want, c.ok)
		}
	}
}

func TestListRegions(t *testing.T) {
	dir := t.TempDir()
	names := []string{"r.0.0.lrf", "r.1.0.lrf", "r.-1.-1.lrf"}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte{}, 0o644); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}
	// Non-region files in the same directory must be ignored.
	if err := os.WriteFile(filepath.Join(dir, "r.0.0.lrf.integrity"), []byte{}, 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "corruption_backup"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	regions, err := ListRegions(dir)
	if err != nil {
		t.Fatalf("ListRegions: %v", err)
	}
	if len(regions) != len(names) {
		t.Fatalf("got %d regions, want %d: %v", len(regions), len(names), regions)
	}

	sort.Slice(regions, func(i, j int) bool {
		if regions[i].X != regions[j].X {
			return regions[i].X < regions[j].X
		}
		return regions[i].Z < regions[j].Z
	})
	want := []RegionCoord{{-1, -1}, {0, 0}, {1, 0}}
	for i := range want {
		if regions[i] != want[i] {
			t.Errorf("regions[%d] = %v, want %v", i, regions[i], want[i])
		}
	}
}

func TestListRegionsMissingDir(t *testing.T) {
	regions, err := ListRegions(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("ListRegions on missing dir: %v", err)
	}
	if regions != nil {
		t.Fatalf("expected nil regions, got %v", regions)
	}
}
