package digiscore

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

type testCity struct {
	name  string
	zone  string
	flags []string // one per entry in Services
}

func yesFlags(n int) []string {
	flags := make([]string, len(Services))
	for i := range flags {
		if i < n {
			flags[i] = "Yes"
		} else {
			flags[i] = "No"
		}
	}
	return flags
}

func testRecord(name string, flags []string) CityRecord {
	rec := CityRecord{Name: name, Zone: "West", Flags: make([]Flag, len(flags)), ClusterID: -1}
	for i, f := range flags {
		rec.Flags[i] = ParseFlag(f)
	}
	rec.Score = Score(rec.Flags)
	return rec
}

func rawTable(cities []testCity) *Table {
	header := []string{"Sr. No.", CityNameColumn, ZoneNameColumn}
	for _, s := range Services {
		header = append(header, s.Column)
	}
	t := &Table{Header: header}
	for i, c := range cities {
		row := []string{strconv.Itoa(i + 1), c.name, c.zone}
		row = append(row, c.flags...)
		t.Rows = append(t.Rows, row)
	}
	return t
}

func writeRawCSV(t *testing.T, cities []testCity) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw", "Digital_availability_0.csv")
	require.NoError(t, rawTable(cities).WriteCSV(path))
	return path
}

// groupedCities returns three well separated groups of four cities each.
func groupedCities() []testCity {
	var cities []testCity
	for i, n := range []int{0, 4, 8} {
		for j := range 4 {
			cities = append(cities, testCity{
				name:  []string{"Lagging", "Middle", "Leading"}[i] + string(rune('A'+j)),
				zone:  "Zone",
				flags: yesFlags(n),
			})
		}
	}
	return cities
}
