package digiscore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func TestReadTableCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.csv")
	content := "\ufeffCity Name,Zone Name,Extra\nPune,West\nSurat,West,x,overflow\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	table, err := ReadTable(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"City Name", "Zone Name", "Extra"}, table.Header)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"Pune", "West", ""}, table.Rows[0], "short rows are padded")
	assert.Equal(t, []string{"Surat", "West", "x"}, table.Rows[1], "long rows are truncated")
	assert.Equal(t, "Pune", table.Get(0, CityNameColumn))
	assert.Equal(t, "", table.Get(0, "Unknown"))
}

func TestReadTableXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.xlsx")

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, cells := range [][]string{
		{CityNameColumn, ZoneNameColumn, Services[0].Column},
		{"Pune", "West", "Yes"},
		{"Ranchi", "East", "No"},
	} {
		row := sheet.AddRow()
		for _, c := range cells {
			row.AddCell().SetString(c)
		}
	}
	require.NoError(t, file.Save(path))

	table, err := ReadTable(path)
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "Ranchi", table.Get(1, CityNameColumn))
	assert.Equal(t, "Yes", table.Get(0, Services[0].Column))
}

func TestNormalizeMissing(t *testing.T) {
	table := &Table{
		Header: []string{"a", "b", "c", "d"},
		Rows:   [][]string{{"NaN", " N/A ", "Yes", "null"}},
	}
	table.NormalizeMissing()
	assert.Equal(t, []string{"", "", "Yes", ""}, table.Rows[0])
}

func TestSetColumn(t *testing.T) {
	table := &Table{Header: []string{"a"}, Rows: [][]string{{"1"}, {"2"}}}

	table.SetColumn("b", []string{"x", "y"})
	assert.Equal(t, []string{"a", "b"}, table.Header)
	assert.Equal(t, "y", table.Get(1, "b"))

	table.SetColumn("b", []string{"z", "w"})
	assert.Equal(t, []string{"a", "b"}, table.Header)
	assert.Equal(t, "z", table.Get(0, "b"))
}

func TestRecords(t *testing.T) {
	table := rawTable([]testCity{
		{name: "Pune", zone: "West", flags: yesFlags(6)},
		{name: "Ranchi", zone: "East", flags: yesFlags(1)},
	})

	records := table.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "Pune", records[0].Name)
	assert.Equal(t, 6, records[0].Score, "score is computed without a score column")
	assert.Equal(t, -1, records[0].ClusterID)

	table.SetColumn(ScoreColumn, []string{"7", "1"})
	table.SetColumn(ClusterColumn, []string{"2", "0"})
	table.SetColumn(ClusterLabelColumn, []string{"Digitally Advanced", "Digitally Lagging"})

	records = table.Records()
	assert.Equal(t, 7, records[0].Score, "stored score wins")
	assert.Equal(t, 2, records[0].ClusterID)
	assert.Equal(t, "Digitally Lagging", records[1].ClusterLabel)

	statuses := records[1].ServiceFlags()
	require.Len(t, statuses, NumServices)
	assert.Equal(t, FlagYes, statuses[0].Flag)
	assert.Equal(t, FlagNo, statuses[1].Flag)
}

func TestRecordsIgnoresOutOfRangeScore(t *testing.T) {
	table := rawTable([]testCity{
		{name: "Pune", zone: "West", flags: yesFlags(2)},
		{name: "Surat", zone: "West", flags: yesFlags(3)},
		{name: "Ranchi", zone: "East", flags: yesFlags(1)},
	})
	table.SetColumn(ScoreColumn, []string{"12", "-1", "abc"})

	records := table.Records()
	assert.Equal(t, 2, records[0].Score)
	assert.Equal(t, 3, records[1].Score)
	assert.Equal(t, 1, records[2].Score)
	assert.Contains(t, BasicRecommendation(records[0]), "(Score: 2/8)")
}
