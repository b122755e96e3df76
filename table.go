package digiscore

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ErrMissingInput is returned when a pipeline stage cannot find its input file.
var ErrMissingInput = eris.New("input file not found")

// missingMarkers are cell values treated as "no data", matching the markers
// pandas recognises by default when reading survey exports.
var missingMarkers = map[string]struct{}{
	"":         {},
	"#N/A":     {},
	"#N/A N/A": {},
	"#NA":      {},
	"-1.#IND":  {},
	"-1.#QNAN": {},
	"-NaN":     {},
	"-nan":     {},
	"1.#IND":   {},
	"1.#QNAN":  {},
	"<NA>":     {},
	"N/A":      {},
	"NA":       {},
	"NULL":     {},
	"NaN":      {},
	"None":     {},
	"n/a":      {},
	"nan":      {},
	"null":     {},
}

// IsMissing reports whether a cell holds a missing-value marker.
func IsMissing(value string) bool {
	_, ok := missingMarkers[strings.TrimSpace(value)]
	return ok
}

// Table is an in-memory tabular file: a header row and data rows of equal width.
type Table struct {
	Header []string
	Rows   [][]string
}

// ColumnIndex returns the index of the named column or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Get returns the value of column name in row i, or "" if the column is absent.
func (t *Table) Get(i int, name string) string {
	idx := t.ColumnIndex(name)
	if idx < 0 || idx >= len(t.Rows[i]) {
		return ""
	}
	return t.Rows[i][idx]
}

// SetColumn overwrites column name with values, appending it if needed.
func (t *Table) SetColumn(name string, values []string) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		t.Header = append(t.Header, name)
		for i := range t.Rows {
			t.Rows[i] = append(t.Rows[i], values[i])
		}
		return
	}
	for i := range t.Rows {
		t.Rows[i][idx] = values[i]
	}
}

// NormalizeMissing replaces every missing-value marker with an empty cell.
func (t *Table) NormalizeMissing() {
	for _, row := range t.Rows {
		for j, cell := range row {
			if IsMissing(cell) {
				row[j] = ""
			}
		}
	}
}

// ReadTable loads a .csv or .xlsx file. Rows are padded or truncated to the
// header width. A missing file yields an error matching ErrMissingInput.
func ReadTable(path string) (*Table, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrMissingInput, "table: %s", path)
		}
		return nil, eris.Wrapf(err, "table: stat %s", path)
	}

	var records [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		records, err = readXLSX(path)
	default:
		records, err = readCSV(path)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, eris.Errorf("table: %s has no header row", path)
	}

	t := &Table{Header: records[0]}
	for _, rec := range records[1:] {
		row := make([]string, len(t.Header))
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "table: open csv")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "table: read csv")
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	}
	return records, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "table: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("table: %s has no sheets", path)
	}

	var records [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		records = append(records, cells)
	}
	return records, nil
}

// WriteCSV writes the table to path, creating parent directories.
func (t *Table) WriteCSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return eris.Wrap(err, "table: create output directory")
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "table: create csv")
	}
	w := csv.NewWriter(f)
	if err := w.Write(t.Header); err != nil {
		f.Close()
		return eris.Wrap(err, "table: write header")
	}
	if err := w.WriteAll(t.Rows); err != nil {
		f.Close()
		return eris.Wrap(err, "table: write rows")
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "table: close csv")
	}
	return nil
}

// CityRecord is one city row with its derived score and cluster.
type CityRecord struct {
	Name         string
	Zone         string
	Flags        []Flag // aligned with Services
	Score        int
	ClusterID    int // -1 when not clustered
	ClusterLabel string
}

// ServiceFlags pairs each service with the city's availability flag.
func (c CityRecord) ServiceFlags() []ServiceStatus {
	out := make([]ServiceStatus, len(Services))
	for i, s := range Services {
		out[i] = ServiceStatus{Service: s, Flag: c.flag(i)}
	}
	return out
}

func (c CityRecord) flag(i int) Flag {
	if i < len(c.Flags) {
		return c.Flags[i]
	}
	return FlagMissing
}

// ServiceStatus is a service together with a city's flag for it.
type ServiceStatus struct {
	Service ServiceConfig
	Flag    Flag
}

// Records converts table rows to CityRecords. The score is read from the
// score column when it holds a value in [0, NumServices] and recomputed
// from the flags otherwise.
func (t *Table) Records() []CityRecord {
	scoreIdx := t.ColumnIndex(ScoreColumn)
	clusterIdx := t.ColumnIndex(ClusterColumn)

	records := make([]CityRecord, len(t.Rows))
	for i := range t.Rows {
		rec := CityRecord{
			Name:         t.Get(i, CityNameColumn),
			Zone:         t.Get(i, ZoneNameColumn),
			Flags:        make([]Flag, len(Services)),
			ClusterID:    -1,
			ClusterLabel: t.Get(i, ClusterLabelColumn),
		}
		for j, s := range Services {
			rec.Flags[j] = ParseFlag(t.Get(i, s.Column))
		}

		rec.Score = Score(rec.Flags)
		if scoreIdx >= 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(t.Rows[i][scoreIdx])); err == nil && n >= 0 && n <= NumServices {
				rec.Score = n
			}
		}
		if clusterIdx >= 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(t.Rows[i][clusterIdx])); err == nil {
				rec.ClusterID = n
			}
		}
		records[i] = rec
	}
	return records
}
