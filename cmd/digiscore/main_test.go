package main

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/cenkalti/digiscore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRaw(t *testing.T, path string) {
	t.Helper()
	header := []string{digiscore.CityNameColumn, digiscore.ZoneNameColumn}
	for _, s := range digiscore.Services {
		header = append(header, s.Column)
	}
	table := &digiscore.Table{Header: header}
	for i, yes := range []int{0, 0, 4, 4, 8, 8} {
		row := []string{"City" + strconv.Itoa(i), "Zone"}
		for j := range digiscore.Services {
			if j < yes {
				row = append(row, "Yes")
			} else {
				row = append(row, "No")
			}
		}
		table.Rows = append(table.Rows, row)
	}
	require.NoError(t, table.WriteCSV(path))
}

func TestRunAndClean(t *testing.T) {
	dir := t.TempDir()
	saved := digiscore.Config
	t.Cleanup(func() { digiscore.Config = saved })
	digiscore.Config = digiscore.Settings{
		Data: digiscore.DataConfig{
			RawPath:       filepath.Join(dir, "raw.csv"),
			ProcessedPath: filepath.Join(dir, "processed", "processed_data.csv"),
			ClusteredPath: filepath.Join(dir, "processed", "clustered_data.csv"),
			ModelPath:     filepath.Join(dir, "models", "clustering_model.json"),
			DBPath:        filepath.Join(dir, "processed", "cities.db"),
		},
		Cluster: digiscore.ClusterConfig{K: 3, Seed: 42, MaxIter: 300},
	}

	err := runCmd.RunE(runCmd, nil)
	require.Error(t, err, "raw data is required")

	writeRaw(t, digiscore.Config.Data.RawPath)
	require.NoError(t, runCmd.RunE(runCmd, nil))

	table, err := digiscore.ReadTable(digiscore.Config.Data.ClusteredPath)
	require.NoError(t, err)
	records := table.Records()
	require.Len(t, records, 6)
	assert.Equal(t, 8, records[5].Score)
	assert.Equal(t, records[4].ClusterID, records[5].ClusterID)
	assert.NotEqual(t, records[0].ClusterID, records[5].ClusterID)

	_, err = digiscore.LoadClusterModel(digiscore.Config.Data.ModelPath)
	require.NoError(t, err)

	cleanCmd.Run(cleanCmd, nil)
	_, err = digiscore.ReadTable(digiscore.Config.Data.ClusteredPath)
	assert.Error(t, err)
	_, err = digiscore.LoadClusterModel(digiscore.Config.Data.ModelPath)
	assert.Error(t, err)
	assert.FileExists(t, digiscore.Config.Data.RawPath)
}
