package digiscore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ErrCityNotFound is returned when a city lookup has no match.
var ErrCityNotFound = eris.New("city not found")

// CityStore is the read side used by the dashboard.
type CityStore interface {
	Cities(ctx context.Context) ([]CityRecord, error)
}

// FindCity looks a city up by name, ignoring case and surrounding whitespace.
func FindCity(records []CityRecord, name string) (CityRecord, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, r := range records {
		if strings.ToLower(strings.TrimSpace(r.Name)) == want {
			return r, true
		}
	}
	return CityRecord{}, false
}

// CSVStore reads the clustered table from disk on every call.
type CSVStore struct {
	Path string
}

func (s CSVStore) Cities(ctx context.Context) ([]CityRecord, error) {
	table, err := ReadTable(s.Path)
	if err != nil {
		return nil, err
	}
	return table.Records(), nil
}

// SQLiteStore reads cities from a database written by export-db.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens the database at path. The file must already exist.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrMissingInput, "sqlite store: %s", path)
		}
		return nil, eris.Wrap(err, "sqlite store: stat")
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite store: open")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Cities(ctx context.Context) ([]CityRecord, error) {
	query := `
	SELECT city_name, zone_name, tax_payment, traffic_violations, service_connections, certificates,
		tenders, grievance, tickets, disclosure, score, cluster, cluster_label
	FROM cities
	ORDER BY position
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite store: query cities")
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("failed to close rows", zap.Error(err))
		}
	}()

	var records []CityRecord
	for rows.Next() {
		rec := CityRecord{Flags: make([]Flag, len(Services))}
		flags := make([]string, len(Services))
		dest := []any{&rec.Name, &rec.Zone}
		for i := range flags {
			dest = append(dest, &flags[i])
		}
		dest = append(dest, &rec.Score, &rec.ClusterID, &rec.ClusterLabel)

		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "sqlite store: scan city")
		}
		for i, f := range flags {
			rec.Flags[i] = ParseFlag(f)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite store: iterate cities")
	}
	return records, nil
}

// ExportDBCmd: Reads the clustered table, saves it to the SQLite city database
var ExportDBCmd = &cobra.Command{
	Use:   "export-db",
	Short: "Load the clustered table into SQLite for the dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := exportDB(cmd.Context(), Config.Data.ClusteredPath, Config.Data.DBPath)
		if err != nil {
			return err
		}
		zap.L().Info("cities exported", zap.Int("count", n), zap.String("db", Config.Data.DBPath))
		return nil
	},
}

// exportDB replaces the cities table in dbPath with the clustered table.
func exportDB(ctx context.Context, tablePath, dbPath string) (int, error) {
	table, err := ReadTable(tablePath)
	if err != nil {
		if eris.Is(err, ErrMissingInput) {
			return 0, eris.Wrapf(err, "clustered data not found at %s, run cluster-cities first", tablePath)
		}
		return 0, err
	}
	records := table.Records()

	db, err := initCityDB(dbPath)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := db.Close(); err != nil {
			zap.L().Warn("failed to close database", zap.Error(err))
		}
	}()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "export: begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cities"); err != nil {
		return 0, eris.Wrap(err, "export: clear cities")
	}
	for i, rec := range records {
		if err := saveCity(ctx, tx, i, rec); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "export: commit")
	}
	return len(records), nil
}

// initCityDB opens dbPath and creates the cities table if needed.
func initCityDB(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, eris.Wrap(err, "export: create db directory")
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, eris.Wrap(err, "export: open db")
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS cities (
		position INTEGER PRIMARY KEY,
		city_name TEXT NOT NULL,
		zone_name TEXT NOT NULL,
		tax_payment TEXT NOT NULL,
		traffic_violations TEXT NOT NULL,
		service_connections TEXT NOT NULL,
		certificates TEXT NOT NULL,
		tenders TEXT NOT NULL,
		grievance TEXT NOT NULL,
		tickets TEXT NOT NULL,
		disclosure TEXT NOT NULL,
		score INTEGER NOT NULL,
		cluster INTEGER NOT NULL,
		cluster_label TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_city_name ON cities(lower(trim(city_name)));
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		if err := db.Close(); err != nil {
			zap.L().Warn("failed to close database", zap.Error(err))
		}
		return nil, eris.Wrap(err, "export: create table")
	}
	return db, nil
}

func saveCity(ctx context.Context, tx *sql.Tx, position int, rec CityRecord) error {
	insertSQL := `
	INSERT INTO cities (position, city_name, zone_name, tax_payment, traffic_violations, service_connections,
		certificates, tenders, grievance, tickets, disclosure, score, cluster, cluster_label)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	args := []any{position, rec.Name, rec.Zone}
	for _, s := range rec.ServiceFlags() {
		args = append(args, s.Flag.String())
	}
	args = append(args, rec.Score, rec.ClusterID, rec.ClusterLabel)

	if _, err := tx.ExecContext(ctx, insertSQL, args...); err != nil {
		return eris.Wrapf(err, "export: insert %q", rec.Name)
	}
	return nil
}
