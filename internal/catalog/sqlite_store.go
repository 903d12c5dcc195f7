package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/ceazamet-ingest/internal/infrastructure/database"
)

// SQLiteStore keeps the catalog in the catalog_sensors table.
// The schema is created by database.Migrate.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a store over a migrated database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load returns the saved catalog in its original order.
func (s *SQLiteStore) Load(ctx context.Context) ([]Sensor, error) {
	var loadedAt string
	err := s.db.QueryRowContext(ctx, "SELECT loaded_at FROM catalog_meta WHERE id = 1").Scan(&loadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading catalog metadata: %w", ErrCache, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT station_code, station_name, latitude, longitude, altitude, region,
		       sensor_code, variable, unit, height, category, timezone
		FROM catalog_sensors
		ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying catalog: %w", ErrCache, err)
	}
	defer rows.Close()

	var sensors []Sensor
	for rows.Next() {
		var sn Sensor
		if err := rows.Scan(
			&sn.StationCode, &sn.StationName, &sn.Latitude, &sn.Longitude, &sn.Altitude, &sn.Region,
			&sn.SensorCode, &sn.Variable, &sn.Unit, &sn.Height, &sn.Category, &sn.Timezone,
		); err != nil {
			return nil, fmt.Errorf("%w: scanning catalog row: %w", ErrCache, err)
		}
		sensors = append(sensors, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating catalog: %w", ErrCache, err)
	}
	return sensors, nil
}

// Save replaces the stored catalog in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, sensors []Sensor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM catalog_sensors"); err != nil {
		return fmt.Errorf("clearing catalog: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO catalog_sensors (
			position, station_code, station_name, latitude, longitude, altitude, region,
			sensor_code, variable, unit, height, category, timezone
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (station_code, sensor_code) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, sn := range sensors {
		if _, err := stmt.ExecContext(ctx,
			i, sn.StationCode, sn.StationName, sn.Latitude, sn.Longitude, sn.Altitude, sn.Region,
			sn.SensorCode, sn.Variable, sn.Unit, sn.Height, sn.Category, sn.Timezone,
		); err != nil {
			return fmt.Errorf("inserting sensor %s: %w", sn.Key(), err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO catalog_meta (id, loaded_at) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET loaded_at = excluded.loaded_at`,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording catalog timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing catalog: %w", err)
	}
	return nil
}
