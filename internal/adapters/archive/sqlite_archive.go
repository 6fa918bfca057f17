// Package archive keeps a local history of completed duty cycles so a tech
// with shell access can see what the node has been relaying.
package archive

import (
	"database/sql"
	"fmt"

	"meshbeacon/internal/ports"
)

type SQLiteArchive struct {
	db    *sql.DB
	table string
}

func NewSQLiteArchive(db *sql.DB, table string) *SQLiteArchive {
	return &SQLiteArchive{db: db, table: table}
}

func (a *SQLiteArchive) Name() string { return "sqlite" }

// EnsureSchema creates the history table on first boot.
func (a *SQLiteArchive) EnsureSchema() error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	at TIMESTAMP NOT NULL,
	observations INTEGER NOT NULL,
	sent INTEGER NOT NULL,
	sensor_value REAL,
	has_sensor INTEGER NOT NULL
)`, a.table)
	_, err := a.db.Exec(stmt)
	return err
}

func (a *SQLiteArchive) RecordCycle(rec ports.CycleRecord) error {
	stmt := fmt.Sprintf(
		"INSERT INTO %s (at, observations, sent, sensor_value, has_sensor) VALUES (?,?,?,?,?)",
		a.table,
	)
	_, err := a.db.Exec(stmt, rec.At, rec.Observations, rec.Sent, rec.SensorValue, rec.HasSensor)
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}
	return nil
}

var _ ports.CycleArchive = (*SQLiteArchive)(nil)
