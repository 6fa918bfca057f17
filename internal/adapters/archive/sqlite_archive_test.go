package archive

import (
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"meshbeacon/internal/ports"
)

func newTestArchive(t *testing.T) (*SQLiteArchive, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteArchive(db, "cycles"), mock
}

func TestEnsureSchema(t *testing.T) {
	a, mock := newTestArchive(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS cycles")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := a.EnsureSchema(); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordCycle(t *testing.T) {
	a, mock := newTestArchive(t)

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO cycles (at, observations, sent, sensor_value, has_sensor) VALUES (?,?,?,?,?)",
	)).
		WithArgs(at, 3, 4, 21.4, true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := ports.CycleRecord{At: at, Observations: 3, Sent: 4, SensorValue: 21.4, HasSensor: true}
	if err := a.RecordCycle(rec); err != nil {
		t.Fatalf("record cycle: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordCycleInsertError(t *testing.T) {
	a, mock := newTestArchive(t)

	mock.ExpectExec("INSERT INTO cycles").
		WillReturnError(errors.New("database is locked"))

	err := a.RecordCycle(ports.CycleRecord{At: time.Now()})
	if err == nil {
		t.Fatalf("expected insert error")
	}
}
