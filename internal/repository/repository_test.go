package repository_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/septivank/energy-sync-worker/internal/repository"
	"github.com/septivank/energy-sync-worker/internal/series"
)

type execCall struct {
	sql  string
	args []any
}

type fakeTx struct {
	pgx.Tx
	db *fakeDB
}

func (tx *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.db.txCalls = append(tx.db.txCalls, execCall{sql: sql, args: args})
	if tx.db.execErr != nil && len(tx.db.txCalls) == tx.db.failOnExec {
		return pgconn.CommandTag{}, tx.db.execErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (tx *fakeTx) Commit(ctx context.Context) error {
	tx.db.committed = true
	return nil
}

func (tx *fakeTx) Rollback(ctx context.Context) error {
	if !tx.db.committed {
		tx.db.rolledBack = true
	}
	return nil
}

type fakeDB struct {
	poolCalls  []execCall
	txCalls    []execCall
	execErr    error
	failOnExec int
	committed  bool
	rolledBack bool
}

func (db *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{db: db}, nil
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.poolCalls = append(db.poolCalls, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func energyPoint(day int, kwh float64) series.Point {
	return series.NewPoint(series.MeasurementEnergyImport, "A", series.DateUTC(2024, 1, day)).
		WithField(series.FieldKWh, kwh)
}

func TestWriteBatch_SingleTransaction(t *testing.T) {
	db := &fakeDB{}
	repo := repository.NewPointRepository(db, "public", "consumption_points", 2)

	points := []series.Point{energyPoint(1, 1), energyPoint(2, 2), energyPoint(3, 3)}
	if err := repo.WriteBatch(context.Background(), points); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}

	if len(db.txCalls) != 2 {
		t.Fatalf("Expected 2 statements for batch size 2, got %d", len(db.txCalls))
	}
	if !db.committed {
		t.Error("Expected transaction to be committed")
	}
	if db.rolledBack {
		t.Error("Expected no rollback after commit")
	}

	first := db.txCalls[0]
	if !strings.Contains(first.sql, `INSERT INTO "public"."consumption_points"`) {
		t.Errorf("Unexpected table in %s", first.sql)
	}
	if !strings.Contains(first.sql, "ON CONFLICT (measurement, meter_id, ts) DO UPDATE") {
		t.Errorf("Expected upsert, got %s", first.sql)
	}
	if len(first.args) != 10 {
		t.Errorf("Expected 10 args for 2 rows, got %d", len(first.args))
	}
	if first.args[0] != series.MeasurementEnergyImport || first.args[1] != "A" {
		t.Errorf("Unexpected first row args %v", first.args[:3])
	}
}

func TestWriteBatch_FailureRollsBack(t *testing.T) {
	db := &fakeDB{execErr: errors.New("connection reset"), failOnExec: 2}
	repo := repository.NewPointRepository(db, "public", "consumption_points", 1)

	err := repo.WriteBatch(context.Background(), []series.Point{energyPoint(1, 1), energyPoint(2, 2)})
	if err == nil {
		t.Fatal("Expected error when a statement fails")
	}

	if db.committed {
		t.Error("Expected no commit after failure")
	}
	if !db.rolledBack {
		t.Error("Expected rollback after failure")
	}
}

func TestWriteBatch_DedupesSameKey(t *testing.T) {
	db := &fakeDB{}
	repo := repository.NewPointRepository(db, "public", "consumption_points", 100)

	err := repo.WriteBatch(context.Background(), []series.Point{energyPoint(1, 1), energyPoint(1, 7)})
	if err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}

	if len(db.txCalls) != 1 || len(db.txCalls[0].args) != 5 {
		t.Fatalf("Expected one row, got %+v", db.txCalls)
	}
	fields, ok := db.txCalls[0].args[3].(map[string]float64)
	if !ok || fields[series.FieldKWh] != 7 {
		t.Errorf("Expected the last point to win, got %v", db.txCalls[0].args[3])
	}
}

func TestWriteBatch_EmptyIsNoOp(t *testing.T) {
	db := &fakeDB{}
	repo := repository.NewPointRepository(db, "public", "consumption_points", 100)

	if err := repo.WriteBatch(context.Background(), nil); err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}
	if len(db.txCalls) != 0 || db.committed {
		t.Error("Expected no transaction for an empty batch")
	}
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	repo := repository.NewPointRepository(db, "energy", "points", 100)

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	if len(db.poolCalls) != 2 {
		t.Fatalf("Expected 2 statements, got %d", len(db.poolCalls))
	}
	if !strings.Contains(db.poolCalls[0].sql, `CREATE SCHEMA IF NOT EXISTS "energy"`) {
		t.Errorf("Unexpected schema statement %s", db.poolCalls[0].sql)
	}
	if !strings.Contains(db.poolCalls[1].sql, `"energy"."points"`) || !strings.Contains(db.poolCalls[1].sql, "PRIMARY KEY (measurement, meter_id, ts)") {
		t.Errorf("Unexpected table statement %s", db.poolCalls[1].sql)
	}
}
