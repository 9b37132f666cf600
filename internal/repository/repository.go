package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/septivank/energy-sync-worker/internal/series"
)

// Tx is an alias for pgx.Tx
type Tx = pgx.Tx

// DB is the part of *pgxpool.Pool the repository uses
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

const columnsPerRow = 5

// PointRepository stores series points in a single table keyed by
// (measurement, meter_id, ts). Writing the same point twice overwrites it.
type PointRepository struct {
	db        DB
	schema    string
	table     string
	batchSize int
}

// NewPointRepository creates a repository writing to schema.table
func NewPointRepository(db DB, schema, table string, batchSize int) *PointRepository {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &PointRepository{
		db:        db,
		schema:    schema,
		table:     table,
		batchSize: batchSize,
	}
}

func (r *PointRepository) qualifiedTable() string {
	return pgx.Identifier{r.schema, r.table}.Sanitize()
}

// EnsureSchema creates the schema and points table when missing
func (r *PointRepository) EnsureSchema(ctx context.Context) error {
	schemaQuery := fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pgx.Identifier{r.schema}.Sanitize())
	if _, err := r.db.Exec(ctx, schemaQuery); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", r.schema, err)
	}

	tableQuery := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			measurement TEXT        NOT NULL,
			meter_id    TEXT        NOT NULL,
			ts          TIMESTAMPTZ NOT NULL,
			fields      JSONB       NOT NULL,
			tags        JSONB       NOT NULL,
			written_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (measurement, meter_id, ts)
		)
	`, r.qualifiedTable())
	if _, err := r.db.Exec(ctx, tableQuery); err != nil {
		return fmt.Errorf("failed to create points table: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (r *PointRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// WriteBatch upserts all points in one transaction. Either every point is
// stored or none is.
func (r *PointRepository) WriteBatch(ctx context.Context, points []series.Point) error {
	points = dedupe(points)
	if len(points) == 0 {
		return nil
	}

	tx, err := r.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for start := 0; start < len(points); start += r.batchSize {
		end := start + r.batchSize
		if end > len(points) {
			end = len(points)
		}
		if err := r.upsertTx(ctx, tx, points[start:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *PointRepository) upsertTx(ctx context.Context, tx pgx.Tx, points []series.Point) error {
	query, args := r.buildUpsert(points)
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(points), err)
	}
	return nil
}

func (r *PointRepository) buildUpsert(points []series.Point) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (measurement, meter_id, ts, fields, tags) VALUES ", r.qualifiedTable())

	args := make([]any, 0, len(points)*columnsPerRow)
	for i, p := range points {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * columnsPerRow
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5)
		args = append(args, p.Measurement, p.MeterID(), p.Time, p.Fields, p.Tags)
	}
	b.WriteString(" ON CONFLICT (measurement, meter_id, ts) DO UPDATE SET fields = EXCLUDED.fields, tags = EXCLUDED.tags, written_at = now()")

	return b.String(), args
}

type pointKey struct {
	measurement string
	meterID     string
	ts          time.Time
}

// dedupe keeps the last point for each key; a single upsert statement cannot
// touch the same row twice.
func dedupe(points []series.Point) []series.Point {
	index := make(map[pointKey]int, len(points))
	out := make([]series.Point, 0, len(points))
	for _, p := range points {
		key := pointKey{measurement: p.Measurement, meterID: p.MeterID(), ts: p.Time.UTC()}
		if i, ok := index[key]; ok {
			out[i] = p
			continue
		}
		index[key] = len(out)
		out = append(out, p)
	}
	return out
}
