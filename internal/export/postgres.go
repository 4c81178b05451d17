// Package export mirrors the flat tabular schedule export into Postgres
// for offline inspection. The mirror is optional and purely additive:
// the filesystem artifact stays the source of truth.
package export

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mdelorme/roomsched/internal/schedule"
)

// insertBatchSize bounds one pgx batch.
const insertBatchSize = 200

// PostgresMirror writes tabular rows to a single table with
// ON CONFLICT DO NOTHING semantics on the natural key.
type PostgresMirror struct {
	pool   *pgxpool.Pool
	schema string
	logger *slog.Logger
}

// NewPostgresMirror connects to dsn and makes sure the target table
// exists.
func NewPostgresMirror(ctx context.Context, dsn, schema string, logger *slog.Logger) (*PostgresMirror, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	m := &PostgresMirror{pool: pool, schema: schema, logger: logger}
	if err := m.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return m, nil
}

// Close releases the connection pool.
func (m *PostgresMirror) Close() {
	m.pool.Close()
}

func (m *PostgresMirror) table() string {
	return fmt.Sprintf(`"%s".schedule_events`, m.schema)
}

func (m *PostgresMirror) ensureTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+m.table()+` (
		room       text NOT NULL,
		day        date NOT NULL,
		start_time text NOT NULL,
		end_time   text NOT NULL,
		title      text,
		subject    text,
		location   text,
		professor  text,
		PRIMARY KEY (room, day, start_time, end_time)
	)`)
	if err != nil {
		return fmt.Errorf("ensure schedule_events table: %w", err)
	}
	return nil
}

// MirrorRows batch-inserts rows, skipping existing slots.
func (m *PostgresMirror) MirrorRows(ctx context.Context, rows []schedule.Row) error {
	if len(rows) == 0 {
		return nil
	}

	total := 0
	for i := 0; i < len(rows); i += insertBatchSize {
		j := min(i+insertBatchSize, len(rows))

		b := &pgx.Batch{}
		count := 0
		for _, r := range rows[i:j] {
			if r.Room == "" || r.Day == "" {
				continue
			}
			b.Queue(`INSERT INTO `+m.table()+`
				(room, day, start_time, end_time, title, subject, location, professor)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
				ON CONFLICT (room, day, start_time, end_time) DO NOTHING`,
				r.Room, r.Day, r.Start, r.End, r.Title, r.Subject, r.Location, r.Professor)
			count++
		}

		br := m.pool.SendBatch(ctx, b)
		for k := 0; k < count; k++ {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return fmt.Errorf("mirror batch insert: %w", err)
			}
			total += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close mirror batch: %w", err)
		}
	}

	m.logger.Debug("mirrored schedule rows", "inserted", total, "offered", len(rows))
	return nil
}
