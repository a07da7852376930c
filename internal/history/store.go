// Package history persists occupancy observations to SQLite and serves
// the aggregate queries behind the crowding API.
package history

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/KazuyukiGui/restaurant-camera-system/internal/detect"
)

const schema = `
CREATE TABLE IF NOT EXISTS crowding_records (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp      INTEGER NOT NULL,
	person_count   INTEGER NOT NULL,
	crowding_level TEXT    NOT NULL,
	confidence     REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crowding_timestamp ON crowding_records(timestamp);
`

// Record is one persisted occupancy observation.
type Record struct {
	ID          int64        `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	PersonCount int          `json:"person_count"`
	Level       detect.Level `json:"crowding_level"`
	Confidence  float64      `json:"confidence"`
}

// Stats aggregates records over a period.
type Stats struct {
	TotalRecords   int            `json:"total_records"`
	AvgPersonCount float64        `json:"avg_person_count"`
	MaxPersonCount int            `json:"max_person_count"`
	MinPersonCount int            `json:"min_person_count"`
	Levels         map[string]int `json:"level_distribution"`
}

// Bucket is one five-minute timeline interval.
type Bucket struct {
	Start          time.Time `json:"start"`
	AvgPersonCount float64   `json:"avg_person_count"`
	Records        int       `json:"records"`
}

const bucketSize = 5 * time.Minute

// Store is a SQLite-backed record store. Safe for concurrent use; each
// operation borrows a pooled connection.
type Store struct {
	pool *sqlitex.Pool
	path string
}

// Open creates the store, the schema, and the connection pool. The
// database file is created if it does not exist. Use ":memory:" in
// tests (the pool is sized to one connection in that case, since every
// in-memory connection is an independent database).
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: database path is required")
	}
	poolSize := 4
	if path == ":memory:" {
		poolSize = 1
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("history: %s: %w", pragma, err)
				}
			}
			if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
				return fmt.Errorf("history: creating schema: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: opening %s: %w", path, err)
	}

	slog.Info("history: store opened", "path", path, "pool_size", poolSize)
	return &Store{pool: pool, path: path}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("history: closing %s: %w", s.path, err)
	}
	return nil
}

// Save persists one observation.
func (s *Store) Save(ctx context.Context, rec Record) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO crowding_records (timestamp, person_count, crowding_level, confidence)
		 VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{rec.Timestamp.Unix(), rec.PersonCount, string(rec.Level), rec.Confidence},
		})
	if err != nil {
		return fmt.Errorf("history: insert record: %w", err)
	}
	return nil
}

// Recent returns the newest records, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	var records []Record
	err = sqlitex.Execute(conn,
		`SELECT id, timestamp, person_count, crowding_level, confidence
		 FROM crowding_records ORDER BY timestamp DESC, id DESC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				records = append(records, Record{
					ID:          stmt.ColumnInt64(0),
					Timestamp:   time.Unix(stmt.ColumnInt64(1), 0).UTC(),
					PersonCount: stmt.ColumnInt(2),
					Level:       detect.Level(stmt.ColumnText(3)),
					Confidence:  stmt.ColumnFloat(4),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	return records, nil
}

// Stats aggregates all records at or after since.
func (s *Store) Stats(ctx context.Context, since time.Time) (Stats, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("history: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	stats := Stats{Levels: map[string]int{}}
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*), COALESCE(AVG(person_count), 0),
		        COALESCE(MAX(person_count), 0), COALESCE(MIN(person_count), 0)
		 FROM crowding_records WHERE timestamp >= ?`,
		&sqlitex.ExecOptions{
			Args: []any{since.Unix()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stats.TotalRecords = stmt.ColumnInt(0)
				stats.AvgPersonCount = stmt.ColumnFloat(1)
				stats.MaxPersonCount = stmt.ColumnInt(2)
				stats.MinPersonCount = stmt.ColumnInt(3)
				return nil
			},
		})
	if err != nil {
		return Stats{}, fmt.Errorf("history: query stats: %w", err)
	}

	err = sqlitex.Execute(conn,
		`SELECT crowding_level, COUNT(*) FROM crowding_records
		 WHERE timestamp >= ? GROUP BY crowding_level`,
		&sqlitex.ExecOptions{
			Args: []any{since.Unix()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stats.Levels[stmt.ColumnText(0)] = stmt.ColumnInt(1)
				return nil
			},
		})
	if err != nil {
		return Stats{}, fmt.Errorf("history: query level distribution: %w", err)
	}
	return stats, nil
}

// Timeline groups records at or after since into five-minute buckets,
// oldest first. Buckets with no records are omitted.
func (s *Store) Timeline(ctx context.Context, since time.Time) ([]Bucket, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	bucketSecs := int64(bucketSize / time.Second)
	var buckets []Bucket
	err = sqlitex.Execute(conn,
		`SELECT (timestamp / ?) * ? AS bucket, AVG(person_count), COUNT(*)
		 FROM crowding_records WHERE timestamp >= ?
		 GROUP BY bucket ORDER BY bucket ASC`,
		&sqlitex.ExecOptions{
			Args: []any{bucketSecs, bucketSecs, since.Unix()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				buckets = append(buckets, Bucket{
					Start:          time.Unix(stmt.ColumnInt64(0), 0).UTC(),
					AvgPersonCount: stmt.ColumnFloat(1),
					Records:        stmt.ColumnInt(2),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: query timeline: %w", err)
	}
	return buckets, nil
}

// ExportCSV streams all records at or after since as CSV, oldest first.
func (s *Store) ExportCSV(ctx context.Context, since time.Time, w io.Writer) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "timestamp", "person_count", "crowding_level", "confidence"}); err != nil {
		return fmt.Errorf("history: write csv header: %w", err)
	}

	err = sqlitex.Execute(conn,
		`SELECT id, timestamp, person_count, crowding_level, confidence
		 FROM crowding_records WHERE timestamp >= ? ORDER BY timestamp ASC, id ASC`,
		&sqlitex.ExecOptions{
			Args: []any{since.Unix()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				return cw.Write([]string{
					strconv.FormatInt(stmt.ColumnInt64(0), 10),
					time.Unix(stmt.ColumnInt64(1), 0).UTC().Format(time.RFC3339),
					strconv.Itoa(stmt.ColumnInt(2)),
					stmt.ColumnText(3),
					strconv.FormatFloat(stmt.ColumnFloat(4), 'f', 3, 64),
				})
			},
		})
	if err != nil {
		return fmt.Errorf("history: export records: %w", err)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("history: flush csv: %w", err)
	}
	return nil
}
