package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

var (
	_ Store  = (*SQLiteStore)(nil)
	_ Lister = (*SQLiteStore)(nil)
)

// SQLiteConfig 检查点数据库配置
type SQLiteConfig struct {
	Path      string
	EnableWAL bool
}

// SQLiteStore keeps checkpoints in a single SQLite table keyed by
// (algorithm, dataset).
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger

	loadStmt *sql.Stmt
	saveStmt *sql.Stmt
}

// OpenSQLite opens (creating if needed) the checkpoint database.
func OpenSQLite(config SQLiteConfig, logger *zap.Logger) (*SQLiteStore, error) {
	if config.Path == "" {
		return nil, errors.New("checkpoint path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(config.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	dsn := config.Path
	if config.EnableWAL {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	} else {
		dsn += "?_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.createTables(); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
    CREATE TABLE IF NOT EXISTS checkpoints (
        algorithm TEXT NOT NULL,
        dataset INTEGER NOT NULL,
        length INTEGER NOT NULL,
        weights BLOB NOT NULL,
        checksum TEXT NOT NULL,
        iterations INTEGER DEFAULT 0,
        loss REAL DEFAULT 0,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (algorithm, dataset)
    );
    `
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create tables failed: %w", err)
	}

	var err error
	s.loadStmt, err = s.db.Prepare(`
        SELECT length, weights, checksum
        FROM checkpoints
        WHERE algorithm = ? AND dataset = ?`)
	if err != nil {
		return err
	}
	s.saveStmt, err = s.db.Prepare(`
        INSERT OR REPLACE INTO checkpoints (
            algorithm, dataset, length, weights, checksum, iterations, loss, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return multierr.Append(err, s.loadStmt.Close())
	}
	return nil
}

// Load returns the stored weights for key, ErrNotFound when absent and
// ErrCorrupt when the stored bytes fail validation.
func (s *SQLiteStore) Load(ctx context.Context, key Key) (*mat.VecDense, error) {
	var (
		length   int
		blob     []byte
		checksum string
	)
	err := s.loadStmt.QueryRowContext(ctx, key.Algorithm, key.Dataset).Scan(&length, &blob, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", key, err)
	}

	w, err := decodeWeights(blob, length, checksum)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", key, err)
	}
	return w, nil
}

// Save overwrites the record for key.
func (s *SQLiteStore) Save(ctx context.Context, key Key, w *mat.VecDense, meta Meta) error {
	if w == nil || w.Len() == 0 {
		return errors.New("weights required")
	}
	blob, checksum := encodeWeights(w)
	_, err := s.saveStmt.ExecContext(ctx,
		key.Algorithm,
		key.Dataset,
		w.Len(),
		blob,
		checksum,
		meta.Iterations,
		meta.Loss,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", key, err)
	}
	s.logger.Debug("checkpoint saved",
		zap.Stringer("key", key),
		zap.Int("length", w.Len()),
		zap.Int("iterations", meta.Iterations))
	return nil
}

// Delete removes the record for key. Missing records are not an error.
func (s *SQLiteStore) Delete(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE algorithm = ? AND dataset = ?`,
		key.Algorithm, key.Dataset)
	return err
}

// List returns every stored record, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT algorithm, dataset, length, iterations, loss, updated_at
        FROM checkpoints
        ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		var iterations sql.NullInt64
		var loss sql.NullFloat64
		if err := rows.Scan(&r.Key.Algorithm, &r.Key.Dataset, &r.Length, &iterations, &loss, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if iterations.Valid {
			r.Iterations = int(iterations.Int64)
		}
		if loss.Valid {
			r.Loss = loss.Float64
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close releases the prepared statements and the database handle.
func (s *SQLiteStore) Close() error {
	var err error
	if s.loadStmt != nil {
		err = multierr.Append(err, s.loadStmt.Close())
	}
	if s.saveStmt != nil {
		err = multierr.Append(err, s.saveStmt.Close())
	}
	if s.db != nil {
		err = multierr.Append(err, s.db.Close())
	}
	return err
}
