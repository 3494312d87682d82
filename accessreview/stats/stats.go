// Package stats reads the per-guild activity databases the auto-review
// thresholds are checked against. The databases are SQLite files
// produced by an external scanner; this package only ever reads them.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// columnPattern is the allowlist for config-supplied column names; the
// column is interpolated as an identifier, so it must never carry
// anything but a plain name.
var columnPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Reader opens stats databases lazily and caches the handles. Safe for
// concurrent use.
type Reader struct {
	dir    string
	logger *slog.Logger

	mu  sync.Mutex
	dbs map[string]*bun.DB
}

func NewReader(dir string, logger *slog.Logger) *Reader {
	return &Reader{
		dir:    dir,
		logger: logger,
		dbs:    map[string]*bun.DB{},
	}
}

func (r *Reader) open(database string) (*bun.DB, error) {
	if database == "" {
		return nil, errors.New("no stats database configured")
	}
	if filepath.Base(database) != database {
		return nil, fmt.Errorf("stats database name %q must not carry a path", database)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if db, ok := r.dbs[database]; ok {
		return db, nil
	}

	path := filepath.Join(r.dir, database)
	sqldb, err := sql.Open(sqliteshim.ShimName, fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open stats database %s: %w", database, err)
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())
	r.dbs[database] = db

	r.logger.Info("Opened stats database",
		slog.String("type", "store"),
		slog.String("path", path))
	return db, nil
}

// UserStat returns the member's value in the given column of the
// user_stats table. found is false when the member has no row.
func (r *Reader) UserStat(ctx context.Context, database, column, userID string) (int64, bool, error) {
	if !columnPattern.MatchString(column) {
		return 0, false, fmt.Errorf("invalid stats column %q", column)
	}
	db, err := r.open(database)
	if err != nil {
		return 0, false, err
	}

	var value int64
	err = db.NewSelect().
		TableExpr("user_stats").
		ColumnExpr("?", bun.Ident(column)).
		Where("user_id = ?", userID).
		Scan(ctx, &value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to query user stats: %w", err)
	}
	return value, true, nil
}

// Close releases every cached database handle.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, db := range r.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close stats database %s: %w", name, err)
		}
		delete(r.dbs, name)
	}
	return firstErr
}
