package stats

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/uptrace/bun/driver/sqliteshim"
)

func seedStatsDB(t *testing.T, dir, name string) {
	t.Helper()
	db, err := sql.Open(sqliteshim.ShimName, filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE user_stats (user_id TEXT PRIMARY KEY, messages INTEGER, voice_minutes INTEGER)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO user_stats (user_id, messages, voice_minutes) VALUES ('100', 250, 30)`); err != nil {
		t.Fatal(err)
	}
}

func TestUserStat(t *testing.T) {
	dir := t.TempDir()
	seedStatsDB(t, dir, "stats.db")
	reader := NewReader(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer reader.Close()
	ctx := context.Background()

	value, found, err := reader.UserStat(ctx, "stats.db", "messages", "100")
	if err != nil {
		t.Fatal(err)
	}
	if !found || value != 250 {
		t.Errorf("UserStat = %d/%v, want 250/true", value, found)
	}

	_, found, err = reader.UserStat(ctx, "stats.db", "messages", "404")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("missing member reported as found")
	}
}

func TestUserStat_RejectsHostileInput(t *testing.T) {
	dir := t.TempDir()
	seedStatsDB(t, dir, "stats.db")
	reader := NewReader(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer reader.Close()
	ctx := context.Background()

	if _, _, err := reader.UserStat(ctx, "stats.db", "messages; DROP TABLE user_stats", "100"); err == nil {
		t.Error("hostile column accepted")
	}
	if _, _, err := reader.UserStat(ctx, "../stats.db", "messages", "100"); err == nil {
		t.Error("path traversal in database name accepted")
	}
	if _, _, err := reader.UserStat(ctx, "", "messages", "100"); err == nil {
		t.Error("empty database name accepted")
	}
}
