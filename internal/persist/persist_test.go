package persist

import (
	"context"
	"io/fs"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/butane/engine/internal/config"
	"github.com/butane/engine/internal/stats"
)

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("embedded migrations = %v", files)
	}
}

// TestStatsRepo runs against a real database when BUTANE_TEST_DSN is set.
func TestStatsRepo(t *testing.T) {
	dsn := os.Getenv("BUTANE_TEST_DSN")
	if dsn == "" {
		t.Skip("BUTANE_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := NewDB(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 2, MaxIdleConns: 1, ConnMaxLifetime: time.Minute}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := RunMigrations(ctx, db.Pool); err != nil {
		t.Fatal(err)
	}
	// second run is a no-op
	if n, err := RunMigrations(ctx, db.Pool); err != nil || n != 0 {
		t.Fatalf("rerun applied %d migrations, err %v", n, err)
	}

	repo := NewStatsRepo(db, t.Name()+time.Now().Format(time.RFC3339Nano))
	samples := []stats.FrameSample{
		{Frame: 1, DT: 0.016, Elapsed: time.Millisecond, RecordedAt: time.Now()},
		{Frame: 2, DT: 0.016, Elapsed: 2 * time.Millisecond, RecordedAt: time.Now()},
	}
	if err := repo.WriteFrames(ctx, samples); err != nil {
		t.Fatal(err)
	}
	if err := repo.WriteTasks(ctx, []stats.TaskStats{{Name: "FrustumCull", Count: 3, Total: time.Millisecond}}); err != nil {
		t.Fatal(err)
	}
	n, err := repo.CountFrames(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("stored %d frames, want 2", n)
	}
}
