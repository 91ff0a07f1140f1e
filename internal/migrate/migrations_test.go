package migrate

import (
	"context"
	"testing"

	"offerline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Memory: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if v, err := Version(ctx, conn); err != nil || v != 0 {
		t.Fatalf("fresh version %d err %v", v, err)
	}
	migrations, err := Migrations()
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	latest := migrations[len(migrations)-1].Version

	for i := 0; i < 2; i++ {
		v, err := Migrate(ctx, conn)
		if err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
		if v != latest {
			t.Fatalf("pass %d version %d, want %d", i, v, latest)
		}
	}
	if v, err := Version(ctx, conn); err != nil || v != latest {
		t.Fatalf("version %d err %v", v, err)
	}
	if _, err := conn.ExecContext(ctx, `INSERT INTO stage_events(ts,run_id,offer_id,stage,outcome,duration_ms) VALUES ('t','r','o','discover','ok',1)`); err != nil {
		t.Fatalf("journal table missing: %v", err)
	}
	var stages int
	if err := conn.QueryRowContext(ctx, `SELECT stages FROM run_summaries WHERE run_id='r'`).Scan(&stages); err != nil || stages != 1 {
		t.Fatalf("run summary stages %d err %v", stages, err)
	}
}

func TestWorkspaceDatabase(t *testing.T) {
	ws := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: ws})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if _, err := Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if got := db.Path(ws); got != ws+"/.offerline/journal.db" {
		t.Fatalf("path %s", got)
	}
}
