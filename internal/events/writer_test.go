package events

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"offerline/internal/consume"
	"offerline/internal/db"
	"offerline/internal/migrate"
)

func openJournal(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Memory: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func TestRecorderAndReader(t *testing.T) {
	conn := openJournal(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := Recorder{Writer: Writer{DB: conn, Now: func() time.Time { return now }}}
	ctx := context.Background()

	rec.ObserveStage(ctx, consume.StageEvent{RunID: "r1", OfferID: "o1", Stage: consume.StageDiscover, Duration: 120 * time.Millisecond})
	rec.ObserveStage(ctx, consume.StageEvent{RunID: "r1", OfferID: "o1", Stage: consume.StageCatalog, Duration: time.Second, Err: errors.New("boom")})
	rec.ObserveStage(ctx, consume.StageEvent{RunID: "r2", OfferID: "o2", Stage: consume.StageDiscover})

	all, err := Reader{DB: conn}.Latest(ctx, 10, "")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(all) != 3 || all[0].RunID != "r2" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	run, err := Reader{DB: conn}.Latest(ctx, 10, "r1")
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if len(run) != 2 {
		t.Fatalf("expected 2 events, got %d", len(run))
	}
	failed := run[0]
	if failed.Stage != "catalog" || failed.Outcome != "failed" || failed.Error != "boom" || failed.DurationMS != 1000 {
		t.Fatalf("unexpected failed event %+v", failed)
	}
	if run[1].Outcome != "ok" || run[1].Error != "" || run[1].DurationMS != 120 {
		t.Fatalf("unexpected ok event %+v", run[1])
	}
	if failed.TS != "2026-03-01T12:00:00Z" {
		t.Fatalf("ts %s", failed.TS)
	}

	limited, err := Reader{DB: conn}.Latest(ctx, 1, "")
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit: %v %d", err, len(limited))
	}
}

func TestRunSummaries(t *testing.T) {
	conn := openJournal(t)
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := Recorder{Writer: Writer{DB: conn, Now: func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}}}

	for _, stage := range consume.Stages {
		rec.ObserveStage(ctx, consume.StageEvent{RunID: "r1", OfferID: "o1", Stage: stage, Duration: 10 * time.Millisecond})
	}
	rec.ObserveStage(ctx, consume.StageEvent{RunID: "r2", OfferID: "o2", Stage: consume.StageDiscover, Duration: 5 * time.Millisecond})
	rec.ObserveStage(ctx, consume.StageEvent{RunID: "r2", OfferID: "o2", Stage: consume.StageCatalog, Err: errors.New("no catalogs")})

	runs, err := Reader{DB: conn}.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %+v", runs)
	}
	failed, ok := runs[0], runs[1]
	if failed.RunID != "r2" || failed.Stages != 2 || failed.FailedStage != "catalog" || failed.DurationMS != 5 {
		t.Fatalf("unexpected failed run %+v", failed)
	}
	if ok.RunID != "r1" || ok.Stages != len(consume.Stages) || ok.FailedStage != "" || ok.DurationMS != 60 {
		t.Fatalf("unexpected run %+v", ok)
	}
	if ok.StartedAt != "2026-03-01T12:00:01Z" || ok.FinishedAt != "2026-03-01T12:00:06Z" {
		t.Fatalf("run window %s..%s", ok.StartedAt, ok.FinishedAt)
	}
}

func TestRecorderLogsWriteFailure(t *testing.T) {
	conn := openJournal(t)
	conn.Close()
	var buf bytes.Buffer
	rec := Recorder{Writer: Writer{DB: conn}, Logger: log.New(&buf, "", 0)}

	rec.ObserveStage(context.Background(), consume.StageEvent{RunID: "r1", Stage: consume.StageData})
	if !strings.Contains(buf.String(), "journal write failed run=r1 stage=data") {
		t.Fatalf("log %q", buf.String())
	}
}
