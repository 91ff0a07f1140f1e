package events

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"offerline/internal/consume"
)

// Event is one journaled stage execution.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	RunID      string `json:"run_id"`
	OfferID    string `json:"offer_id"`
	Stage      string `json:"stage"`
	Outcome    string `json:"outcome"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Writer appends stage events to the journal.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append stores evt.
func (w Writer) Append(ctx context.Context, evt consume.StageEvent) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	var errText any
	if evt.Err != nil {
		errText = evt.Err.Error()
	}
	_, err := w.DB.ExecContext(ctx, `INSERT INTO stage_events(ts,run_id,offer_id,stage,outcome,duration_ms,error) VALUES (?,?,?,?,?,?,?)`,
		ts, evt.RunID, evt.OfferID, string(evt.Stage), evt.Outcome(), evt.Duration.Milliseconds(), errText)
	if err != nil {
		return fmt.Errorf("append stage event: %w", err)
	}
	return nil
}

// Recorder journals every stage event it observes. Write failures are logged
// and never reach the pipeline.
type Recorder struct {
	Writer Writer
	Logger *log.Logger
}

func (r Recorder) ObserveStage(ctx context.Context, evt consume.StageEvent) {
	if err := r.Writer.Append(context.WithoutCancel(ctx), evt); err != nil {
		logger := r.Logger
		if logger == nil {
			logger = log.Default()
		}
		logger.Printf("events: journal write failed run=%s stage=%s err=%v", evt.RunID, evt.Stage, err)
	}
}

// Reader queries the journal.
type Reader struct {
	DB *sql.DB
}

// Latest returns up to limit events, newest first, optionally for one run.
func (r Reader) Latest(ctx context.Context, limit int, runID string) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	clauses := []string{"1=1"}
	var args []any
	if runID != "" {
		clauses = append(clauses, "run_id=?")
		args = append(args, runID)
	}
	query := fmt.Sprintf(`SELECT id,ts,run_id,offer_id,stage,outcome,duration_ms,error FROM stage_events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Event{}
	for rows.Next() {
		var e Event
		var errText sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.RunID, &e.OfferID, &e.Stage, &e.Outcome, &e.DurationMS, &errText); err != nil {
			return nil, err
		}
		if errText.Valid {
			e.Error = errText.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// Run summarizes one consumption run.
type Run struct {
	RunID       string `json:"run_id"`
	OfferID     string `json:"offer_id"`
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at"`
	Stages      int    `json:"stages"`
	DurationMS  int64  `json:"duration_ms"`
	FailedStage string `json:"failed_stage,omitempty"`
}

// Runs returns up to limit run summaries, most recently finished first.
func (r Reader) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT run_id,offer_id,started_at,finished_at,stages,duration_ms,failed_stage FROM run_summaries ORDER BY finished_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Run{}
	for rows.Next() {
		var run Run
		var failed sql.NullString
		if err := rows.Scan(&run.RunID, &run.OfferID, &run.StartedAt, &run.FinishedAt, &run.Stages, &run.DurationMS, &failed); err != nil {
			return nil, err
		}
		run.FailedStage = failed.String
		res = append(res, run)
	}
	return res, rows.Err()
}
