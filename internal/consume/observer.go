package consume

import (
	"context"
	"log"
	"time"
)

// StageEvent is emitted once per executed stage.
type StageEvent struct {
	RunID    string
	OfferID  string
	Stage    Stage
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Outcome is "ok" or "failed".
func (e StageEvent) Outcome() string {
	if e.Err != nil {
		return "failed"
	}
	return "ok"
}

// Observer receives stage events. Implementations must not block for long:
// they run inline between stages.
type Observer interface {
	ObserveStage(ctx context.Context, evt StageEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, evt StageEvent)

func (f ObserverFunc) ObserveStage(ctx context.Context, evt StageEvent) { f(ctx, evt) }

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) ObserveStage(ctx context.Context, evt StageEvent) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveStage(ctx, evt)
		}
	}
}

// LogObserver writes one line per stage.
type LogObserver struct {
	Logger *log.Logger
}

func (l LogObserver) ObserveStage(_ context.Context, evt StageEvent) {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	if evt.Err != nil {
		logger.Printf("consume: run=%s offer=%s stage=%s duration=%s outcome=%s err=%v",
			evt.RunID, evt.OfferID, evt.Stage, evt.Duration, evt.Outcome(), evt.Err)
		return
	}
	logger.Printf("consume: run=%s offer=%s stage=%s duration=%s outcome=%s",
		evt.RunID, evt.OfferID, evt.Stage, evt.Duration, evt.Outcome())
}
