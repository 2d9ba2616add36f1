// Package telemetry records per-stage execution events and exports traces.
//
// The Recorder never blocks the caller. Events go through a buffered channel
// drained by a single goroutine; when the buffer is full the event is dropped
// and counted. Flush waits for everything enqueued so far to be applied.
package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentoven/uiforge/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultBufferSize is used when NewRecorder is given a non-positive size.
const DefaultBufferSize = 1024

type scoreNote struct {
	runID string
	stage string
	score models.QualityScore
}

type message struct {
	event   *models.TelemetryEvent
	score   *scoreNote
	forget  string
	barrier chan struct{}
}

type runLog struct {
	events     []models.TelemetryEvent
	finalScore *models.QualityScore
	scoreStage string
}

// Recorder is an append-only, per-run event log.
type Recorder struct {
	in   chan message
	done chan struct{}

	closeMu sync.RWMutex
	closed  bool

	mu   sync.RWMutex
	runs map[string]*runLog

	dropped atomic.Int64
}

// NewRecorder starts the drain goroutine. Call Close to stop it.
func NewRecorder(bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	r := &Recorder{
		in:   make(chan message, bufferSize),
		done: make(chan struct{}),
		runs: make(map[string]*runLog),
	}
	go r.drain()
	return r
}

// Record enqueues an event without blocking. Returns false if it was dropped.
func (r *Recorder) Record(ev models.TelemetryEvent) bool {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if ev.DurationMs == 0 && ev.Duration > 0 {
		ev.DurationMs = ev.Duration.Milliseconds()
	}
	return r.send(message{event: &ev})
}

// RecordScore annotates the run with the score its output was accepted at.
func (r *Recorder) RecordScore(runID, stage string, score models.QualityScore) bool {
	return r.send(message{score: &scoreNote{runID: runID, stage: stage, score: score}})
}

// Forget drops a run's events once nobody needs its summary.
func (r *Recorder) Forget(runID string) bool {
	return r.send(message{forget: runID})
}

// Dropped returns how many messages were discarded because the buffer was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) send(m message) bool {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.in <- m:
		return true
	default:
		n := r.dropped.Add(1)
		log.Warn().Int64("dropped", n).Msg("⚠️ Telemetry buffer full, dropping event")
		return false
	}
}

// Flush blocks until every message enqueued before the call has been applied,
// or ctx ends.
func (r *Recorder) Flush(ctx context.Context) error {
	r.closeMu.RLock()
	if r.closed {
		r.closeMu.RUnlock()
		return nil
	}
	barrier := make(chan struct{})
	select {
	case r.in <- message{barrier: barrier}:
	case <-ctx.Done():
		r.closeMu.RUnlock()
		return ctx.Err()
	}
	r.closeMu.RUnlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for the drain goroutine to finish.
func (r *Recorder) Close() {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return
	}
	r.closed = true
	close(r.in)
	r.closeMu.Unlock()
	<-r.done
}

func (r *Recorder) drain() {
	defer close(r.done)
	for m := range r.in {
		r.apply(m)
	}
}

func (r *Recorder) apply(m message) {
	switch {
	case m.barrier != nil:
		close(m.barrier)
	case m.event != nil:
		r.mu.Lock()
		rl := r.runLocked(m.event.RunID)
		rl.events = append(rl.events, *m.event)
		r.mu.Unlock()
	case m.score != nil:
		r.mu.Lock()
		rl := r.runLocked(m.score.runID)
		s := m.score.score
		rl.finalScore = &s
		rl.scoreStage = m.score.stage
		r.mu.Unlock()
	case m.forget != "":
		r.mu.Lock()
		delete(r.runs, m.forget)
		r.mu.Unlock()
	}
}

func (r *Recorder) runLocked(runID string) *runLog {
	rl, ok := r.runs[runID]
	if !ok {
		rl = &runLog{}
		r.runs[runID] = rl
	}
	return rl
}

// Events returns a copy of the events applied so far for runID, in arrival order.
func (r *Recorder) Events(runID string) []models.TelemetryEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rl, ok := r.runs[runID]
	if !ok {
		return nil
	}
	out := make([]models.TelemetryEvent, len(rl.events))
	copy(out, rl.events)
	return out
}

// Summarize aggregates the applied events for runID. The second return is
// false when nothing was recorded for the run.
func (r *Recorder) Summarize(runID string) (models.TelemetrySummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rl, ok := r.runs[runID]
	if !ok {
		return models.TelemetrySummary{}, false
	}
	return summarize(runID, rl), true
}

func summarize(runID string, rl *runLog) models.TelemetrySummary {
	sum := models.TelemetrySummary{
		RunID:           runID,
		Events:          len(rl.events),
		Attempts:        make(map[string]int),
		RetryableErrors: make(map[models.ErrorKind]int),
	}
	if rl.finalScore != nil {
		s := *rl.finalScore
		sum.FinalScore = &s
	}

	var first, last time.Time
	iterations := make(map[string]int)
	for _, ev := range rl.events {
		end := ev.At.Add(ev.Duration)
		if first.IsZero() || ev.At.Before(first) {
			first = ev.At
		}
		if end.After(last) {
			last = end
		}

		sum.Attempts[ev.Stage]++
		if ev.Refinement && ev.Iteration > iterations[ev.Stage] {
			iterations[ev.Stage] = ev.Iteration
		}

		switch ev.Outcome {
		case models.OutcomeSuccess:
			sum.Successes++
		case models.OutcomeTransient:
			sum.Failures++
			sum.RetryableErrors[models.KindTransient]++
		case models.OutcomeRateLimited:
			sum.Failures++
			sum.RetryableErrors[models.KindRateLimited]++
		default:
			sum.Failures++
		}
	}

	for _, n := range iterations {
		sum.RefinementIterations += n
	}

	if !first.IsZero() {
		sum.WallTime = last.Sub(first)
		sum.WallTimeMs = sum.WallTime.Milliseconds()
	}
	return sum
}
