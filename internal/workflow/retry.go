package workflow

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/agentoven/uiforge/internal/agent"
	"github.com/agentoven/uiforge/internal/pipeline"
	"github.com/agentoven/uiforge/pkg/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// callMeta tags the telemetry of one logical model call.
type callMeta struct {
	refinement bool
	iteration  int
	// scoring calls parse their reply as a QualityScore, which is carried
	// on both the result and the attempt's telemetry event.
	scoring bool
}

// invokeWithRetry performs one logical stage call with the retry policy:
//   - transient failures back off exponentially, up to StageRetries attempts
//   - rate-limited failures wait the requested (or configured) delay, with a
//     separate budget of RateLimitRetries
//   - rejected content switches once to the stage's fallback role, if any
//   - everything else fails immediately
//
// Attempts are strictly sequential. Every attempt is recorded to telemetry.
func (e *Engine) invokeWithRetry(ctx context.Context, r *runState, st pipeline.Stage, in StageInput, meta callMeta) (*models.StageResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.opts.BackoffInitial
	bo.MaxInterval = e.opts.BackoffMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	depth := r.depth
	if st.Depth != "" {
		depth = st.Depth
	}

	var attachments []agent.Attachment
	if st.Consumes(pipeline.InputImage) && len(in.ReferenceImage) > 0 {
		attachments = append(attachments, agent.Attachment{
			MimeType: http.DetectContentType(in.ReferenceImage),
			Data:     in.ReferenceImage,
		})
	}

	transientAttempts := 1
	rateLimitRetries := 0
	fellBack := false
	role := st.Role

	for {
		stage := st
		stage.Role = role
		prompt, err := e.renderer.Render(stage, in)
		if err != nil {
			return nil, agent.Invalidf("render prompt for %s: %v", st.Name, err)
		}

		attempt := r.nextAttempt(st.Name)
		start := time.Now()
		res, err := e.invoker.Invoke(ctx, string(role), prompt, in.Context, depth, attachments...)
		elapsed := time.Since(start)

		kind := agent.KindOf(err)
		outcome := models.OutcomeSuccess
		if err != nil {
			outcome = models.OutcomeFor(kind)
		}
		ev := models.TelemetryEvent{
			RunID:      r.id,
			Stage:      st.Name,
			Attempt:    attempt,
			Duration:   elapsed,
			Outcome:    outcome,
			Refinement: meta.refinement,
			Iteration:  meta.iteration,
			At:         start.UTC(),
		}
		if err == nil && meta.scoring {
			score := ParseScore(res.Content)
			res.Score = &score
			logged := score
			ev.Score = &logged
		}
		e.recorder.Record(ev)

		if err == nil {
			res.Stage = st.Name
			res.Attempt = attempt
			return res, nil
		}

		var delay time.Duration
		switch kind {
		case models.KindTransient:
			if transientAttempts >= e.opts.StageRetries {
				return nil, err
			}
			transientAttempts++
			delay = bo.NextBackOff()

		case models.KindRateLimited:
			if rateLimitRetries >= e.opts.RateLimitRetries {
				return nil, err
			}
			rateLimitRetries++
			delay = e.opts.RateLimitDelay
			if d, ok := agent.RetryAfter(err); ok {
				delay = d
			}

		case models.KindRejectedContent:
			if st.Fallback == "" || fellBack {
				return nil, err
			}
			fellBack = true
			log.Warn().
				Str("run_id", r.id).
				Str("stage", st.Name).
				Str("fallback", string(st.Fallback)).
				Err(err).
				Msg("Content rejected, running fallback role")
			role = st.Fallback
			continue

		default:
			return nil, err
		}

		log.Warn().
			Str("run_id", r.id).
			Str("stage", st.Name).
			Str("kind", string(kind)).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying stage")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("waiting to retry %s: %w", st.Name, ctx.Err())
		case <-t.C:
		}
	}
}
